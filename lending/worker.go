package lending

import (
	"github.com/google/uuid"
)

// WorkerKind distinguishes how a worker identity was resolved at the boundary.
// Real accounts and placeholder (demo / not-yet-registered) records share one
// identifier space; the engine never branches on the kind.
type WorkerKind string

const (
	WorkerKindAccount     WorkerKind = "account"
	WorkerKindPlaceholder WorkerKind = "placeholder"
)

// WorkerRef is the single resolved identity of a bookable worker.
// The ID alone keys all timeline state; Kind travels along for audit
// and notification purposes only.
type WorkerRef struct {
	ID   uuid.UUID
	Kind WorkerKind
}

// AccountWorker builds a WorkerRef for a real account.
func AccountWorker(id uuid.UUID) WorkerRef {
	return WorkerRef{ID: id, Kind: WorkerKindAccount}
}

// PlaceholderWorker builds a WorkerRef for a placeholder record.
func PlaceholderWorker(id uuid.UUID) WorkerRef {
	return WorkerRef{ID: id, Kind: WorkerKindPlaceholder}
}

// VisibilityScope is a worker's self-declared visibility for borrow offers.
type VisibilityScope string

const (
	// VisibilityPublic makes the worker reachable by circle and local requests.
	VisibilityPublic VisibilityScope = "public"

	// VisibilityCircleOnly restricts offers to circle-partner organizations.
	VisibilityCircleOnly VisibilityScope = "circle_only"

	// VisibilityOff excludes the worker from all cross-organization fan-outs.
	VisibilityOff VisibilityScope = "off"
)

// WorkerProfile is the point-in-time snapshot of a worker that a
// WorkerDirectory returns for eligibility resolution. Eligibility is computed
// once from these snapshots at request-creation time and never re-evaluated.
type WorkerProfile struct {
	Ref        WorkerRef
	HomeOrgID  uuid.UUID
	Location   string
	Visibility VisibilityScope
	ExtraHours bool
}
