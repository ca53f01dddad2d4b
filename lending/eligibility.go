package lending

import (
	"github.com/google/uuid"
)

// EligibilitySpec describes one borrow request for eligibility resolution.
type EligibilitySpec struct {
	RequestingOrgID uuid.UUID
	Scope           RequestScope
	CircleID        uuid.UUID // required for ScopeCircle
	Location        string
	Window          Interval
}

// ResolveEligible computes the set of workers permitted to receive an offer
// for the given request, as a one-time snapshot at request-creation time.
//
// It is a pure function: the storage engine gathers the inputs (candidate
// profiles per scope, the partner relation, each candidate's existing booking
// intervals across all organizations) and re-validates the winner at accept
// time, so this computation needs no locking.
//
// Rules by scope:
//   - internal: any worker affiliated with the requesting organization.
//   - circle: visibility must be public or circle_only (never off), and the
//     requesting organization must be a recognized partner of the worker's
//     home organization.
//   - local: visibility must be public and the extra-hours flag set;
//     circle_only and off workers never appear in local results.
//
// Regardless of scope a worker already booked anywhere during the request
// window is excluded. The result is deduplicated, preserving input order.
func ResolveEligible(
	spec EligibilitySpec,
	candidates []WorkerProfile,
	requesterIsPartnerOf map[uuid.UUID]bool,
	busy map[uuid.UUID][]Interval,
) []WorkerRef {

	eligible := make([]WorkerRef, 0, len(candidates))
	seen := make(map[uuid.UUID]struct{}, len(candidates))

	for _, candidate := range candidates {
		if _, dup := seen[candidate.Ref.ID]; dup {
			continue
		}

		if !matchesScope(spec, candidate, requesterIsPartnerOf) {
			continue
		}

		if _, conflict := spec.Window.FirstConflict(busy[candidate.Ref.ID]); conflict {
			continue
		}

		seen[candidate.Ref.ID] = struct{}{}
		eligible = append(eligible, candidate.Ref)
	}

	return eligible
}

func matchesScope(spec EligibilitySpec, candidate WorkerProfile, requesterIsPartnerOf map[uuid.UUID]bool) bool {
	switch spec.Scope {
	case ScopeInternal:
		return candidate.HomeOrgID == spec.RequestingOrgID

	case ScopeCircle:
		if candidate.Visibility == VisibilityOff {
			return false
		}

		return requesterIsPartnerOf[candidate.HomeOrgID]

	case ScopeLocal:
		if candidate.Location != spec.Location {
			return false
		}

		return candidate.Visibility == VisibilityPublic && candidate.ExtraHours

	default:
		return false
	}
}
