package lending

import (
	"time"

	"github.com/google/uuid"
)

// RequestScope determines which worker pool a borrow request fans out to.
type RequestScope string

const (
	// ScopeInternal targets workers affiliated with the requesting organization.
	ScopeInternal RequestScope = "internal"

	// ScopeCircle targets workers of circle-partner organizations.
	ScopeCircle RequestScope = "circle"

	// ScopeLocal targets public, extra-hours workers in the request's location.
	ScopeLocal RequestScope = "local"
)

// RequestStatus is the lifecycle state of a BorrowRequest.
// open → filled (exactly one accepted offer) or open → closed (withdrawn).
type RequestStatus string

const (
	RequestOpen   RequestStatus = "open"
	RequestFilled RequestStatus = "filled"
	RequestClosed RequestStatus = "closed"
)

// BorrowRequest asks partner or public pools to fill one shift slot.
// A request carries exactly one slot: the first successful accept fills it
// and deterministically closes out every sibling offer.
type BorrowRequest struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	RoleKey   string
	Location  string
	Interval  Interval
	Scope     RequestScope
	CircleID  uuid.UUID // zero unless Scope == ScopeCircle
	Status    RequestStatus
	CreatedAt time.Time
}

// OfferStatus is the lifecycle state of a BorrowOffer.
// sent → accepted or sent → declined, both terminal.
type OfferStatus string

const (
	OfferSent     OfferStatus = "sent"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
)

// OfferClosedReason records why an offer reached the declined state. A worker
// who lost the accept race did not personally decline; the distinction is
// preserved for audit and notifications even though the status value matches.
type OfferClosedReason string

const (
	ClosedWorkerDeclined OfferClosedReason = "worker_declined"
	ClosedLostRace       OfferClosedReason = "lost_race"
	ClosedRequestClosed  OfferClosedReason = "request_closed"
)

// BorrowOffer is one worker's invitation to fill a request's slot.
// Exactly one offer exists per (request, worker) pair; the fan-out creates
// them in a single batch at request-creation time.
type BorrowOffer struct {
	ID           uuid.UUID
	RequestID    uuid.UUID
	Worker       WorkerRef
	Status       OfferStatus
	ClosedReason OfferClosedReason // empty while Status == sent
	CreatedAt    time.Time
}

// FanOutResult reports the outcome of creating a borrow request.
// OffersCreated may be zero; the request then stays open with no offers.
type FanOutResult struct {
	Request       BorrowRequest
	OffersCreated int
}
