package lending

import (
	"time"

	"github.com/google/uuid"
)

// ShiftBooking is a committed, exclusive claim on a worker's time.
// For a fixed worker, no two bookings ever overlap on the half-open interval,
// regardless of the owning organization. Ownership may move between
// organizations via the release/take workflow, which reassigns OrgID on the
// existing row and never changes the interval.
type ShiftBooking struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	Worker     WorkerRef
	Interval   Interval
	IsReleased bool
	CreatedAt  time.Time
}

// ValidateNewBooking runs the pure checks of booking creation in contract
// order: structural validity, the duration ceiling, same-org overlap, then
// other-org overlap. The storage engine supplies the worker's existing
// bookings (all organizations) and must call this inside the same atomic unit
// as the insert.
func ValidateNewBooking(orgID uuid.UUID, candidate Interval, existing []ShiftBooking) *ConflictError {
	if err := candidate.Validate(); err != nil {
		return NewConflictError(ConflictInvalidInterval, nil)
	}

	if candidate.Duration() > MaxShiftDuration {
		return NewConflictError(ConflictDurationExceeded, nil)
	}

	var sameOrg, otherOrg []Interval
	for _, b := range existing {
		if b.OrgID == orgID {
			sameOrg = append(sameOrg, b.Interval)
		} else {
			otherOrg = append(otherOrg, b.Interval)
		}
	}

	if conflict, found := candidate.FirstConflict(sameOrg); found {
		return NewConflictError(ConflictSameOrg, &conflict)
	}

	if conflict, found := candidate.FirstConflict(otherOrg); found {
		return NewConflictError(ConflictOtherOrg, &conflict)
	}

	return nil
}
