package lending

import (
	"errors"
	"fmt"
)

// Booking validation failures, shared by booking creation and offer acceptance.
var (
	ErrInvalidInterval   = errors.New("invalid interval, end must be after start")
	ErrDurationExceeded  = errors.New("shift duration exceeds the 16 hour ceiling")
	ErrConflictSameOrg   = errors.New("worker already booked by this organization in that interval")
	ErrConflictOtherOrg  = errors.New("worker already booked by another organization in that interval")
	ErrNoEligibleWorkers = errors.New("no eligible workers for this request")
	ErrMissingCircle     = errors.New("circle scope requires a circle id")
)

// State machine outcomes. Losing a race (second accept, second take) is an
// expected user-facing outcome, not a system fault; callers match these with
// errors.Is and render "no longer available" messages.
var (
	ErrAlreadyFilled   = errors.New("borrow request is already filled")
	ErrAlreadyTaken    = errors.New("release offer is already taken")
	ErrAlreadyReleased = errors.New("booking is already released")
	ErrNotFound        = errors.New("record not found")
	ErrNotOwner        = errors.New("record is not owned by the calling organization")
)

// Infrastructure and configuration failures.
var (
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrEmptyTableName        = errors.New("empty table name supplied")
	ErrNilDirectory          = errors.New("worker and circle directories must not be nil")
	ErrQueryFailed           = errors.New("querying the database failed")
	ErrExecFailed            = errors.New("executing the database statement failed")
	ErrScanningRowFailed     = errors.New("scanning database row failed")
	ErrBuildingQueryFailed   = errors.New("building the sql query failed")
	ErrTxFailed              = errors.New("database transaction failed")
)

// ConflictKind names the validation check a booking attempt failed.
type ConflictKind string

const (
	ConflictInvalidInterval  ConflictKind = "invalid_interval"
	ConflictDurationExceeded ConflictKind = "duration_exceeded"
	ConflictSameOrg          ConflictKind = "conflict_same_org"
	ConflictOtherOrg         ConflictKind = "conflict_other_org"
)

// ConflictError is the typed result of a failed booking validation. It wraps
// the matching sentinel so callers can use errors.Is, and carries the first
// conflicting interval (when one exists) for diagnostics.
type ConflictError struct {
	Kind        ConflictKind
	Conflicting *Interval
}

func (e *ConflictError) Error() string {
	if e.Conflicting != nil {
		return fmt.Sprintf("booking conflict (%s): conflicting interval [%s, %s)",
			e.Kind, e.Conflicting.Start.Format("2006-01-02 15:04"), e.Conflicting.End.Format("2006-01-02 15:04"))
	}

	return fmt.Sprintf("booking conflict (%s)", e.Kind)
}

// Unwrap maps the conflict kind back to its sentinel.
func (e *ConflictError) Unwrap() error {
	switch e.Kind {
	case ConflictInvalidInterval:
		return ErrInvalidInterval
	case ConflictDurationExceeded:
		return ErrDurationExceeded
	case ConflictSameOrg:
		return ErrConflictSameOrg
	case ConflictOtherOrg:
		return ErrConflictOtherOrg
	default:
		return nil
	}
}

// NewConflictError builds a ConflictError; conflicting may be nil for the
// structural and duration kinds.
func NewConflictError(kind ConflictKind, conflicting *Interval) *ConflictError {
	return &ConflictError{Kind: kind, Conflicting: conflicting}
}
