package lending

import (
	"time"
)

// MaxShiftDuration is the labor-policy ceiling for a single shift.
// The boundary is inclusive: a shift of exactly this length is valid.
const MaxShiftDuration = 16 * time.Hour

// Interval is a half-open time span [Start, End). Touching edges do not
// overlap, so a shift ending at 17:00 and one starting at 17:00 coexist.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an Interval from its bounds without validation.
// Callers that persist intervals must validate with Validate or ValidateShift.
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Validate reports ErrInvalidInterval unless End is strictly after Start.
func (iv Interval) Validate() error {
	if !iv.End.After(iv.Start) {
		return ErrInvalidInterval
	}

	return nil
}

// ValidateShift applies the structural check plus the shift duration ceiling,
// in that order, short-circuiting on the first failure.
func (iv Interval) ValidateShift() error {
	if err := iv.Validate(); err != nil {
		return err
	}

	if iv.Duration() > MaxShiftDuration {
		return ErrDurationExceeded
	}

	return nil
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether two half-open intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

// Equal reports whether both bounds match to the instant.
func (iv Interval) Equal(other Interval) bool {
	return iv.Start.Equal(other.Start) && iv.End.Equal(other.End)
}

// FirstConflict scans existing intervals in order and returns the first one
// overlapping the candidate, for user-facing diagnostics. The second return
// value reports whether a conflict was found.
func (iv Interval) FirstConflict(existing []Interval) (Interval, bool) {
	for _, other := range existing {
		if iv.Overlaps(other) {
			return other, true
		}
	}

	return Interval{}, false
}
