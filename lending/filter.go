package lending

import (
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrEmptyFilter is returned by Finalize when no criterion was set.
	ErrEmptyFilter = errors.New("booking filter needs at least one criterion")

	// ErrInvalidFilterWindow is returned when the overlap window is malformed.
	ErrInvalidFilterWindow = errors.New("booking filter window end must be after start")
)

// BookingFilter is a storage-agnostic description of a bookings query, built
// with BuildBookingFilter and translated into the specific query language by
// the storage engines. It only allows the combinations the engine's read
// paths actually need: worker sets, ownership, overlap windows, release state.
type BookingFilter struct {
	workers      []uuid.UUID
	ownedBy      *uuid.UUID
	excludedOrg  *uuid.UUID
	window       *Interval
	releasedOnly bool
}

// Workers returns the filtered worker IDs, possibly empty.
func (f BookingFilter) Workers() []uuid.UUID { return f.workers }

// OwnedBy returns the owning-organization criterion, when set.
func (f BookingFilter) OwnedBy() (uuid.UUID, bool) {
	if f.ownedBy == nil {
		return uuid.UUID{}, false
	}
	return *f.ownedBy, true
}

// ExcludedOrg returns the excluded-organization criterion, when set.
func (f BookingFilter) ExcludedOrg() (uuid.UUID, bool) {
	if f.excludedOrg == nil {
		return uuid.UUID{}, false
	}
	return *f.excludedOrg, true
}

// Window returns the overlap window, when set. A booking matches when its
// half-open interval overlaps the window, not when it is contained in it.
func (f BookingFilter) Window() (Interval, bool) {
	if f.window == nil {
		return Interval{}, false
	}
	return *f.window, true
}

// ReleasedOnly reports whether only released bookings match.
func (f BookingFilter) ReleasedOnly() bool { return f.releasedOnly }

// BookingFilterBuilder accumulates criteria and validates them on Finalize.
type BookingFilterBuilder struct {
	filter BookingFilter
}

// BuildBookingFilter starts a new filter; it must be finalized with Finalize.
func BuildBookingFilter() BookingFilterBuilder {
	return BookingFilterBuilder{}
}

// ForWorkers restricts the filter to the given workers. Input is sanitized:
// zero IDs are dropped, the rest sorted and deduplicated.
func (b BookingFilterBuilder) ForWorkers(workerIDs ...uuid.UUID) BookingFilterBuilder {
	all := slices.Clone(workerIDs)
	all = slices.DeleteFunc(all, func(id uuid.UUID) bool { return id == uuid.Nil })
	slices.SortFunc(all, func(x, y uuid.UUID) int { return strings.Compare(x.String(), y.String()) })
	all = slices.Compact(all)

	b.filter.workers = append(b.filter.workers, all...)

	return b
}

// OwnedBy restricts the filter to bookings owned by one organization.
func (b BookingFilterBuilder) OwnedBy(orgID uuid.UUID) BookingFilterBuilder {
	b.filter.ownedBy = &orgID
	return b
}

// NotOwnedBy restricts the filter to bookings owned by any other organization
// (the busy-block view of a worker's timeline).
func (b BookingFilterBuilder) NotOwnedBy(orgID uuid.UUID) BookingFilterBuilder {
	b.filter.excludedOrg = &orgID
	return b
}

// OverlappingWindow restricts the filter to bookings whose interval overlaps
// the given half-open window.
func (b BookingFilterBuilder) OverlappingWindow(window Interval) BookingFilterBuilder {
	b.filter.window = &window
	return b
}

// OnlyReleased restricts the filter to bookings currently marked released.
func (b BookingFilterBuilder) OnlyReleased() BookingFilterBuilder {
	b.filter.releasedOnly = true
	return b
}

// Finalize validates the accumulated criteria and returns the filter.
func (b BookingFilterBuilder) Finalize() (BookingFilter, error) {
	f := b.filter

	if len(f.workers) == 0 && f.ownedBy == nil && f.excludedOrg == nil && f.window == nil && !f.releasedOnly {
		return BookingFilter{}, ErrEmptyFilter
	}

	if f.window != nil && !f.window.End.After(f.window.Start) {
		return BookingFilter{}, ErrInvalidFilterWindow
	}

	return f, nil
}
