package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shiftcircle/lending-engine-go/lending"
	"github.com/shiftcircle/lending-engine-go/lending/postgresengine/internal/adapters"
)

// CreateBooking decides whether a booking may be created for the worker and
// persists it. Checks run in contract order: structural validity, the 16 hour
// duration ceiling, overlap against the worker's bookings within the
// requesting organization, then overlap against any other organization.
//
// The overlap check and the insert execute inside one transaction holding the
// per-worker advisory lock, so concurrent writes to the same worker's
// timeline serialize and can never double-book.
func (e *Engine) CreateBooking(
	ctx context.Context,
	orgID uuid.UUID,
	worker lending.WorkerRef,
	interval lending.Interval,
) (lending.ShiftBooking, error) {

	observer, ctx := e.startOperation(ctx, operationCreateBooking)

	// cheap pure checks before touching the database
	if err := interval.ValidateShift(); err != nil {
		conflict := conflictFromValidation(err)
		observer.bookingConflict(conflict.Kind)
		return lending.ShiftBooking{}, conflict
	}

	booking := lending.ShiftBooking{
		ID:        uuid.New(),
		OrgID:     orgID,
		Worker:    worker,
		Interval:  interval,
		CreatedAt: time.Now().UTC(),
	}

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		return e.insertBookingGuarded(ctx, tx, booking)
	})
	if txErr != nil {
		var conflict *lending.ConflictError
		if errors.As(txErr, &conflict) {
			observer.bookingConflict(conflict.Kind)
			return lending.ShiftBooking{}, conflict
		}

		observer.failed(errorTypeDatabase)
		return lending.ShiftBooking{}, txErr
	}

	observer.succeeded(
		logAttrBookingID, booking.ID.String(),
		logAttrWorkerID, worker.ID.String(),
		logAttrOrgID, orgID.String(),
	)

	return booking, nil
}

// insertBookingGuarded re-validates the full booking contract against the
// worker's current timeline and inserts the row, all under the worker's
// advisory lock. Shared by direct creation and offer acceptance.
func (e *Engine) insertBookingGuarded(ctx context.Context, tx adapters.DBTx, booking lending.ShiftBooking) error {
	if err := e.lockWorkerTimeline(ctx, tx, booking.Worker.ID); err != nil {
		return err
	}

	filter, filterErr := lending.BuildBookingFilter().
		ForWorkers(booking.Worker.ID).
		OverlappingWindow(booking.Interval).
		Finalize()
	if filterErr != nil {
		return filterErr
	}

	existing, queryErr := e.queryBookings(ctx, tx, filter, operationCreateBooking)
	if queryErr != nil {
		return queryErr
	}

	if conflict := lending.ValidateNewBooking(booking.OrgID, booking.Interval, existing); conflict != nil {
		return conflict
	}

	sqlQuery, buildErr := e.buildInsertBooking(booking)
	if buildErr != nil {
		e.logError(ctx, logMsgBuildQueryFailed, buildErr)
		return buildErr
	}

	if _, err := e.execStatement(ctx, tx, sqlQuery, operationCreateBooking); err != nil {
		return err
	}

	return nil
}

// QueryBookings returns the bookings matching the filter, ordered by start
// time. It is a pure read: with a replica configured and
// lending.WithEventualConsistency on the context it reads from the replica.
func (e *Engine) QueryBookings(ctx context.Context, filter lending.BookingFilter) ([]lending.ShiftBooking, error) {
	observer, ctx := e.startOperation(ctx, operationQueryBookings)

	bookings, err := e.queryBookings(ctx, e.db, filter, operationQueryBookings)
	if err != nil {
		observer.failed(errorTypeDatabase)
		return nil, err
	}

	observer.succeeded("booking_count", len(bookings))

	return bookings, nil
}

// conflictFromValidation maps the pure interval validation sentinels onto the
// typed conflict result.
func conflictFromValidation(err error) *lending.ConflictError {
	if errors.Is(err, lending.ErrDurationExceeded) {
		return lending.NewConflictError(lending.ConflictDurationExceeded, nil)
	}

	return lending.NewConflictError(lending.ConflictInvalidInterval, nil)
}
