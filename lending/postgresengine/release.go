package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/shiftcircle/lending-engine-go/lending"
	"github.com/shiftcircle/lending-engine-go/lending/postgresengine/internal/adapters"
)

// CreateReleaseOffer marks a booking as released and publishes an open
// release offer for it. Owner-only; a booking can carry at most one live
// release, enforced by the is_released compare-and-set.
func (e *Engine) CreateReleaseOffer(ctx context.Context, bookingID, fromOrgID uuid.UUID) (lending.ReleaseOffer, error) {
	observer, ctx := e.startOperation(ctx, operationCreateRelease)

	release := lending.ReleaseOffer{
		ID:        uuid.New(),
		FromOrgID: fromOrgID,
		BookingID: bookingID,
		Status:    lending.ReleaseOpen,
		CreatedAt: time.Now().UTC(),
	}

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		rowsAffected, casErr := e.casBookingReleased(ctx, tx, bookingID, fromOrgID, true)
		if casErr != nil {
			return casErr
		}

		if rowsAffected == 0 {
			return e.classifyReleaseCASFailure(ctx, tx, bookingID, fromOrgID)
		}

		return e.insertRelease(ctx, tx, release)
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, lending.ErrAlreadyReleased):
			observer.lostRace()
		case errors.Is(txErr, lending.ErrNotFound), errors.Is(txErr, lending.ErrNotOwner):
			observer.failed(errorTypeNotFound)
		default:
			observer.failed(errorTypeDatabase)
		}

		return lending.ReleaseOffer{}, txErr
	}

	observer.succeeded(
		logAttrBookingID, bookingID.String(),
		logAttrOrgID, fromOrgID.String(),
	)

	return release, nil
}

// classifyReleaseCASFailure explains a zero-rows release: missing booking,
// wrong owner, or already released.
func (e *Engine) classifyReleaseCASFailure(
	ctx context.Context,
	runner adapters.Runner,
	bookingID, fromOrgID uuid.UUID,
) error {

	booking, loadErr := e.bookingByID(ctx, runner, bookingID, operationCreateRelease)
	if loadErr != nil {
		return loadErr
	}

	if booking.OrgID != fromOrgID {
		return lending.ErrNotOwner
	}

	if booking.IsReleased {
		return lending.ErrAlreadyReleased
	}

	return lending.ErrNotFound
}

// TakeReleaseOffer transfers ownership of a released booking to the taking
// organization. Exactly one of N concurrent takes can win the open→taken
// compare-and-set; the others get lending.ErrAlreadyTaken. The booking keeps
// its interval and worker, only org_id changes, so the timeline invariant
// cannot be violated and no overlap re-check is needed.
//
// The releasing organization decides who may take: the taker must be a
// recognized circle partner of the releasing organization. Non-partners are
// told lending.ErrNotFound rather than that an offer exists.
func (e *Engine) TakeReleaseOffer(ctx context.Context, offerID, takingOrgID uuid.UUID) (lending.ShiftBooking, error) {
	observer, ctx := e.startOperation(ctx, operationTakeRelease)

	release, loadErr := e.releaseByID(ctx, e.db, offerID)
	if loadErr != nil {
		observer.failed(errorTypeNotFound)
		return lending.ShiftBooking{}, loadErr
	}

	visible, visErr := e.releaseVisibleTo(ctx, release, takingOrgID)
	if visErr != nil {
		observer.failed(errorTypeDatabase)
		return lending.ShiftBooking{}, visErr
	}
	if !visible {
		observer.failed(errorTypeNotFound)
		return lending.ShiftBooking{}, lending.ErrNotFound
	}

	switch release.Status {
	case lending.ReleaseTaken:
		observer.lostRace()
		return lending.ShiftBooking{}, lending.ErrAlreadyTaken
	case lending.ReleaseCancelled:
		observer.failed(errorTypeNotFound)
		return lending.ShiftBooking{}, lending.ErrNotFound
	}

	var booking lending.ShiftBooking

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		rowsAffected, casErr := e.casReleaseTaken(ctx, tx, offerID, takingOrgID)
		if casErr != nil {
			return casErr
		}

		if rowsAffected == 0 {
			// the offer changed under us between the read and the CAS
			current, reloadErr := e.releaseByID(ctx, tx, offerID)
			if reloadErr != nil {
				return reloadErr
			}

			if current.Status == lending.ReleaseTaken {
				return lending.ErrAlreadyTaken
			}

			return lending.ErrNotFound
		}

		if err := e.transferBooking(ctx, tx, release.BookingID, takingOrgID); err != nil {
			return err
		}

		transferred, bookingErr := e.bookingByID(ctx, tx, release.BookingID, operationTakeRelease)
		if bookingErr != nil {
			return bookingErr
		}
		booking = transferred

		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, lending.ErrAlreadyTaken) {
			observer.lostRace()
		} else if errors.Is(txErr, lending.ErrNotFound) {
			observer.failed(errorTypeNotFound)
		} else {
			observer.failed(errorTypeDatabase)
		}

		return lending.ShiftBooking{}, txErr
	}

	e.notify(ctx, lending.Notification{
		Kind:       lending.NotifyReleaseTaken,
		OccurredAt: time.Now().UTC(),
		OfferID:    offerID,
		BookingID:  booking.ID,
		Worker:     booking.Worker,
		OrgID:      takingOrgID,
	})

	observer.succeeded(
		logAttrOfferID, offerID.String(),
		logAttrBookingID, booking.ID.String(),
		logAttrOrgID, takingOrgID.String(),
	)

	return booking, nil
}

// releaseVisibleTo reports whether takingOrgID may see and act on the
// release. The releasing organization itself never takes its own release.
func (e *Engine) releaseVisibleTo(ctx context.Context, release lending.ReleaseOffer, takingOrgID uuid.UUID) (bool, error) {
	if takingOrgID == release.FromOrgID {
		return false, nil
	}

	return e.circles.IsRecognizedPartner(ctx, release.FromOrgID, takingOrgID)
}

// CancelReleaseOffer withdraws an open release offer and clears the released
// flag on the booking. Owner-only; a taken release can no longer be
// cancelled.
func (e *Engine) CancelReleaseOffer(ctx context.Context, offerID, fromOrgID uuid.UUID) error {
	observer, ctx := e.startOperation(ctx, operationCancelRelease)

	var bookingID uuid.UUID
	idempotent := false

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		release, loadErr := e.releaseByID(ctx, tx, offerID)
		if loadErr != nil {
			return loadErr
		}

		if release.FromOrgID != fromOrgID {
			return lending.ErrNotOwner
		}
		bookingID = release.BookingID

		rowsAffected, casErr := e.casReleaseCancelled(ctx, tx, offerID, fromOrgID)
		if casErr != nil {
			return casErr
		}

		if rowsAffected == 0 {
			// the offer changed under us between the read and the CAS
			current, reloadErr := e.releaseByID(ctx, tx, offerID)
			if reloadErr != nil {
				return reloadErr
			}

			if current.Status == lending.ReleaseTaken {
				return lending.ErrAlreadyTaken
			}

			// already cancelled
			idempotent = true

			return nil
		}

		return e.clearBookingReleased(ctx, tx, release.BookingID, fromOrgID)
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, lending.ErrAlreadyTaken):
			observer.lostRace()
		case errors.Is(txErr, lending.ErrNotFound), errors.Is(txErr, lending.ErrNotOwner):
			observer.failed(errorTypeNotFound)
		default:
			observer.failed(errorTypeDatabase)
		}

		return txErr
	}

	if idempotent {
		observer.succeeded(logAttrOfferID, offerID.String(), "idempotent", true)
		return nil
	}

	e.notify(ctx, lending.Notification{
		Kind:       lending.NotifyReleaseCancelled,
		OccurredAt: time.Now().UTC(),
		OfferID:    offerID,
		BookingID:  bookingID,
		OrgID:      fromOrgID,
	})

	observer.succeeded(logAttrOfferID, offerID.String())

	return nil
}

/***** releases: select / scan / cas *****/

// casBookingReleased flips is_released on an owned booking; the released
// guard makes re-releasing a zero-rows no-op.
func (e *Engine) casBookingReleased(
	ctx context.Context,
	tx adapters.DBTx,
	bookingID, orgID uuid.UUID,
	released bool,
) (int64, error) {

	sqlQuery, _, toSQLErr := e.builder().
		Update(e.tables.Bookings).
		Set(goqu.Record{colIsReleased: released}).
		Where(
			goqu.C(colID).Eq(bookingID.String()),
			goqu.C(colOrgID).Eq(orgID.String()),
			goqu.C(colIsReleased).Eq(!released),
		).
		ToSQL()
	if toSQLErr != nil {
		return 0, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	return e.execStatement(ctx, tx, sqlQuery, operationCreateRelease)
}

func (e *Engine) clearBookingReleased(ctx context.Context, tx adapters.DBTx, bookingID, orgID uuid.UUID) error {
	rowsAffected, err := e.casBookingReleased(ctx, tx, bookingID, orgID, false)
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return lending.ErrNotFound
	}

	return nil
}

func (e *Engine) insertRelease(ctx context.Context, tx adapters.DBTx, release lending.ReleaseOffer) error {
	sqlQuery, _, toSQLErr := e.builder().
		Insert(e.tables.Releases).
		Rows(goqu.Record{
			colID:        release.ID.String(),
			colFromOrgID: release.FromOrgID.String(),
			colBookingID: release.BookingID.String(),
			colStatus:    string(release.Status),
			colCreatedAt: release.CreatedAt,
		}).
		ToSQL()
	if toSQLErr != nil {
		return errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	_, execErr := e.execStatement(ctx, tx, sqlQuery, operationCreateRelease)

	return execErr
}

func (e *Engine) casReleaseTaken(ctx context.Context, tx adapters.DBTx, offerID, takingOrgID uuid.UUID) (int64, error) {
	sqlQuery, _, toSQLErr := e.builder().
		Update(e.tables.Releases).
		Set(goqu.Record{
			colStatus:       string(lending.ReleaseTaken),
			colTakenByOrgID: takingOrgID.String(),
		}).
		Where(
			goqu.C(colID).Eq(offerID.String()),
			goqu.C(colStatus).Eq(string(lending.ReleaseOpen)),
		).
		ToSQL()
	if toSQLErr != nil {
		return 0, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	return e.execStatement(ctx, tx, sqlQuery, operationTakeRelease)
}

func (e *Engine) casReleaseCancelled(ctx context.Context, tx adapters.DBTx, offerID, fromOrgID uuid.UUID) (int64, error) {
	sqlQuery, _, toSQLErr := e.builder().
		Update(e.tables.Releases).
		Set(goqu.Record{colStatus: string(lending.ReleaseCancelled)}).
		Where(
			goqu.C(colID).Eq(offerID.String()),
			goqu.C(colFromOrgID).Eq(fromOrgID.String()),
			goqu.C(colStatus).Eq(string(lending.ReleaseOpen)),
		).
		ToSQL()
	if toSQLErr != nil {
		return 0, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	return e.execStatement(ctx, tx, sqlQuery, operationCancelRelease)
}

// transferBooking hands the booking to its new organization and clears the
// released flag. Interval and worker stay untouched.
func (e *Engine) transferBooking(ctx context.Context, tx adapters.DBTx, bookingID, newOrgID uuid.UUID) error {
	sqlQuery, _, toSQLErr := e.builder().
		Update(e.tables.Bookings).
		Set(goqu.Record{
			colOrgID:      newOrgID.String(),
			colIsReleased: false,
		}).
		Where(goqu.C(colID).Eq(bookingID.String())).
		ToSQL()
	if toSQLErr != nil {
		return errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	rowsAffected, execErr := e.execStatement(ctx, tx, sqlQuery, operationTakeRelease)
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		return lending.ErrNotFound
	}

	return nil
}

// releaseByID loads one release offer; lending.ErrNotFound when it does not exist.
func (e *Engine) releaseByID(ctx context.Context, runner adapters.Runner, offerID uuid.UUID) (lending.ReleaseOffer, error) {
	sqlQuery, _, toSQLErr := e.builder().
		From(e.tables.Releases).
		Select(
			goqu.C(colID),
			goqu.C(colFromOrgID),
			goqu.C(colBookingID),
			goqu.COALESCE(goqu.C(colTakenByOrgID), uuid.Nil.String()).As(colTakenByOrgID),
			goqu.C(colStatus),
			goqu.C(colCreatedAt),
		).
		Where(goqu.C(colID).Eq(offerID.String())).
		ToSQL()
	if toSQLErr != nil {
		return lending.ReleaseOffer{}, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	var release lending.ReleaseOffer
	found := false

	scanErr := e.runQuery(ctx, runner, sqlQuery, operationTakeRelease, func(rows adapters.DBRows) error {
		scanned, err := e.scanRelease(ctx, rows)
		if err != nil {
			return err
		}

		release = scanned
		found = true

		return nil
	})
	if scanErr != nil {
		return lending.ReleaseOffer{}, scanErr
	}

	if !found {
		return lending.ReleaseOffer{}, lending.ErrNotFound
	}

	return release, nil
}

func (e *Engine) scanRelease(ctx context.Context, rows adapters.DBRows) (lending.ReleaseOffer, error) {
	var (
		idStr, fromOrgStr, bookingStr, takenByStr, statusStr string
		createdAt                                            time.Time
	)

	if err := rows.Scan(&idStr, &fromOrgStr, &bookingStr, &takenByStr, &statusStr, &createdAt); err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return lending.ReleaseOffer{}, errors.Join(lending.ErrScanningRowFailed, err)
	}

	id, idErr := uuid.Parse(idStr)
	fromOrgID, fromErr := uuid.Parse(fromOrgStr)
	bookingID, bookingErr := uuid.Parse(bookingStr)
	takenByOrgID, takenErr := uuid.Parse(takenByStr)
	if err := errors.Join(idErr, fromErr, bookingErr, takenErr); err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return lending.ReleaseOffer{}, errors.Join(lending.ErrScanningRowFailed, err)
	}

	return lending.ReleaseOffer{
		ID:           id,
		FromOrgID:    fromOrgID,
		BookingID:    bookingID,
		TakenByOrgID: takenByOrgID,
		Status:       lending.ReleaseStatus(statusStr),
		CreatedAt:    createdAt,
	}, nil
}
