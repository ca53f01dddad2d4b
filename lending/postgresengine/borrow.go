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

// CreateBorrowRequest creates a borrow request and fans out one offer per
// eligible worker. Eligibility is a one-time snapshot: the candidate pool,
// visibility settings, and busy intervals are read at this instant and never
// re-evaluated; the accept path re-validates the winner's timeline instead.
//
// An empty eligible set is not an error: the request is created open with
// zero offers.
func (e *Engine) CreateBorrowRequest(
	ctx context.Context,
	orgID uuid.UUID,
	roleKey string,
	location string,
	interval lending.Interval,
	scope lending.RequestScope,
	circleID uuid.UUID,
) (lending.FanOutResult, error) {

	observer, ctx := e.startOperation(ctx, operationCreateRequest)

	// a request that could never pass the accept-time validator is rejected early
	if err := interval.ValidateShift(); err != nil {
		conflict := conflictFromValidation(err)
		observer.bookingConflict(conflict.Kind)
		return lending.FanOutResult{}, conflict
	}

	spec := lending.EligibilitySpec{
		RequestingOrgID: orgID,
		Scope:           scope,
		CircleID:        circleID,
		Location:        location,
		Window:          interval,
	}

	eligible, resolveErr := e.resolveEligibleWorkers(ctx, spec)
	if resolveErr != nil {
		if errors.Is(resolveErr, lending.ErrMissingCircle) {
			observer.failed(errorTypeValidation)
		} else {
			observer.failed(errorTypeDatabase)
		}

		return lending.FanOutResult{}, resolveErr
	}

	now := time.Now().UTC()
	request := lending.BorrowRequest{
		ID:        uuid.New(),
		OrgID:     orgID,
		RoleKey:   roleKey,
		Location:  location,
		Interval:  interval,
		Scope:     scope,
		CircleID:  circleID,
		Status:    lending.RequestOpen,
		CreatedAt: now,
	}

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		if err := e.insertRequest(ctx, tx, request); err != nil {
			return err
		}

		if len(eligible) == 0 {
			return nil
		}

		return e.insertOffers(ctx, tx, request.ID, eligible, now)
	})
	if txErr != nil {
		observer.failed(errorTypeDatabase)
		return lending.FanOutResult{}, txErr
	}

	e.recordValue(ctx, metricOffersFannedOut, float64(len(eligible)), operationCreateRequest)
	observer.succeeded(
		logAttrRequestID, request.ID.String(),
		logAttrOrgID, orgID.String(),
		logAttrOffersCreated, len(eligible),
	)

	return lending.FanOutResult{Request: request, OffersCreated: len(eligible)}, nil
}

// EligibleWorkers previews the fan-out set a borrow request would produce
// right now, without creating anything. Returns lending.ErrNoEligibleWorkers
// when the set is empty.
func (e *Engine) EligibleWorkers(ctx context.Context, spec lending.EligibilitySpec) ([]lending.WorkerRef, error) {
	observer, ctx := e.startOperation(ctx, operationEligibleWorkers)

	if err := spec.Window.ValidateShift(); err != nil {
		conflict := conflictFromValidation(err)
		observer.bookingConflict(conflict.Kind)
		return nil, conflict
	}

	eligible, err := e.resolveEligibleWorkers(ctx, spec)
	if err != nil {
		if errors.Is(err, lending.ErrMissingCircle) {
			observer.failed(errorTypeValidation)
		} else {
			observer.failed(errorTypeDatabase)
		}

		return nil, err
	}

	if len(eligible) == 0 {
		observer.failed(errorTypeNoEligible)
		return nil, lending.ErrNoEligibleWorkers
	}

	observer.succeeded("eligible_count", len(eligible))

	return eligible, nil
}

// GetBorrowRequest loads one borrow request by ID.
func (e *Engine) GetBorrowRequest(ctx context.Context, requestID uuid.UUID) (lending.BorrowRequest, error) {
	observer, ctx := e.startOperation(ctx, operationGetRequest)

	request, err := e.requestByID(ctx, e.db, requestID)
	if err != nil {
		if errors.Is(err, lending.ErrNotFound) {
			observer.failed(errorTypeNotFound)
		} else {
			observer.failed(errorTypeDatabase)
		}

		return lending.BorrowRequest{}, err
	}

	observer.succeeded(logAttrRequestID, requestID.String())

	return request, nil
}

// OffersForRequest returns every offer of a request ordered by creation time,
// the read model behind worker inboxes and dispatcher views.
func (e *Engine) OffersForRequest(ctx context.Context, requestID uuid.UUID) ([]lending.BorrowOffer, error) {
	observer, ctx := e.startOperation(ctx, operationOffersForRequest)

	sqlQuery, _, toSQLErr := e.builder().
		From(e.tables.Offers).
		Select(selectOfferColumns()...).
		Where(goqu.C(colRequestID).Eq(requestID.String())).
		Order(goqu.I(colCreatedAt).Asc(), goqu.I(colID).Asc()).
		ToSQL()
	if toSQLErr != nil {
		e.logError(ctx, logMsgBuildQueryFailed, toSQLErr)
		observer.failed(errorTypeDatabase)
		return nil, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	offers := make([]lending.BorrowOffer, 0)

	scanErr := e.runQuery(ctx, e.db, sqlQuery, operationOffersForRequest, func(rows adapters.DBRows) error {
		offer, err := e.scanOffer(ctx, rows)
		if err != nil {
			return err
		}

		offers = append(offers, offer)

		return nil
	})
	if scanErr != nil {
		observer.failed(errorTypeDatabase)
		return nil, scanErr
	}

	observer.succeeded(logAttrRequestID, requestID.String(), "offer_count", len(offers))

	return offers, nil
}

// resolveEligibleWorkers gathers candidate snapshots from the directories and
// the busy intervals from the bookings table, then delegates to the pure
// resolver. Read-only; correctness comes from accept-time re-validation.
func (e *Engine) resolveEligibleWorkers(ctx context.Context, spec lending.EligibilitySpec) ([]lending.WorkerRef, error) {
	candidates, partners, err := e.gatherCandidates(ctx, spec)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	busy, busyErr := e.busyIntervals(ctx, candidates, spec.Window)
	if busyErr != nil {
		return nil, busyErr
	}

	return lending.ResolveEligible(spec, candidates, partners, busy), nil
}

func (e *Engine) gatherCandidates(ctx context.Context, spec lending.EligibilitySpec) (
	[]lending.WorkerProfile,
	map[uuid.UUID]bool,
	error,
) {

	switch spec.Scope {
	case lending.ScopeInternal:
		candidates, err := e.workers.WorkersForOrgs(ctx, []uuid.UUID{spec.RequestingOrgID})
		return candidates, nil, err

	case lending.ScopeCircle:
		if spec.CircleID == uuid.Nil {
			return nil, nil, lending.ErrMissingCircle
		}

		members, membersErr := e.circles.MembersOf(ctx, spec.CircleID)
		if membersErr != nil {
			return nil, nil, membersErr
		}

		candidates, workersErr := e.workers.WorkersForOrgs(ctx, members)
		if workersErr != nil {
			return nil, nil, workersErr
		}

		partners, partnersErr := e.partnerRelation(ctx, candidates, spec.RequestingOrgID)
		if partnersErr != nil {
			return nil, nil, partnersErr
		}

		return candidates, partners, nil

	case lending.ScopeLocal:
		candidates, err := e.workers.WorkersInLocation(ctx, spec.Location)
		return candidates, nil, err

	default:
		return nil, nil, lending.ErrNotFound
	}
}

// partnerRelation answers, per distinct home organization among the
// candidates, whether the requesting organization is one of its recognized
// circle partners.
func (e *Engine) partnerRelation(
	ctx context.Context,
	candidates []lending.WorkerProfile,
	requestingOrgID uuid.UUID,
) (map[uuid.UUID]bool, error) {

	partners := make(map[uuid.UUID]bool)

	for _, candidate := range candidates {
		if _, checked := partners[candidate.HomeOrgID]; checked {
			continue
		}

		isPartner, err := e.circles.IsRecognizedPartner(ctx, candidate.HomeOrgID, requestingOrgID)
		if err != nil {
			return nil, err
		}

		partners[candidate.HomeOrgID] = isPartner
	}

	return partners, nil
}

// busyIntervals loads, in one query, every booking of the candidate workers
// overlapping the request window, across all organizations.
func (e *Engine) busyIntervals(
	ctx context.Context,
	candidates []lending.WorkerProfile,
	window lending.Interval,
) (map[uuid.UUID][]lending.Interval, error) {

	workerIDs := make([]uuid.UUID, len(candidates))
	for i, candidate := range candidates {
		workerIDs[i] = candidate.Ref.ID
	}

	filter, filterErr := lending.BuildBookingFilter().
		ForWorkers(workerIDs...).
		OverlappingWindow(window).
		Finalize()
	if filterErr != nil {
		return nil, filterErr
	}

	bookings, queryErr := e.queryBookings(ctx, e.db, filter, operationCreateRequest)
	if queryErr != nil {
		return nil, queryErr
	}

	busy := make(map[uuid.UUID][]lending.Interval, len(bookings))
	for _, booking := range bookings {
		busy[booking.Worker.ID] = append(busy[booking.Worker.ID], booking.Interval)
	}

	return busy, nil
}

// AcceptBorrowOffer accepts one offer of a borrow request. The whole
// transition is one transaction: the worker's timeline is re-validated under
// the advisory lock (time has passed since fan-out), the request flips
// open→filled with a compare-and-set, the booking is inserted, and every
// sibling offer still out is closed with the lost_race audit reason.
//
// Exactly one of N concurrent accepts on the same request can win; the others
// return lending.ErrAlreadyFilled. A worker who became busy in the interim
// gets a lending.ConflictError, the offer stays sent, and the request stays
// open.
func (e *Engine) AcceptBorrowOffer(ctx context.Context, offerID uuid.UUID) (lending.ShiftBooking, error) {
	observer, ctx := e.startOperation(ctx, operationAcceptOffer)

	var booking lending.ShiftBooking
	var losers []lending.BorrowOffer
	var accepted offerWithRequest

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		loaded, loadErr := e.loadOfferWithRequest(ctx, tx, offerID)
		if loadErr != nil {
			return loadErr
		}
		accepted = loaded

		if err := acceptPrecondition(loaded); err != nil {
			return err
		}

		booking = lending.ShiftBooking{
			ID:        uuid.New(),
			OrgID:     loaded.request.OrgID,
			Worker:    loaded.offer.Worker,
			Interval:  loaded.request.Interval,
			CreatedAt: time.Now().UTC(),
		}

		// conflict here leaves the offer sent and the request open
		if err := e.insertBookingGuarded(ctx, tx, booking); err != nil {
			return err
		}

		if err := e.casRequestStatus(ctx, tx, loaded.request.ID, lending.RequestOpen, lending.RequestFilled); err != nil {
			return err
		}

		if err := e.markOfferAccepted(ctx, tx, offerID); err != nil {
			return err
		}

		siblings, siblingsErr := e.sentSiblingOffers(ctx, tx, loaded.request.ID, offerID)
		if siblingsErr != nil {
			return siblingsErr
		}
		losers = siblings

		return e.closeSentOffers(ctx, tx, loaded.request.ID, offerID, lending.ClosedLostRace)
	})
	if txErr != nil {
		return lending.ShiftBooking{}, mapAcceptError(observer, txErr)
	}

	e.notifyAccepted(ctx, accepted, booking, losers)
	observer.succeeded(
		logAttrOfferID, offerID.String(),
		logAttrRequestID, accepted.request.ID.String(),
		logAttrBookingID, booking.ID.String(),
	)

	return booking, nil
}

func mapAcceptError(observer *operationObserver, txErr error) error {
	var conflict *lending.ConflictError
	if errors.As(txErr, &conflict) {
		observer.bookingConflict(conflict.Kind)
		return conflict
	}

	if errors.Is(txErr, lending.ErrAlreadyFilled) {
		observer.lostRace()
		return txErr
	}

	if errors.Is(txErr, lending.ErrNotFound) {
		observer.failed(errorTypeNotFound)
		return txErr
	}

	observer.failed(errorTypeDatabase)

	return txErr
}

func (e *Engine) notifyAccepted(
	ctx context.Context,
	accepted offerWithRequest,
	booking lending.ShiftBooking,
	losers []lending.BorrowOffer,
) {

	now := time.Now().UTC()

	e.notify(ctx, lending.Notification{
		Kind:       lending.NotifyOfferAccepted,
		OccurredAt: now,
		RequestID:  accepted.request.ID,
		OfferID:    accepted.offer.ID,
		BookingID:  booking.ID,
		Worker:     accepted.offer.Worker,
		OrgID:      accepted.request.OrgID,
	})

	e.notify(ctx, lending.Notification{
		Kind:       lending.NotifyRequestFilled,
		OccurredAt: now,
		RequestID:  accepted.request.ID,
		BookingID:  booking.ID,
		OrgID:      accepted.request.OrgID,
	})

	for _, loser := range losers {
		e.notify(ctx, lending.Notification{
			Kind:       lending.NotifyOfferLostRace,
			OccurredAt: now,
			RequestID:  accepted.request.ID,
			OfferID:    loser.ID,
			Worker:     loser.Worker,
			Reason:     lending.ClosedLostRace,
		})
	}
}

// acceptPrecondition checks the loaded offer/request pair is still actionable.
func acceptPrecondition(loaded offerWithRequest) error {
	if loaded.request.Status == lending.RequestFilled {
		return lending.ErrAlreadyFilled
	}

	if loaded.request.Status == lending.RequestClosed {
		return lending.ErrNotFound
	}

	if loaded.offer.Status != lending.OfferSent {
		// terminal offer on an open request is no longer actionable
		return lending.ErrNotFound
	}

	return nil
}

// DeclineBorrowOffer declines one offer. Terminal for that offer only; the
// request and sibling offers are unaffected. Declining an already declined
// offer is an idempotent no-op.
func (e *Engine) DeclineBorrowOffer(ctx context.Context, offerID uuid.UUID) error {
	observer, ctx := e.startOperation(ctx, operationDeclineOffer)

	stmt := e.builder().
		Update(e.tables.Offers).
		Set(goqu.Record{
			colStatus:       string(lending.OfferDeclined),
			colClosedReason: string(lending.ClosedWorkerDeclined),
		}).
		Where(
			goqu.C(colID).Eq(offerID.String()),
			goqu.C(colStatus).Eq(string(lending.OfferSent)),
		)

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		observer.failed(errorTypeDatabase)
		return errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	rowsAffected, execErr := e.execStatement(ctx, e.db, sqlQuery, operationDeclineOffer)
	if execErr != nil {
		observer.failed(errorTypeDatabase)
		return execErr
	}

	if rowsAffected == 0 {
		offer, loadErr := e.offerByID(ctx, e.db, offerID)
		if loadErr != nil {
			observer.failed(errorTypeNotFound)
			return loadErr
		}

		if offer.Status == lending.OfferDeclined {
			observer.succeeded(logAttrOfferID, offerID.String(), "idempotent", true)
			return nil
		}

		// the offer was already accepted, so the request is filled
		observer.lostRace()
		return lending.ErrAlreadyFilled
	}

	offer, loadErr := e.offerByID(ctx, e.db, offerID)
	if loadErr == nil {
		e.notify(ctx, lending.Notification{
			Kind:       lending.NotifyOfferDeclined,
			OccurredAt: time.Now().UTC(),
			RequestID:  offer.RequestID,
			OfferID:    offer.ID,
			Worker:     offer.Worker,
			Reason:     lending.ClosedWorkerDeclined,
		})
	}

	observer.succeeded(logAttrOfferID, offerID.String())

	return nil
}

// CloseBorrowRequest withdraws an open request. Owner-only; remaining sent
// offers are closed with the request_closed audit reason. Closing an already
// closed request is an idempotent no-op.
func (e *Engine) CloseBorrowRequest(ctx context.Context, requestID, orgID uuid.UUID) error {
	observer, ctx := e.startOperation(ctx, operationCloseRequest)

	var closed []lending.BorrowOffer
	idempotent := false

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		rowsAffected, casErr := e.casRequestClosedByOwner(ctx, tx, requestID, orgID)
		if casErr != nil {
			return casErr
		}

		if rowsAffected == 0 {
			outcome, classifyErr := e.classifyRequestCASFailure(ctx, tx, requestID, orgID)
			if classifyErr != nil {
				return classifyErr
			}
			idempotent = outcome

			return nil
		}

		siblings, siblingsErr := e.sentSiblingOffers(ctx, tx, requestID, uuid.Nil)
		if siblingsErr != nil {
			return siblingsErr
		}
		closed = siblings

		return e.closeSentOffers(ctx, tx, requestID, uuid.Nil, lending.ClosedRequestClosed)
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, lending.ErrAlreadyFilled):
			observer.lostRace()
		case errors.Is(txErr, lending.ErrNotFound), errors.Is(txErr, lending.ErrNotOwner):
			observer.failed(errorTypeNotFound)
		default:
			observer.failed(errorTypeDatabase)
		}

		return txErr
	}

	if !idempotent {
		now := time.Now().UTC()

		e.notify(ctx, lending.Notification{
			Kind:       lending.NotifyRequestClosed,
			OccurredAt: now,
			RequestID:  requestID,
			OrgID:      orgID,
		})

		for _, offer := range closed {
			e.notify(ctx, lending.Notification{
				Kind:       lending.NotifyOfferDeclined,
				OccurredAt: now,
				RequestID:  requestID,
				OfferID:    offer.ID,
				Worker:     offer.Worker,
				Reason:     lending.ClosedRequestClosed,
			})
		}
	}

	observer.succeeded(logAttrRequestID, requestID.String())

	return nil
}

// classifyRequestCASFailure explains a zero-rows close: idempotent repeat,
// filled, wrong owner, or missing. Returns true for the idempotent case.
func (e *Engine) classifyRequestCASFailure(
	ctx context.Context,
	runner adapters.Runner,
	requestID, orgID uuid.UUID,
) (bool, error) {

	request, loadErr := e.requestByID(ctx, runner, requestID)
	if loadErr != nil {
		return false, loadErr
	}

	if request.OrgID != orgID {
		return false, lending.ErrNotOwner
	}

	switch request.Status {
	case lending.RequestClosed:
		return true, nil
	case lending.RequestFilled:
		return false, lending.ErrAlreadyFilled
	default:
		return false, lending.ErrNotFound
	}
}
