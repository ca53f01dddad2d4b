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

// offerWithRequest pairs an offer with the request it belongs to, as loaded
// inside the accept transaction.
type offerWithRequest struct {
	offer   lending.BorrowOffer
	request lending.BorrowRequest
}

func (e *Engine) loadOfferWithRequest(ctx context.Context, tx adapters.DBTx, offerID uuid.UUID) (offerWithRequest, error) {
	offer, offerErr := e.offerByID(ctx, tx, offerID)
	if offerErr != nil {
		return offerWithRequest{}, offerErr
	}

	request, requestErr := e.requestByID(ctx, tx, offer.RequestID)
	if requestErr != nil {
		return offerWithRequest{}, requestErr
	}

	return offerWithRequest{offer: offer, request: request}, nil
}

func (e *Engine) insertRequest(ctx context.Context, tx adapters.DBTx, request lending.BorrowRequest) error {
	record := goqu.Record{
		colID:        request.ID.String(),
		colOrgID:     request.OrgID.String(),
		colRoleKey:   request.RoleKey,
		colLocation:  request.Location,
		colStartTS:   request.Interval.Start,
		colEndTS:     request.Interval.End,
		colScope:     string(request.Scope),
		colCircleID:  nil,
		colStatus:    string(request.Status),
		colCreatedAt: request.CreatedAt,
	}

	if request.CircleID != uuid.Nil {
		record[colCircleID] = request.CircleID.String()
	}

	sqlQuery, _, toSQLErr := e.builder().
		Insert(e.tables.Requests).
		Rows(record).
		ToSQL()
	if toSQLErr != nil {
		return errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	_, execErr := e.execStatement(ctx, tx, sqlQuery, operationCreateRequest)

	return execErr
}

func (e *Engine) insertOffers(
	ctx context.Context,
	tx adapters.DBTx,
	requestID uuid.UUID,
	workers []lending.WorkerRef,
	createdAt time.Time,
) error {

	records := make([]any, len(workers))
	for i, worker := range workers {
		records[i] = goqu.Record{
			colID:         uuid.New().String(),
			colRequestID:  requestID.String(),
			colWorkerID:   worker.ID.String(),
			colWorkerKind: string(worker.Kind),
			colStatus:     string(lending.OfferSent),
			colCreatedAt:  createdAt,
		}
	}

	sqlQuery, _, toSQLErr := e.builder().
		Insert(e.tables.Offers).
		Rows(records...).
		ToSQL()
	if toSQLErr != nil {
		return errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	_, execErr := e.execStatement(ctx, tx, sqlQuery, operationCreateRequest)

	return execErr
}

// casRequestStatus flips a request between statuses with a compare-and-set.
// Zero rows affected means another transaction filled the request first.
func (e *Engine) casRequestStatus(
	ctx context.Context,
	tx adapters.DBTx,
	requestID uuid.UUID,
	from, to lending.RequestStatus,
) error {

	sqlQuery, _, toSQLErr := e.builder().
		Update(e.tables.Requests).
		Set(goqu.Record{colStatus: string(to)}).
		Where(
			goqu.C(colID).Eq(requestID.String()),
			goqu.C(colStatus).Eq(string(from)),
		).
		ToSQL()
	if toSQLErr != nil {
		return errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	rowsAffected, execErr := e.execStatement(ctx, tx, sqlQuery, operationAcceptOffer)
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		return lending.ErrAlreadyFilled
	}

	return nil
}

func (e *Engine) markOfferAccepted(ctx context.Context, tx adapters.DBTx, offerID uuid.UUID) error {
	sqlQuery, _, toSQLErr := e.builder().
		Update(e.tables.Offers).
		Set(goqu.Record{colStatus: string(lending.OfferAccepted)}).
		Where(
			goqu.C(colID).Eq(offerID.String()),
			goqu.C(colStatus).Eq(string(lending.OfferSent)),
		).
		ToSQL()
	if toSQLErr != nil {
		return errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	rowsAffected, execErr := e.execStatement(ctx, tx, sqlQuery, operationAcceptOffer)
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		return lending.ErrNotFound
	}

	return nil
}

// sentSiblingOffers loads the offers of a request that are still sent,
// excluding excludeOfferID when it is not uuid.Nil.
func (e *Engine) sentSiblingOffers(
	ctx context.Context,
	runner adapters.Runner,
	requestID uuid.UUID,
	excludeOfferID uuid.UUID,
) ([]lending.BorrowOffer, error) {

	stmt := e.builder().
		From(e.tables.Offers).
		Select(selectOfferColumns()...).
		Where(
			goqu.C(colRequestID).Eq(requestID.String()),
			goqu.C(colStatus).Eq(string(lending.OfferSent)),
		).
		Order(goqu.I(colCreatedAt).Asc())

	if excludeOfferID != uuid.Nil {
		stmt = stmt.Where(goqu.C(colID).Neq(excludeOfferID.String()))
	}

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		return nil, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	offers := make([]lending.BorrowOffer, 0)

	scanErr := e.runQuery(ctx, runner, sqlQuery, operationAcceptOffer, func(rows adapters.DBRows) error {
		offer, err := e.scanOffer(ctx, rows)
		if err != nil {
			return err
		}

		offers = append(offers, offer)

		return nil
	})
	if scanErr != nil {
		return nil, scanErr
	}

	return offers, nil
}

// closeSentOffers closes every offer of a request that is still sent,
// recording reason for the audit trail.
func (e *Engine) closeSentOffers(
	ctx context.Context,
	tx adapters.DBTx,
	requestID uuid.UUID,
	excludeOfferID uuid.UUID,
	reason lending.OfferClosedReason,
) error {

	stmt := e.builder().
		Update(e.tables.Offers).
		Set(goqu.Record{
			colStatus:       string(lending.OfferDeclined),
			colClosedReason: string(reason),
		}).
		Where(
			goqu.C(colRequestID).Eq(requestID.String()),
			goqu.C(colStatus).Eq(string(lending.OfferSent)),
		)

	if excludeOfferID != uuid.Nil {
		stmt = stmt.Where(goqu.C(colID).Neq(excludeOfferID.String()))
	}

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		return errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	_, execErr := e.execStatement(ctx, tx, sqlQuery, operationAcceptOffer)

	return execErr
}

func (e *Engine) casRequestClosedByOwner(
	ctx context.Context,
	tx adapters.DBTx,
	requestID, orgID uuid.UUID,
) (int64, error) {

	sqlQuery, _, toSQLErr := e.builder().
		Update(e.tables.Requests).
		Set(goqu.Record{colStatus: string(lending.RequestClosed)}).
		Where(
			goqu.C(colID).Eq(requestID.String()),
			goqu.C(colOrgID).Eq(orgID.String()),
			goqu.C(colStatus).Eq(string(lending.RequestOpen)),
		).
		ToSQL()
	if toSQLErr != nil {
		return 0, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	return e.execStatement(ctx, tx, sqlQuery, operationCloseRequest)
}

func selectOfferColumns() []any {
	return []any{
		goqu.C(colID),
		goqu.C(colRequestID),
		goqu.C(colWorkerID),
		goqu.C(colWorkerKind),
		goqu.C(colStatus),
		goqu.COALESCE(goqu.C(colClosedReason), "").As(colClosedReason),
		goqu.C(colCreatedAt),
	}
}

// offerByID loads one offer; lending.ErrNotFound when it does not exist.
func (e *Engine) offerByID(ctx context.Context, runner adapters.Runner, offerID uuid.UUID) (lending.BorrowOffer, error) {
	sqlQuery, _, toSQLErr := e.builder().
		From(e.tables.Offers).
		Select(selectOfferColumns()...).
		Where(goqu.C(colID).Eq(offerID.String())).
		ToSQL()
	if toSQLErr != nil {
		return lending.BorrowOffer{}, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	var offer lending.BorrowOffer
	found := false

	scanErr := e.runQuery(ctx, runner, sqlQuery, operationAcceptOffer, func(rows adapters.DBRows) error {
		scanned, err := e.scanOffer(ctx, rows)
		if err != nil {
			return err
		}

		offer = scanned
		found = true

		return nil
	})
	if scanErr != nil {
		return lending.BorrowOffer{}, scanErr
	}

	if !found {
		return lending.BorrowOffer{}, lending.ErrNotFound
	}

	return offer, nil
}

func (e *Engine) scanOffer(ctx context.Context, rows adapters.DBRows) (lending.BorrowOffer, error) {
	var (
		idStr, requestStr, workerStr, kindStr, statusStr, reasonStr string
		createdAt                                                   time.Time
	)

	if err := rows.Scan(&idStr, &requestStr, &workerStr, &kindStr, &statusStr, &reasonStr, &createdAt); err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return lending.BorrowOffer{}, errors.Join(lending.ErrScanningRowFailed, err)
	}

	id, idErr := uuid.Parse(idStr)
	requestID, requestErr := uuid.Parse(requestStr)
	workerID, workerErr := uuid.Parse(workerStr)
	if err := errors.Join(idErr, requestErr, workerErr); err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return lending.BorrowOffer{}, errors.Join(lending.ErrScanningRowFailed, err)
	}

	return lending.BorrowOffer{
		ID:           id,
		RequestID:    requestID,
		Worker:       lending.WorkerRef{ID: workerID, Kind: lending.WorkerKind(kindStr)},
		Status:       lending.OfferStatus(statusStr),
		ClosedReason: lending.OfferClosedReason(reasonStr),
		CreatedAt:    createdAt,
	}, nil
}

// requestByID loads one request; lending.ErrNotFound when it does not exist.
func (e *Engine) requestByID(ctx context.Context, runner adapters.Runner, requestID uuid.UUID) (lending.BorrowRequest, error) {
	sqlQuery, _, toSQLErr := e.builder().
		From(e.tables.Requests).
		Select(
			goqu.C(colID),
			goqu.C(colOrgID),
			goqu.C(colRoleKey),
			goqu.C(colLocation),
			goqu.C(colStartTS),
			goqu.C(colEndTS),
			goqu.C(colScope),
			goqu.COALESCE(goqu.C(colCircleID), uuid.Nil.String()).As(colCircleID),
			goqu.C(colStatus),
			goqu.C(colCreatedAt),
		).
		Where(goqu.C(colID).Eq(requestID.String())).
		ToSQL()
	if toSQLErr != nil {
		return lending.BorrowRequest{}, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	var request lending.BorrowRequest
	found := false

	scanErr := e.runQuery(ctx, runner, sqlQuery, operationAcceptOffer, func(rows adapters.DBRows) error {
		scanned, err := e.scanRequest(ctx, rows)
		if err != nil {
			return err
		}

		request = scanned
		found = true

		return nil
	})
	if scanErr != nil {
		return lending.BorrowRequest{}, scanErr
	}

	if !found {
		return lending.BorrowRequest{}, lending.ErrNotFound
	}

	return request, nil
}

func (e *Engine) scanRequest(ctx context.Context, rows adapters.DBRows) (lending.BorrowRequest, error) {
	var (
		idStr, orgStr, roleKey, location, scopeStr, circleStr, statusStr string
		startTS, endTS, createdAt                                        time.Time
	)

	if err := rows.Scan(&idStr, &orgStr, &roleKey, &location, &startTS, &endTS, &scopeStr, &circleStr, &statusStr, &createdAt); err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return lending.BorrowRequest{}, errors.Join(lending.ErrScanningRowFailed, err)
	}

	id, idErr := uuid.Parse(idStr)
	orgID, orgErr := uuid.Parse(orgStr)
	circleID, circleErr := uuid.Parse(circleStr)
	if err := errors.Join(idErr, orgErr, circleErr); err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return lending.BorrowRequest{}, errors.Join(lending.ErrScanningRowFailed, err)
	}

	return lending.BorrowRequest{
		ID:        id,
		OrgID:     orgID,
		RoleKey:   roleKey,
		Location:  location,
		Interval:  lending.NewInterval(startTS, endTS),
		Scope:     lending.RequestScope(scopeStr),
		CircleID:  circleID,
		Status:    lending.RequestStatus(statusStr),
		CreatedAt: createdAt,
	}, nil
}
