package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/shiftcircle/lending-engine-go/lending"
	"github.com/shiftcircle/lending-engine-go/lending/postgresengine/internal/adapters"
)

const (
	defaultBookingsTableName = "shift_bookings"
	defaultRequestsTableName = "borrow_requests"
	defaultOffersTableName   = "borrow_offers"
	defaultReleasesTableName = "release_offers"

	dialectPostgres = "postgres"

	colID           = "id"
	colOrgID        = "org_id"
	colWorkerID     = "worker_id"
	colWorkerKind   = "worker_kind"
	colStartTS      = "start_ts"
	colEndTS        = "end_ts"
	colIsReleased   = "is_released"
	colCreatedAt    = "created_at"
	colRequestID    = "request_id"
	colRoleKey      = "role_key"
	colLocation     = "location"
	colScope        = "scope"
	colCircleID     = "circle_id"
	colStatus       = "status"
	colClosedReason = "closed_reason"
	colBookingID    = "booking_id"
	colFromOrgID    = "from_org_id"
	colTakenByOrgID = "taken_by_org_id"

	// Advisory lock namespace for per-worker timeline serialization. The
	// worker ID is hashed together with this seed so unrelated users of
	// advisory locks on the same database cannot collide with the engine.
	advisoryLockExpr = "pg_advisory_xact_lock(hashtextextended(?, 4217))"

	logMsgBuildQueryFailed = "failed to build sql query"
	logMsgQueryFailed      = "database query execution failed"
	logMsgExecFailed       = "database statement execution failed"
	logMsgScanRowFailed    = "failed to scan database row"
	logMsgCloseRowsFailed  = "failed to close database rows"
	logMsgRowsAffected     = "failed to get rows affected count"
	logMsgBeginTxFailed    = "failed to begin transaction"
	logMsgCommitTxFailed   = "failed to commit transaction"
	logMsgOperation        = "lending engine operation: "
	logMsgSQLExecuted      = "executed sql for: "

	logAttrError         = "error"
	logAttrQuery         = "query"
	logAttrDurationMS    = "duration_ms"
	logAttrWorkerID      = "worker_id"
	logAttrOrgID         = "org_id"
	logAttrRequestID     = "request_id"
	logAttrOfferID       = "offer_id"
	logAttrBookingID     = "booking_id"
	logAttrOffersCreated = "offers_created"
	logAttrConflictKind  = "conflict_kind"
)

type sqlQueryString = string

// TableNames configures the four tables the engine owns.
type TableNames struct {
	Bookings string
	Requests string
	Offers   string
	Releases string
}

func defaultTableNames() TableNames {
	return TableNames{
		Bookings: defaultBookingsTableName,
		Requests: defaultRequestsTableName,
		Offers:   defaultOffersTableName,
		Releases: defaultReleasesTableName,
	}
}

func (tn TableNames) validate() error {
	if tn.Bookings == "" || tn.Requests == "" || tn.Offers == "" || tn.Releases == "" {
		return lending.ErrEmptyTableName
	}

	return nil
}

// Engine is the PostgreSQL implementation of the shift scheduling and
// cross-organization lending engine. It owns the bookings, borrow requests,
// borrow offers, and release offers tables and protects the global
// no-double-booking invariant with per-worker advisory locks and
// compare-and-set status transitions inside single transactions.
type Engine struct {
	db      adapters.DBAdapter
	tables  TableNames
	workers lending.WorkerDirectory
	circles lending.CircleDirectory

	notifier         lending.Notifier
	logger           lending.Logger
	contextualLogger lending.ContextualLogger
	metricsCollector lending.MetricsCollector
	tracingCollector lending.TracingCollector
}

// NewEngineFromPGXPool creates a new Engine using a pgx pool with optional configuration.
func NewEngineFromPGXPool(
	db *pgxpool.Pool,
	workers lending.WorkerDirectory,
	circles lending.CircleDirectory,
	options ...Option,
) (*Engine, error) {

	if db == nil {
		return nil, lending.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapter(db), workers, circles, options...)
}

// NewEngineFromPGXPoolWithReplica creates a new Engine using a primary pgx
// pool for all writes and strongly consistent reads, and a replica pool for
// reads made with lending.WithEventualConsistency.
func NewEngineFromPGXPoolWithReplica(
	db *pgxpool.Pool,
	replica *pgxpool.Pool,
	workers lending.WorkerDirectory,
	circles lending.CircleDirectory,
	options ...Option,
) (*Engine, error) {

	if db == nil || replica == nil {
		return nil, lending.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapterWithReplica(db, replica), workers, circles, options...)
}

// NewEngineFromSQLDB creates a new Engine using a sql.DB with optional configuration.
func NewEngineFromSQLDB(
	db *sql.DB,
	workers lending.WorkerDirectory,
	circles lending.CircleDirectory,
	options ...Option,
) (*Engine, error) {

	if db == nil {
		return nil, lending.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLAdapter(db), workers, circles, options...)
}

// NewEngineFromSQLX creates a new Engine using a sqlx.DB with optional configuration.
func NewEngineFromSQLX(
	db *sqlx.DB,
	workers lending.WorkerDirectory,
	circles lending.CircleDirectory,
	options ...Option,
) (*Engine, error) {

	if db == nil {
		return nil, lending.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLXAdapter(db), workers, circles, options...)
}

func newEngine(
	db adapters.DBAdapter,
	workers lending.WorkerDirectory,
	circles lending.CircleDirectory,
	options ...Option,
) (*Engine, error) {

	if workers == nil || circles == nil {
		return nil, lending.ErrNilDirectory
	}

	e := &Engine{
		db:      db,
		tables:  defaultTableNames(),
		workers: workers,
		circles: circles,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func (e *Engine) builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

// withTx runs fn inside a transaction on the primary database, committing on
// nil error and rolling back otherwise.
func (e *Engine) withTx(ctx context.Context, fn func(tx adapters.DBTx) error) error {
	tx, beginErr := e.db.BeginTx(ctx)
	if beginErr != nil {
		e.logError(ctx, logMsgBeginTxFailed, beginErr)
		return errors.Join(lending.ErrTxFailed, beginErr)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		e.logError(ctx, logMsgCommitTxFailed, commitErr)
		return errors.Join(lending.ErrTxFailed, commitErr)
	}

	return nil
}

// lockWorkerTimeline takes the per-worker transaction-scoped advisory lock
// that serializes every write path touching that worker's timeline.
func (e *Engine) lockWorkerTimeline(ctx context.Context, tx adapters.DBTx, workerID uuid.UUID) error {
	sqlQuery, _, toSQLErr := e.builder().
		Select(goqu.L(advisoryLockExpr, workerID.String())).
		ToSQL()
	if toSQLErr != nil {
		return errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	if _, err := tx.Exec(ctx, sqlQuery); err != nil {
		e.logError(ctx, logMsgExecFailed, err, logAttrQuery, sqlQuery)
		return errors.Join(lending.ErrExecFailed, err)
	}

	return nil
}

// execStatement executes a statement and returns the number of rows affected,
// with debug-level SQL logging.
func (e *Engine) execStatement(ctx context.Context, runner adapters.Runner, sqlQuery sqlQueryString, action string) (int64, error) {
	start := time.Now()
	result, execErr := runner.Exec(ctx, sqlQuery)
	duration := time.Since(start)
	e.logQueryWithDuration(ctx, sqlQuery, action, duration)

	if execErr != nil {
		e.logError(ctx, logMsgExecFailed, execErr, logAttrQuery, sqlQuery)
		return 0, errors.Join(lending.ErrExecFailed, execErr)
	}

	rowsAffected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		e.logError(ctx, logMsgRowsAffected, rowsErr)
		return 0, errors.Join(lending.ErrExecFailed, rowsErr)
	}

	return rowsAffected, nil
}

// runQuery executes a select and hands each row to scan, with debug-level SQL logging.
func (e *Engine) runQuery(
	ctx context.Context,
	runner adapters.Runner,
	sqlQuery sqlQueryString,
	action string,
	scan func(rows adapters.DBRows) error,
) error {

	start := time.Now()
	rows, queryErr := runner.Query(ctx, sqlQuery)
	duration := time.Since(start)
	e.logQueryWithDuration(ctx, sqlQuery, action, duration)

	if queryErr != nil {
		e.logError(ctx, logMsgQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return errors.Join(lending.ErrQueryFailed, queryErr)
	}

	defer e.closeRows(ctx, rows)

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		e.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

/***** bookings: select / scan / insert *****/

func (e *Engine) buildSelectBookings(filter lending.BookingFilter) (sqlQueryString, error) {
	stmt := e.builder().
		From(e.tables.Bookings).
		Select(colID, colOrgID, colWorkerID, colWorkerKind, colStartTS, colEndTS, colIsReleased, colCreatedAt).
		Order(goqu.I(colStartTS).Asc())

	if workers := filter.Workers(); len(workers) > 0 {
		ids := make([]string, len(workers))
		for i, id := range workers {
			ids[i] = id.String()
		}
		stmt = stmt.Where(goqu.C(colWorkerID).In(ids))
	}

	if orgID, ok := filter.OwnedBy(); ok {
		stmt = stmt.Where(goqu.C(colOrgID).Eq(orgID.String()))
	}

	if orgID, ok := filter.ExcludedOrg(); ok {
		stmt = stmt.Where(goqu.C(colOrgID).Neq(orgID.String()))
	}

	if window, ok := filter.Window(); ok {
		// half-open overlap: start < windowEnd AND end > windowStart
		stmt = stmt.Where(
			goqu.C(colStartTS).Lt(window.End),
			goqu.C(colEndTS).Gt(window.Start),
		)
	}

	if filter.ReleasedOnly() {
		stmt = stmt.Where(goqu.C(colIsReleased).IsTrue())
	}

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (e *Engine) queryBookings(
	ctx context.Context,
	runner adapters.Runner,
	filter lending.BookingFilter,
	action string,
) ([]lending.ShiftBooking, error) {

	sqlQuery, buildErr := e.buildSelectBookings(filter)
	if buildErr != nil {
		e.logError(ctx, logMsgBuildQueryFailed, buildErr)
		return nil, buildErr
	}

	bookings := make([]lending.ShiftBooking, 0)

	scanErr := e.runQuery(ctx, runner, sqlQuery, action, func(rows adapters.DBRows) error {
		booking, err := e.scanBooking(ctx, rows)
		if err != nil {
			return err
		}

		bookings = append(bookings, booking)

		return nil
	})
	if scanErr != nil {
		return nil, scanErr
	}

	return bookings, nil
}

func (e *Engine) scanBooking(ctx context.Context, rows adapters.DBRows) (lending.ShiftBooking, error) {
	var (
		idStr, orgStr, workerStr, kindStr string
		startTS, endTS, createdAt         time.Time
		isReleased                        bool
	)

	if err := rows.Scan(&idStr, &orgStr, &workerStr, &kindStr, &startTS, &endTS, &isReleased, &createdAt); err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return lending.ShiftBooking{}, errors.Join(lending.ErrScanningRowFailed, err)
	}

	id, idErr := uuid.Parse(idStr)
	orgID, orgErr := uuid.Parse(orgStr)
	workerID, workerErr := uuid.Parse(workerStr)
	if err := errors.Join(idErr, orgErr, workerErr); err != nil {
		e.logError(ctx, logMsgScanRowFailed, err)
		return lending.ShiftBooking{}, errors.Join(lending.ErrScanningRowFailed, err)
	}

	return lending.ShiftBooking{
		ID:         id,
		OrgID:      orgID,
		Worker:     lending.WorkerRef{ID: workerID, Kind: lending.WorkerKind(kindStr)},
		Interval:   lending.NewInterval(startTS, endTS),
		IsReleased: isReleased,
		CreatedAt:  createdAt,
	}, nil
}

func (e *Engine) buildInsertBooking(booking lending.ShiftBooking) (sqlQueryString, error) {
	stmt := e.builder().
		Insert(e.tables.Bookings).
		Rows(goqu.Record{
			colID:         booking.ID.String(),
			colOrgID:      booking.OrgID.String(),
			colWorkerID:   booking.Worker.ID.String(),
			colWorkerKind: string(booking.Worker.Kind),
			colStartTS:    booking.Interval.Start,
			colEndTS:      booking.Interval.End,
			colIsReleased: booking.IsReleased,
			colCreatedAt:  booking.CreatedAt,
		})

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// bookingByID loads one booking; lending.ErrNotFound when it does not exist.
func (e *Engine) bookingByID(
	ctx context.Context,
	runner adapters.Runner,
	bookingID uuid.UUID,
	action string,
) (lending.ShiftBooking, error) {

	stmt := e.builder().
		From(e.tables.Bookings).
		Select(colID, colOrgID, colWorkerID, colWorkerKind, colStartTS, colEndTS, colIsReleased, colCreatedAt).
		Where(goqu.C(colID).Eq(bookingID.String()))

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		return lending.ShiftBooking{}, errors.Join(lending.ErrBuildingQueryFailed, toSQLErr)
	}

	var booking lending.ShiftBooking
	found := false

	scanErr := e.runQuery(ctx, runner, sqlQuery, action, func(rows adapters.DBRows) error {
		scanned, err := e.scanBooking(ctx, rows)
		if err != nil {
			return err
		}

		booking = scanned
		found = true

		return nil
	})
	if scanErr != nil {
		return lending.ShiftBooking{}, scanErr
	}

	if !found {
		return lending.ShiftBooking{}, lending.ErrNotFound
	}

	return booking, nil
}
