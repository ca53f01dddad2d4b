package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/shiftcircle/lending-engine-go/lending"
	"github.com/shiftcircle/lending-engine-go/lending/postgresengine"
	"github.com/shiftcircle/lending-engine-go/testutil/postgresengine/config"
)

// Engine type constants
const (
	typePGXPool = "pgx.pool"
	typeSQLDB   = "sql.db"
	typeSQLXDB  = "sqlx.db"
)

// schemaStatements creates the four engine tables. The exclusion constraint
// on shift_bookings is a schema-level backstop for the no-overlap invariant;
// the engine never relies on it, the advisory-lock transaction enforces the
// invariant first.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`CREATE TABLE IF NOT EXISTS shift_bookings (
		id uuid PRIMARY KEY,
		org_id uuid NOT NULL,
		worker_id uuid NOT NULL,
		worker_kind text NOT NULL,
		start_ts timestamptz NOT NULL,
		end_ts timestamptz NOT NULL,
		is_released boolean NOT NULL DEFAULT false,
		created_at timestamptz NOT NULL,
		CONSTRAINT shift_bookings_no_overlap EXCLUDE USING gist (
			worker_id WITH =,
			tstzrange(start_ts, end_ts) WITH &&
		)
	)`,
	`CREATE INDEX IF NOT EXISTS shift_bookings_worker_start_idx ON shift_bookings (worker_id, start_ts)`,
	`CREATE TABLE IF NOT EXISTS borrow_requests (
		id uuid PRIMARY KEY,
		org_id uuid NOT NULL,
		role_key text NOT NULL,
		location text NOT NULL,
		start_ts timestamptz NOT NULL,
		end_ts timestamptz NOT NULL,
		scope text NOT NULL,
		circle_id uuid,
		status text NOT NULL,
		created_at timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS borrow_offers (
		id uuid PRIMARY KEY,
		request_id uuid NOT NULL REFERENCES borrow_requests (id),
		worker_id uuid NOT NULL,
		worker_kind text NOT NULL,
		status text NOT NULL,
		closed_reason text,
		created_at timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS borrow_offers_request_idx ON borrow_offers (request_id)`,
	`CREATE TABLE IF NOT EXISTS release_offers (
		id uuid PRIMARY KEY,
		from_org_id uuid NOT NULL,
		booking_id uuid NOT NULL REFERENCES shift_bookings (id),
		taken_by_org_id uuid,
		status text NOT NULL,
		created_at timestamptz NOT NULL
	)`,
}

var truncateStatement = `TRUNCATE TABLE release_offers, borrow_offers, borrow_requests, shift_bookings`

// Wrapper interface to abstract over different adapter types
type Wrapper interface {
	GetEngine() *postgresengine.Engine
	Exec(t testing.TB, query string)
	Close()
}

// PGXPoolWrapper wraps pgxpool-based testing
type PGXPoolWrapper struct {
	pool   *pgxpool.Pool
	engine *postgresengine.Engine
}

func (w *PGXPoolWrapper) GetEngine() *postgresengine.Engine {
	return w.engine
}

func (w *PGXPoolWrapper) Exec(t testing.TB, query string) {
	_, err := w.pool.Exec(context.Background(), query)
	assert.NoError(t, err, "error executing statement in test setup")
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper wraps sql.DB-based testing
type SQLDBWrapper struct {
	db     *sql.DB
	engine *postgresengine.Engine
}

func (w *SQLDBWrapper) GetEngine() *postgresengine.Engine {
	return w.engine
}

func (w *SQLDBWrapper) Exec(t testing.TB, query string) {
	_, err := w.db.Exec(query)
	assert.NoError(t, err, "error executing statement in test setup")
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// SQLXWrapper wraps sqlx.DB-based testing
type SQLXWrapper struct {
	db     *sqlx.DB
	engine *postgresengine.Engine
}

func (w *SQLXWrapper) GetEngine() *postgresengine.Engine {
	return w.engine
}

func (w *SQLXWrapper) Exec(t testing.TB, query string) {
	_, err := w.db.Exec(query)
	assert.NoError(t, err, "error executing statement in test setup")
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// CreateWrapperWithTestConfig creates the appropriate wrapper based on the
// ADAPTER_TYPE environment variable and ensures the schema exists.
func CreateWrapperWithTestConfig(
	t testing.TB,
	workers lending.WorkerDirectory,
	circles lending.CircleDirectory,
	options ...postgresengine.Option,
) Wrapper {

	adapterTypeFromEnv := strings.ToLower(os.Getenv("ADAPTER_TYPE"))

	var wrapper Wrapper

	switch adapterTypeFromEnv {
	case typePGXPool, "":
		connPool, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolSingleConfig())
		assert.NoError(t, err, "error connecting to DB pool in test setup")

		engine, err := postgresengine.NewEngineFromPGXPool(connPool, workers, circles, options...)
		assert.NoError(t, err, "error creating lending engine")

		wrapper = &PGXPoolWrapper{pool: connPool, engine: engine}

	case typeSQLDB:
		db := config.PostgresSQLDBSingleConfig()

		engine, err := postgresengine.NewEngineFromSQLDB(db, workers, circles, options...)
		assert.NoError(t, err, "error creating lending engine")

		wrapper = &SQLDBWrapper{db: db, engine: engine}

	case typeSQLXDB:
		db := config.PostgresSQLXSingleConfig()

		engine, err := postgresengine.NewEngineFromSQLX(db, workers, circles, options...)
		assert.NoError(t, err, "error creating lending engine")

		wrapper = &SQLXWrapper{db: db, engine: engine}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", adapterTypeFromEnv))
	}

	EnsureSchema(t, wrapper)

	return wrapper
}

// TryCreateEngineWithTableNames tries to create an engine with the given
// table names and returns the error (for testing factory error cases).
func TryCreateEngineWithTableNames(
	t testing.TB,
	workers lending.WorkerDirectory,
	circles lending.CircleDirectory,
	tables postgresengine.TableNames,
) error {

	adapterTypeFromEnv := strings.ToLower(os.Getenv("ADAPTER_TYPE"))

	options := []postgresengine.Option{postgresengine.WithTableNames(tables)}

	switch adapterTypeFromEnv {
	case typePGXPool, "":
		connPool, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolSingleConfig())
		assert.NoError(t, err, "error connecting to DB pool in test setup")
		defer connPool.Close()

		_, err = postgresengine.NewEngineFromPGXPool(connPool, workers, circles, options...)
		return err

	case typeSQLDB:
		db := config.PostgresSQLDBSingleConfig()
		defer func(db *sql.DB) {
			_ = db.Close() // makes no sense to handle this
		}(db)

		_, err := postgresengine.NewEngineFromSQLDB(db, workers, circles, options...)
		return err

	case typeSQLXDB:
		db := config.PostgresSQLXSingleConfig()
		defer func(db *sqlx.DB) {
			_ = db.Close() // makes no sense to handle this
		}(db)

		_, err := postgresengine.NewEngineFromSQLX(db, workers, circles, options...)
		return err

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", adapterTypeFromEnv))
	}
}

// EnsureSchema creates the engine tables if they do not exist yet.
func EnsureSchema(t testing.TB, wrapper Wrapper) {
	for _, statement := range schemaStatements {
		wrapper.Exec(t, statement)
	}
}

// CleanUp truncates all four engine tables.
func CleanUp(t testing.TB, wrapper Wrapper) {
	wrapper.Exec(t, truncateStatement)
}
