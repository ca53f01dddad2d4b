package adapters

import "context"

// Runner defines the query operations shared by connections and transactions.
type Runner interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBAdapter defines the interface for database operations needed by the engine.
type DBAdapter interface {
	Runner

	// BeginTx starts a transaction on the primary database.
	BeginTx(ctx context.Context) (DBTx, error)
}

// DBTx defines the interface for an open database transaction.
// Rollback after a successful Commit must be a harmless no-op, so callers can
// defer it unconditionally.
type DBTx interface {
	Runner
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
