// Package adapters provides database adapter implementations for the
// PostgreSQL lending engine.
//
// This package implements the adapter pattern to support multiple PostgreSQL
// database libraries: pgx.Pool, sql.DB, and sqlx.DB. All adapters provide
// equivalent functionality through a common DBAdapter interface, including
// transactions, allowing the engine to work seamlessly with any supported
// database connection type.
//
// The pgx adapter optionally routes reads to a replica pool when the caller
// signals eventual consistency through the context; transactions and writes
// always use the primary.
package adapters
