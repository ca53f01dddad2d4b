// Package postgreswrapper provides adapter-agnostic test wrappers that select
// the database adapter via the ADAPTER_TYPE environment variable (pgx.pool,
// sql.db, sqlx.db) and manage schema setup and cleanup for integration tests.
package postgreswrapper
