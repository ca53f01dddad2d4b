// Package config provides PostgreSQL database configuration for lending
// engine testing.
//
// It contains factory functions for creating database connections with the
// engine's supported PostgreSQL adapters (pgx.Pool, sql.DB, sqlx.DB), using
// pre-configured test DSNs for both single-node and primary/replica setups.
package config
