// Package helper provides test helpers for the PostgreSQL lending engine:
// schema setup, fixtures, in-memory directory stubs, and spies for the
// observability and notification interfaces.
package helper
