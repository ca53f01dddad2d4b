// Package lending contains the storage-agnostic core of the shift scheduling
// and cross-organization lending engine: domain types, interval math, the
// pure eligibility resolver, the typed error taxonomy, and the dependency-free
// collaborator and observability interfaces consumed by the storage engines.
//
// The package protects one invariant above all others: for any worker, no two
// shift bookings may ever overlap on the global timeline, regardless of which
// organization owns them. Storage engines (see lending/postgresengine) are
// responsible for enforcing that invariant atomically; this package supplies
// the pure building blocks they share.
package lending
