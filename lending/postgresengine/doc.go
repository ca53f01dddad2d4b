// Package postgresengine provides the PostgreSQL implementation of the shift
// scheduling and cross-organization lending engine.
//
// The engine owns four tables (shift bookings, borrow requests, borrow
// offers, release offers) and supports multiple database adapters (pgx,
// sql.DB, sqlx). Every write path that could double-book a worker runs inside
// a single transaction holding a per-worker advisory lock, and every status
// transition that can be raced (accepting an offer, taking a release) is a
// compare-and-set on the current status, so exactly one contender wins.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Global no-double-booking guarantee across organizations
//   - Single-winner offer acceptance and release takeover under concurrency
//   - Configurable table names, dual-logger support, metrics and tracing hooks
//   - Optional read routing to a replica for eventually consistent queries
//
// Usage examples:
//
//	// Basic usage
//	db, _ := pgxpool.New(context.Background(), dsn)
//	engine, _ := postgresengine.NewEngineFromPGXPool(db, workers, circles)
//
//	// With operational logging and custom table names
//	engine, _ := postgresengine.NewEngineFromPGXPool(
//		db, workers, circles,
//		postgresengine.WithTableNames(postgresengine.TableNames{
//			Bookings: "my_bookings",
//			Requests: "my_requests",
//			Offers:   "my_offers",
//			Releases: "my_releases",
//		}),
//		postgresengine.WithContextualLogger(opsLogger),
//	)
//
//	booking, _ := engine.CreateBooking(ctx, orgID, worker, interval)
//	result, _ := engine.CreateBorrowRequest(ctx, orgID, "nurse", "Åre", interval, lending.ScopeCircle, circleID)
//	booking, err := engine.AcceptBorrowOffer(ctx, offerID)
package postgresengine
