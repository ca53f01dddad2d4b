package helper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	. "github.com/shiftcircle/lending-engine-go/lending"
	. "github.com/shiftcircle/lending-engine-go/lending/postgresengine"
)

func GivenUniqueID(t testing.TB) uuid.UUID {
	id, err := uuid.NewV7()
	assert.NoError(t, err, "error in arranging test data")

	return id
}

// ShiftOn builds an interval on a fixed reference day, hours in UTC.
// Using a far-future day keeps fixtures out of the way of wall-clock logic.
func ShiftOn(day int, fromHour, toHour int) Interval {
	base := time.Date(2030, time.March, day, 0, 0, 0, 0, time.UTC)

	return NewInterval(base.Add(time.Duration(fromHour)*time.Hour), base.Add(time.Duration(toHour)*time.Hour))
}

// ShiftWithDuration builds an interval of the given length starting at a
// fixed reference hour.
func ShiftWithDuration(day int, length time.Duration) Interval {
	start := time.Date(2030, time.March, day, 6, 0, 0, 0, time.UTC)

	return NewInterval(start, start.Add(length))
}

func FixtureAccountWorker(t testing.TB) WorkerRef {
	return AccountWorker(GivenUniqueID(t))
}

func FixturePlaceholderWorker(t testing.TB) WorkerRef {
	return PlaceholderWorker(GivenUniqueID(t))
}

func FixtureProfile(worker WorkerRef, homeOrgID uuid.UUID, location string, visibility VisibilityScope, extraHours bool) WorkerProfile {
	return WorkerProfile{
		Ref:        worker,
		HomeOrgID:  homeOrgID,
		Location:   location,
		Visibility: visibility,
		ExtraHours: extraHours,
	}
}

func GivenBookingExists(
	t testing.TB,
	ctx context.Context,
	engine *Engine,
	orgID uuid.UUID,
	worker WorkerRef,
	interval Interval,
) ShiftBooking {

	booking, err := engine.CreateBooking(ctx, orgID, worker, interval)
	assert.NoError(t, err, "error in arranging test data")

	return booking
}

func GivenBorrowRequestWithOffers(
	t testing.TB,
	ctx context.Context,
	engine *Engine,
	orgID uuid.UUID,
	location string,
	interval Interval,
	scope RequestScope,
	circleID uuid.UUID,
) FanOutResult {

	result, err := engine.CreateBorrowRequest(ctx, orgID, "nurse", location, interval, scope, circleID)
	assert.NoError(t, err, "error in arranging test data")

	return result
}

func GivenReleaseOfferExists(
	t testing.TB,
	ctx context.Context,
	engine *Engine,
	bookingID uuid.UUID,
	fromOrgID uuid.UUID,
) ReleaseOffer {

	release, err := engine.CreateReleaseOffer(ctx, bookingID, fromOrgID)
	assert.NoError(t, err, "error in arranging test data")

	return release
}

// BookingsForWorker loads every booking of one worker ordered by start time.
func BookingsForWorker(
	t testing.TB,
	ctx context.Context,
	engine *Engine,
	workerID uuid.UUID,
) []ShiftBooking {

	filter, err := BuildBookingFilter().ForWorkers(workerID).Finalize()
	assert.NoError(t, err, "error in arranging test data")

	bookings, err := engine.QueryBookings(ctx, filter)
	assert.NoError(t, err, "error in arranging test data")

	return bookings
}
