package postgresengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	. "github.com/shiftcircle/lending-engine-go/lending"                                        //nolint:revive
	. "github.com/shiftcircle/lending-engine-go/lending/postgresengine"                         //nolint:revive
	. "github.com/shiftcircle/lending-engine-go/testutil/postgresengine/helper"                 //nolint:revive
	. "github.com/shiftcircle/lending-engine-go/testutil/postgresengine/helper/postgreswrapper" //nolint:revive
)

type testEnv struct {
	ctx       context.Context
	wrapper   Wrapper
	engine    *Engine
	directory *InMemoryDirectory
	notifier  *NotifierSpy
}

func setupTestEnvironment(t *testing.T, options ...Option) (testEnv, func()) {
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	directory := NewInMemoryDirectory()
	notifier := NewNotifierSpy()

	allOptions := append([]Option{WithNotifier(notifier)}, options...)
	wrapper := CreateWrapperWithTestConfig(t, directory, directory, allOptions...)
	CleanUp(t, wrapper)

	env := testEnv{
		ctx:       ctxWithTimeout,
		wrapper:   wrapper,
		engine:    wrapper.GetEngine(),
		directory: directory,
		notifier:  notifier,
	}

	cleanup := func() {
		wrapper.Close()
		cancel()
	}

	return env, cleanup
}

// givenOrgWorkers registers count public extra-hours workers for an org and
// returns their refs.
func givenOrgWorkers(t *testing.T, env testEnv, orgID uuid.UUID, location string, count int) []WorkerRef {
	workers := make([]WorkerRef, count)
	for i := range workers {
		workers[i] = FixtureAccountWorker(t)
		env.directory.AddProfile(FixtureProfile(workers[i], orgID, location, VisibilityPublic, true))
	}

	return workers
}

func Test_CreateBooking_OnFreeTimeline(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	worker := FixtureAccountWorker(t)
	interval := ShiftOn(4, 8, 16)

	// act
	booking, err := env.engine.CreateBooking(env.ctx, orgID, worker, interval)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, orgID, booking.OrgID)
	assert.Equal(t, worker, booking.Worker)
	assert.True(t, booking.Interval.Equal(interval))
	assert.False(t, booking.IsReleased)

	persisted := BookingsForWorker(t, env.ctx, env.engine, worker.ID)
	assert.Len(t, persisted, 1)
	assert.Equal(t, booking.ID, persisted[0].ID)
	assert.True(t, persisted[0].Interval.Equal(interval))
}

func Test_CreateBooking_When_SameOrg_AlreadyBookedTheWorker(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	worker := FixtureAccountWorker(t)
	existing := GivenBookingExists(t, env.ctx, env.engine, orgID, worker, ShiftOn(4, 8, 16))

	// act
	_, err := env.engine.CreateBooking(env.ctx, orgID, worker, ShiftOn(4, 12, 20))

	// assert
	assert.ErrorIs(t, err, ErrConflictSameOrg)

	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, ConflictSameOrg, conflict.Kind)
	assert.NotNil(t, conflict.Conflicting)
	assert.True(t, conflict.Conflicting.Equal(existing.Interval))
}

func Test_CreateBooking_When_AnotherOrg_AlreadyBookedTheWorker(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	worker := FixtureAccountWorker(t)
	GivenBookingExists(t, env.ctx, env.engine, GivenUniqueID(t), worker, ShiftOn(4, 8, 16))

	// act
	_, err := env.engine.CreateBooking(env.ctx, GivenUniqueID(t), worker, ShiftOn(4, 12, 20))

	// assert
	assert.ErrorIs(t, err, ErrConflictOtherOrg)

	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, ConflictOtherOrg, conflict.Kind)
}

func Test_CreateBooking_When_Intervals_OnlyTouch(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	worker := FixtureAccountWorker(t)
	GivenBookingExists(t, env.ctx, env.engine, GivenUniqueID(t), worker, ShiftOn(4, 8, 16))

	// act - half-open intervals: a shift starting exactly at the other's end
	_, err := env.engine.CreateBooking(env.ctx, GivenUniqueID(t), worker, ShiftOn(4, 16, 22))

	// assert
	assert.NoError(t, err)
	assert.Len(t, BookingsForWorker(t, env.ctx, env.engine, worker.ID), 2)
}

func Test_CreateBooking_RejectsInvalidIntervals(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	worker := FixtureAccountWorker(t)
	orgID := GivenUniqueID(t)

	t.Run("exactly_sixteen_hours_is_accepted", func(t *testing.T) {
		_, err := env.engine.CreateBooking(env.ctx, orgID, FixtureAccountWorker(t), ShiftWithDuration(4, 16*time.Hour))

		assert.NoError(t, err)
	})

	t.Run("duration_above_the_ceiling_is_rejected", func(t *testing.T) {
		_, err := env.engine.CreateBooking(env.ctx, orgID, worker, ShiftWithDuration(5, 16*time.Hour+time.Minute))

		assert.ErrorIs(t, err, ErrDurationExceeded)
	})

	t.Run("end_before_start_is_rejected", func(t *testing.T) {
		_, err := env.engine.CreateBooking(env.ctx, orgID, worker, ShiftOn(6, 16, 8))

		assert.ErrorIs(t, err, ErrInvalidInterval)
	})
}

func Test_CreateBorrowRequest_FansOut_ToInternalWorkers(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	own := givenOrgWorkers(t, env, orgID, "berlin", 2)
	givenOrgWorkers(t, env, GivenUniqueID(t), "berlin", 1) // foreign, out of internal scope
	busy := givenOrgWorkers(t, env, orgID, "berlin", 1)[0]
	GivenBookingExists(t, env.ctx, env.engine, orgID, busy, ShiftOn(4, 10, 14))

	// act
	result, err := env.engine.CreateBorrowRequest(
		env.ctx, orgID, "nurse", "berlin", ShiftOn(4, 8, 16), ScopeInternal, uuid.Nil)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 2, result.OffersCreated)
	assert.Equal(t, RequestOpen, result.Request.Status)

	offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, offersErr)
	assert.Len(t, offers, 2)

	offered := make(map[uuid.UUID]bool)
	for _, offer := range offers {
		assert.Equal(t, OfferSent, offer.Status)
		offered[offer.Worker.ID] = true
	}
	assert.True(t, offered[own[0].ID])
	assert.True(t, offered[own[1].ID])
	assert.False(t, offered[busy.ID], "busy worker must be excluded from fan-out")
}

func Test_CreateBorrowRequest_CircleScope_RespectsPartnerRecognition(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	requestingOrg := GivenUniqueID(t)
	partnerOrg := GivenUniqueID(t)
	strangerOrg := GivenUniqueID(t)
	circleID := GivenUniqueID(t)
	env.directory.AddCircle(circleID, requestingOrg, partnerOrg, strangerOrg)
	env.directory.AddPartner(partnerOrg, requestingOrg)

	reachable := FixtureAccountWorker(t)
	env.directory.AddProfile(FixtureProfile(reachable, partnerOrg, "berlin", VisibilityCircleOnly, false))
	hidden := FixtureAccountWorker(t)
	env.directory.AddProfile(FixtureProfile(hidden, partnerOrg, "berlin", VisibilityOff, true))
	unrecognized := FixtureAccountWorker(t)
	env.directory.AddProfile(FixtureProfile(unrecognized, strangerOrg, "berlin", VisibilityPublic, true))

	// act
	result, err := env.engine.CreateBorrowRequest(
		env.ctx, requestingOrg, "nurse", "berlin", ShiftOn(4, 8, 16), ScopeCircle, circleID)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 1, result.OffersCreated)

	offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, offersErr)
	assert.Len(t, offers, 1)
	assert.Equal(t, reachable.ID, offers[0].Worker.ID)
}

func Test_CreateBorrowRequest_CircleScope_RequiresCircleID(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// act
	_, err := env.engine.CreateBorrowRequest(
		env.ctx, GivenUniqueID(t), "nurse", "berlin", ShiftOn(4, 8, 16), ScopeCircle, uuid.Nil)

	// assert
	assert.ErrorIs(t, err, ErrMissingCircle)
}

func Test_CreateBorrowRequest_LocalScope_RequiresPublicExtraHours(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	requestingOrg := GivenUniqueID(t)
	neighborOrg := GivenUniqueID(t)

	eligible := FixtureAccountWorker(t)
	env.directory.AddProfile(FixtureProfile(eligible, neighborOrg, "berlin", VisibilityPublic, true))
	noExtraHours := FixtureAccountWorker(t)
	env.directory.AddProfile(FixtureProfile(noExtraHours, neighborOrg, "berlin", VisibilityPublic, false))
	circleOnly := FixtureAccountWorker(t)
	env.directory.AddProfile(FixtureProfile(circleOnly, neighborOrg, "berlin", VisibilityCircleOnly, true))
	elsewhere := FixtureAccountWorker(t)
	env.directory.AddProfile(FixtureProfile(elsewhere, neighborOrg, "hamburg", VisibilityPublic, true))

	// act
	result, err := env.engine.CreateBorrowRequest(
		env.ctx, requestingOrg, "nurse", "berlin", ShiftOn(4, 8, 16), ScopeLocal, uuid.Nil)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 1, result.OffersCreated)

	offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, offersErr)
	assert.Len(t, offers, 1)
	assert.Equal(t, eligible.ID, offers[0].Worker.ID)
}

func Test_CreateBorrowRequest_WithNoEligibleWorkers_StaysOpenWithZeroOffers(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// act
	result, err := env.engine.CreateBorrowRequest(
		env.ctx, GivenUniqueID(t), "nurse", "nowhere", ShiftOn(4, 8, 16), ScopeLocal, uuid.Nil)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 0, result.OffersCreated)

	request, loadErr := env.engine.GetBorrowRequest(env.ctx, result.Request.ID)
	assert.NoError(t, loadErr)
	assert.Equal(t, RequestOpen, request.Status)
}

func Test_EligibleWorkers_PreviewsTheFanOutSet(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	orgID := GivenUniqueID(t)
	workers := givenOrgWorkers(t, env, orgID, "berlin", 2)

	spec := EligibilitySpec{
		RequestingOrgID: orgID,
		Scope:           ScopeInternal,
		Location:        "berlin",
		Window:          ShiftOn(4, 8, 16),
	}

	// act
	eligible, err := env.engine.EligibleWorkers(env.ctx, spec)

	// assert
	assert.NoError(t, err)
	assert.Len(t, eligible, len(workers))

	// act - nobody is affiliated with an unknown org
	spec.RequestingOrgID = GivenUniqueID(t)
	_, emptyErr := env.engine.EligibleWorkers(env.ctx, spec)

	// assert
	assert.ErrorIs(t, emptyErr, ErrNoEligibleWorkers)
}

func Test_AcceptBorrowOffer_WinnerFillsRequest_AndSiblingsLoseTheRace(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	givenOrgWorkers(t, env, orgID, "berlin", 3)
	interval := ShiftOn(4, 8, 16)
	result := GivenBorrowRequestWithOffers(t, env.ctx, env.engine, orgID, "berlin", interval, ScopeInternal, uuid.Nil)
	assert.Equal(t, 3, result.OffersCreated)

	offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, offersErr)

	// act
	booking, acceptErr := env.engine.AcceptBorrowOffer(env.ctx, offers[0].ID)

	// assert
	assert.NoError(t, acceptErr)
	assert.Equal(t, orgID, booking.OrgID)
	assert.Equal(t, offers[0].Worker, booking.Worker)
	assert.True(t, booking.Interval.Equal(interval))

	request, loadErr := env.engine.GetBorrowRequest(env.ctx, result.Request.ID)
	assert.NoError(t, loadErr)
	assert.Equal(t, RequestFilled, request.Status)

	after, afterErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, afterErr)
	for _, offer := range after {
		if offer.ID == offers[0].ID {
			assert.Equal(t, OfferAccepted, offer.Status)
			continue
		}

		assert.Equal(t, OfferDeclined, offer.Status)
		assert.Equal(t, ClosedLostRace, offer.ClosedReason)
	}

	assert.Equal(t, 1, env.notifier.CountKind(NotifyOfferAccepted))
	assert.Equal(t, 1, env.notifier.CountKind(NotifyRequestFilled))
	assert.Equal(t, 2, env.notifier.CountKind(NotifyOfferLostRace))
}

func Test_AcceptBorrowOffer_When_WorkerWasBookedInTheInterim(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	givenOrgWorkers(t, env, orgID, "berlin", 1)
	result := GivenBorrowRequestWithOffers(t, env.ctx, env.engine, orgID, "berlin", ShiftOn(4, 8, 16), ScopeInternal, uuid.Nil)
	assert.Equal(t, 1, result.OffersCreated)

	offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, offersErr)

	// another org books the worker between fan-out and accept
	GivenBookingExists(t, env.ctx, env.engine, GivenUniqueID(t), offers[0].Worker, ShiftOn(4, 10, 14))

	// act
	_, acceptErr := env.engine.AcceptBorrowOffer(env.ctx, offers[0].ID)

	// assert
	assert.ErrorIs(t, acceptErr, ErrConflictOtherOrg)

	request, loadErr := env.engine.GetBorrowRequest(env.ctx, result.Request.ID)
	assert.NoError(t, loadErr)
	assert.Equal(t, RequestOpen, request.Status, "request must stay open after a timeline conflict")

	after, afterErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, afterErr)
	assert.Equal(t, OfferSent, after[0].Status, "the offer must stay actionable")
}

func Test_AcceptBorrowOffer_SecondAcceptOnFilledRequest(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	givenOrgWorkers(t, env, orgID, "berlin", 2)
	result := GivenBorrowRequestWithOffers(t, env.ctx, env.engine, orgID, "berlin", ShiftOn(4, 8, 16), ScopeInternal, uuid.Nil)
	offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, offersErr)

	_, winErr := env.engine.AcceptBorrowOffer(env.ctx, offers[0].ID)
	assert.NoError(t, winErr)

	// act
	_, loseErr := env.engine.AcceptBorrowOffer(env.ctx, offers[1].ID)

	// assert
	assert.ErrorIs(t, loseErr, ErrAlreadyFilled)
}

func Test_AcceptBorrowOffer_UnknownOffer(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// act
	_, err := env.engine.AcceptBorrowOffer(env.ctx, GivenUniqueID(t))

	// assert
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_DeclineBorrowOffer(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	givenOrgWorkers(t, env, orgID, "berlin", 2)
	result := GivenBorrowRequestWithOffers(t, env.ctx, env.engine, orgID, "berlin", ShiftOn(4, 8, 16), ScopeInternal, uuid.Nil)
	offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, offersErr)

	// act
	declineErr := env.engine.DeclineBorrowOffer(env.ctx, offers[0].ID)

	// assert
	assert.NoError(t, declineErr)

	after, afterErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, afterErr)
	for _, offer := range after {
		if offer.ID == offers[0].ID {
			assert.Equal(t, OfferDeclined, offer.Status)
			assert.Equal(t, ClosedWorkerDeclined, offer.ClosedReason)
		} else {
			assert.Equal(t, OfferSent, offer.Status, "sibling offers are unaffected by a decline")
		}
	}

	request, loadErr := env.engine.GetBorrowRequest(env.ctx, result.Request.ID)
	assert.NoError(t, loadErr)
	assert.Equal(t, RequestOpen, request.Status)
	assert.Equal(t, 1, env.notifier.CountKind(NotifyOfferDeclined))

	// act - declining again is an idempotent no-op
	assert.NoError(t, env.engine.DeclineBorrowOffer(env.ctx, offers[0].ID))
	assert.Equal(t, 1, env.notifier.CountKind(NotifyOfferDeclined), "idempotent repeat must not notify again")
}

func Test_DeclineBorrowOffer_AfterTheRequestWasFilled(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	givenOrgWorkers(t, env, orgID, "berlin", 2)
	result := GivenBorrowRequestWithOffers(t, env.ctx, env.engine, orgID, "berlin", ShiftOn(4, 8, 16), ScopeInternal, uuid.Nil)
	offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, offersErr)

	_, acceptErr := env.engine.AcceptBorrowOffer(env.ctx, offers[0].ID)
	assert.NoError(t, acceptErr)

	// act - the accepted offer can no longer be declined
	declineErr := env.engine.DeclineBorrowOffer(env.ctx, offers[0].ID)

	// assert
	assert.ErrorIs(t, declineErr, ErrAlreadyFilled)

	// the sibling was closed with lost_race; declining it again is idempotent
	assert.NoError(t, env.engine.DeclineBorrowOffer(env.ctx, offers[1].ID))
}

func Test_CloseBorrowRequest(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	givenOrgWorkers(t, env, orgID, "berlin", 2)
	result := GivenBorrowRequestWithOffers(t, env.ctx, env.engine, orgID, "berlin", ShiftOn(4, 8, 16), ScopeInternal, uuid.Nil)

	// act
	closeErr := env.engine.CloseBorrowRequest(env.ctx, result.Request.ID, orgID)

	// assert
	assert.NoError(t, closeErr)

	request, loadErr := env.engine.GetBorrowRequest(env.ctx, result.Request.ID)
	assert.NoError(t, loadErr)
	assert.Equal(t, RequestClosed, request.Status)

	offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
	assert.NoError(t, offersErr)
	for _, offer := range offers {
		assert.Equal(t, OfferDeclined, offer.Status)
		assert.Equal(t, ClosedRequestClosed, offer.ClosedReason)
	}

	assert.Equal(t, 1, env.notifier.CountKind(NotifyRequestClosed))
	assert.Equal(t, 2, env.notifier.CountKind(NotifyOfferDeclined))

	// act - closing again is an idempotent no-op
	assert.NoError(t, env.engine.CloseBorrowRequest(env.ctx, result.Request.ID, orgID))
	assert.Equal(t, 1, env.notifier.CountKind(NotifyRequestClosed), "idempotent repeat must not notify again")

	// act - accepting an offer of a closed request fails
	_, acceptErr := env.engine.AcceptBorrowOffer(env.ctx, offers[0].ID)
	assert.ErrorIs(t, acceptErr, ErrNotFound)
}

func Test_CloseBorrowRequest_OwnershipAndState(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	orgID := GivenUniqueID(t)
	givenOrgWorkers(t, env, orgID, "berlin", 1)

	t.Run("only_the_owner_can_close", func(t *testing.T) {
		result := GivenBorrowRequestWithOffers(t, env.ctx, env.engine, orgID, "berlin", ShiftOn(4, 8, 16), ScopeInternal, uuid.Nil)

		err := env.engine.CloseBorrowRequest(env.ctx, result.Request.ID, GivenUniqueID(t))

		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("closing_a_filled_request_reports_already_filled", func(t *testing.T) {
		result := GivenBorrowRequestWithOffers(t, env.ctx, env.engine, orgID, "berlin", ShiftOn(6, 8, 16), ScopeInternal, uuid.Nil)
		offers, offersErr := env.engine.OffersForRequest(env.ctx, result.Request.ID)
		assert.NoError(t, offersErr)
		_, acceptErr := env.engine.AcceptBorrowOffer(env.ctx, offers[0].ID)
		assert.NoError(t, acceptErr)

		err := env.engine.CloseBorrowRequest(env.ctx, result.Request.ID, orgID)

		assert.ErrorIs(t, err, ErrAlreadyFilled)
	})

	t.Run("closing_an_unknown_request_reports_not_found", func(t *testing.T) {
		err := env.engine.CloseBorrowRequest(env.ctx, GivenUniqueID(t), orgID)

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func Test_CreateReleaseOffer(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgID := GivenUniqueID(t)
	worker := FixtureAccountWorker(t)
	booking := GivenBookingExists(t, env.ctx, env.engine, orgID, worker, ShiftOn(4, 8, 16))

	// act
	release, err := env.engine.CreateReleaseOffer(env.ctx, booking.ID, orgID)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, ReleaseOpen, release.Status)
	assert.Equal(t, booking.ID, release.BookingID)

	persisted := BookingsForWorker(t, env.ctx, env.engine, worker.ID)
	assert.Len(t, persisted, 1)
	assert.True(t, persisted[0].IsReleased)

	// act - releasing an already released booking fails
	_, againErr := env.engine.CreateReleaseOffer(env.ctx, booking.ID, orgID)
	assert.ErrorIs(t, againErr, ErrAlreadyReleased)
}

func Test_CreateReleaseOffer_OwnershipAndExistence(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	orgID := GivenUniqueID(t)
	booking := GivenBookingExists(t, env.ctx, env.engine, orgID, FixtureAccountWorker(t), ShiftOn(4, 8, 16))

	t.Run("only_the_owning_org_can_release", func(t *testing.T) {
		_, err := env.engine.CreateReleaseOffer(env.ctx, booking.ID, GivenUniqueID(t))

		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("unknown_booking_reports_not_found", func(t *testing.T) {
		_, err := env.engine.CreateReleaseOffer(env.ctx, GivenUniqueID(t), orgID)

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func Test_TakeReleaseOffer_TransfersOwnership_WithoutTouchingTheTimeline(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	fromOrg := GivenUniqueID(t)
	takerOrg := GivenUniqueID(t)
	env.directory.AddPartner(fromOrg, takerOrg)

	worker := FixtureAccountWorker(t)
	interval := ShiftOn(4, 8, 16)
	booking := GivenBookingExists(t, env.ctx, env.engine, fromOrg, worker, interval)
	release := GivenReleaseOfferExists(t, env.ctx, env.engine, booking.ID, fromOrg)

	// act
	taken, err := env.engine.TakeReleaseOffer(env.ctx, release.ID, takerOrg)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, booking.ID, taken.ID, "ownership moves on the existing row")
	assert.Equal(t, takerOrg, taken.OrgID)
	assert.True(t, taken.Interval.Equal(interval), "the interval must be preserved to the instant")
	assert.False(t, taken.IsReleased)

	persisted := BookingsForWorker(t, env.ctx, env.engine, worker.ID)
	assert.Len(t, persisted, 1, "no new booking row may appear")
	assert.Equal(t, takerOrg, persisted[0].OrgID)

	assert.Equal(t, 1, env.notifier.CountKind(NotifyReleaseTaken))
}

func Test_TakeReleaseOffer_VisibilityAndRaces(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	fromOrg := GivenUniqueID(t)
	partnerOrg := GivenUniqueID(t)
	env.directory.AddPartner(fromOrg, partnerOrg)

	t.Run("non_partner_cannot_see_the_offer", func(t *testing.T) {
		booking := GivenBookingExists(t, env.ctx, env.engine, fromOrg, FixtureAccountWorker(t), ShiftOn(4, 8, 16))
		release := GivenReleaseOfferExists(t, env.ctx, env.engine, booking.ID, fromOrg)

		_, err := env.engine.TakeReleaseOffer(env.ctx, release.ID, GivenUniqueID(t))

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("the_releasing_org_cannot_take_its_own_offer", func(t *testing.T) {
		booking := GivenBookingExists(t, env.ctx, env.engine, fromOrg, FixtureAccountWorker(t), ShiftOn(5, 8, 16))
		release := GivenReleaseOfferExists(t, env.ctx, env.engine, booking.ID, fromOrg)

		_, err := env.engine.TakeReleaseOffer(env.ctx, release.ID, fromOrg)

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("the_second_take_loses_the_race", func(t *testing.T) {
		booking := GivenBookingExists(t, env.ctx, env.engine, fromOrg, FixtureAccountWorker(t), ShiftOn(6, 8, 16))
		release := GivenReleaseOfferExists(t, env.ctx, env.engine, booking.ID, fromOrg)

		_, firstErr := env.engine.TakeReleaseOffer(env.ctx, release.ID, partnerOrg)
		assert.NoError(t, firstErr)

		otherPartner := GivenUniqueID(t)
		env.directory.AddPartner(fromOrg, otherPartner)
		_, secondErr := env.engine.TakeReleaseOffer(env.ctx, release.ID, otherPartner)

		assert.ErrorIs(t, secondErr, ErrAlreadyTaken)
	})

	t.Run("a_cancelled_offer_cannot_be_taken", func(t *testing.T) {
		booking := GivenBookingExists(t, env.ctx, env.engine, fromOrg, FixtureAccountWorker(t), ShiftOn(7, 8, 16))
		release := GivenReleaseOfferExists(t, env.ctx, env.engine, booking.ID, fromOrg)
		assert.NoError(t, env.engine.CancelReleaseOffer(env.ctx, release.ID, fromOrg))

		_, err := env.engine.TakeReleaseOffer(env.ctx, release.ID, partnerOrg)

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func Test_CancelReleaseOffer(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	fromOrg := GivenUniqueID(t)
	worker := FixtureAccountWorker(t)
	booking := GivenBookingExists(t, env.ctx, env.engine, fromOrg, worker, ShiftOn(4, 8, 16))
	release := GivenReleaseOfferExists(t, env.ctx, env.engine, booking.ID, fromOrg)

	// act
	err := env.engine.CancelReleaseOffer(env.ctx, release.ID, fromOrg)

	// assert
	assert.NoError(t, err)

	persisted := BookingsForWorker(t, env.ctx, env.engine, worker.ID)
	assert.Len(t, persisted, 1)
	assert.False(t, persisted[0].IsReleased, "cancelling must clear the released mark")
	assert.Equal(t, 1, env.notifier.CountKind(NotifyReleaseCancelled))

	// act - cancelling again is an idempotent no-op
	assert.NoError(t, env.engine.CancelReleaseOffer(env.ctx, release.ID, fromOrg))
	assert.Equal(t, 1, env.notifier.CountKind(NotifyReleaseCancelled), "idempotent repeat must not notify again")
}

func Test_CancelReleaseOffer_OwnershipAndRaces(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	fromOrg := GivenUniqueID(t)
	partnerOrg := GivenUniqueID(t)
	env.directory.AddPartner(fromOrg, partnerOrg)

	t.Run("only_the_releasing_org_can_cancel", func(t *testing.T) {
		booking := GivenBookingExists(t, env.ctx, env.engine, fromOrg, FixtureAccountWorker(t), ShiftOn(4, 8, 16))
		release := GivenReleaseOfferExists(t, env.ctx, env.engine, booking.ID, fromOrg)

		err := env.engine.CancelReleaseOffer(env.ctx, release.ID, GivenUniqueID(t))

		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("cancelling_a_taken_offer_reports_already_taken", func(t *testing.T) {
		booking := GivenBookingExists(t, env.ctx, env.engine, fromOrg, FixtureAccountWorker(t), ShiftOn(5, 8, 16))
		release := GivenReleaseOfferExists(t, env.ctx, env.engine, booking.ID, fromOrg)
		_, takeErr := env.engine.TakeReleaseOffer(env.ctx, release.ID, partnerOrg)
		assert.NoError(t, takeErr)

		err := env.engine.CancelReleaseOffer(env.ctx, release.ID, fromOrg)

		assert.ErrorIs(t, err, ErrAlreadyTaken)
	})
}

func Test_QueryBookings_FilterCombinations(t *testing.T) {
	// setup
	env, cleanup := setupTestEnvironment(t)
	defer cleanup()

	// arrange
	orgA := GivenUniqueID(t)
	orgB := GivenUniqueID(t)
	worker := FixtureAccountWorker(t)
	first := GivenBookingExists(t, env.ctx, env.engine, orgA, worker, ShiftOn(4, 8, 16))
	second := GivenBookingExists(t, env.ctx, env.engine, orgB, worker, ShiftOn(5, 8, 16))
	GivenReleaseOfferExists(t, env.ctx, env.engine, second.ID, orgB)

	t.Run("owned_by_one_org", func(t *testing.T) {
		filter, err := BuildBookingFilter().ForWorkers(worker.ID).OwnedBy(orgA).Finalize()
		assert.NoError(t, err)

		bookings, queryErr := env.engine.QueryBookings(env.ctx, filter)

		assert.NoError(t, queryErr)
		assert.Len(t, bookings, 1)
		assert.Equal(t, first.ID, bookings[0].ID)
	})

	t.Run("not_owned_by_one_org", func(t *testing.T) {
		filter, err := BuildBookingFilter().ForWorkers(worker.ID).NotOwnedBy(orgA).Finalize()
		assert.NoError(t, err)

		bookings, queryErr := env.engine.QueryBookings(env.ctx, filter)

		assert.NoError(t, queryErr)
		assert.Len(t, bookings, 1)
		assert.Equal(t, second.ID, bookings[0].ID)
	})

	t.Run("only_released", func(t *testing.T) {
		filter, err := BuildBookingFilter().ForWorkers(worker.ID).OnlyReleased().Finalize()
		assert.NoError(t, err)

		bookings, queryErr := env.engine.QueryBookings(env.ctx, filter)

		assert.NoError(t, queryErr)
		assert.Len(t, bookings, 1)
		assert.Equal(t, second.ID, bookings[0].ID)
	})

	t.Run("overlapping_window", func(t *testing.T) {
		filter, err := BuildBookingFilter().
			ForWorkers(worker.ID).
			OverlappingWindow(ShiftOn(4, 0, 24)).
			Finalize()
		assert.NoError(t, err)

		bookings, queryErr := env.engine.QueryBookings(env.ctx, filter)

		assert.NoError(t, queryErr)
		assert.Len(t, bookings, 1)
		assert.Equal(t, first.ID, bookings[0].ID)
	})
}
