package lending_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/shiftcircle/lending-engine-go/lending"
)

func Test_BookingFilterBuilder_ValidCombinations(t *testing.T) {
	workerA := uuid.New()
	workerB := uuid.New()
	orgID := uuid.New()

	tests := []struct {
		name     string
		build    func() (lending.BookingFilter, error)
		validate func(t *testing.T, f lending.BookingFilter)
	}{
		{
			name: "workers_only_filter",
			build: func() (lending.BookingFilter, error) {
				return lending.BuildBookingFilter().
					ForWorkers(workerA, workerB).
					Finalize()
			},
			validate: func(t *testing.T, f lending.BookingFilter) {
				assert.Len(t, f.Workers(), 2)
				_, hasOwner := f.OwnedBy()
				assert.False(t, hasOwner)
				_, hasWindow := f.Window()
				assert.False(t, hasWindow)
				assert.False(t, f.ReleasedOnly())
			},
		},
		{
			name: "owner_and_window_filter",
			build: func() (lending.BookingFilter, error) {
				win := lending.NewInterval(
					time.Date(2030, time.March, 4, 8, 0, 0, 0, time.UTC),
					time.Date(2030, time.March, 4, 16, 0, 0, 0, time.UTC),
				)
				return lending.BuildBookingFilter().
					OwnedBy(orgID).
					OverlappingWindow(win).
					Finalize()
			},
			validate: func(t *testing.T, f lending.BookingFilter) {
				owner, hasOwner := f.OwnedBy()
				assert.True(t, hasOwner)
				assert.Equal(t, orgID, owner)
				_, hasWindow := f.Window()
				assert.True(t, hasWindow)
			},
		},
		{
			name: "excluded_org_filter",
			build: func() (lending.BookingFilter, error) {
				return lending.BuildBookingFilter().
					ForWorkers(workerA).
					NotOwnedBy(orgID).
					Finalize()
			},
			validate: func(t *testing.T, f lending.BookingFilter) {
				excluded, hasExcluded := f.ExcludedOrg()
				assert.True(t, hasExcluded)
				assert.Equal(t, orgID, excluded)
			},
		},
		{
			name: "released_only_filter",
			build: func() (lending.BookingFilter, error) {
				return lending.BuildBookingFilter().
					OnlyReleased().
					Finalize()
			},
			validate: func(t *testing.T, f lending.BookingFilter) {
				assert.True(t, f.ReleasedOnly())
				assert.Empty(t, f.Workers())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.build()

			assert.NoError(t, err)
			tt.validate(t, f)
		})
	}
}

func Test_BookingFilterBuilder_SanitizesWorkerIDs(t *testing.T) {
	workerA := uuid.New()
	workerB := uuid.New()

	f, err := lending.BuildBookingFilter().
		ForWorkers(workerB, uuid.Nil, workerA, workerB).
		Finalize()

	assert.NoError(t, err)
	assert.Len(t, f.Workers(), 2, "zero IDs dropped, duplicates collapsed")
	assert.NotContains(t, f.Workers(), uuid.Nil)
	assert.Contains(t, f.Workers(), workerA)
	assert.Contains(t, f.Workers(), workerB)
}

func Test_BookingFilterBuilder_InvalidCombinations(t *testing.T) {
	t.Run("empty_filter_is_rejected", func(t *testing.T) {
		_, err := lending.BuildBookingFilter().Finalize()

		assert.ErrorIs(t, err, lending.ErrEmptyFilter)
	})

	t.Run("filter_with_only_zero_worker_ids_is_rejected", func(t *testing.T) {
		_, err := lending.BuildBookingFilter().
			ForWorkers(uuid.Nil, uuid.Nil).
			Finalize()

		assert.ErrorIs(t, err, lending.ErrEmptyFilter)
	})

	t.Run("malformed_window_is_rejected", func(t *testing.T) {
		start := time.Date(2030, time.March, 4, 16, 0, 0, 0, time.UTC)
		end := time.Date(2030, time.March, 4, 8, 0, 0, 0, time.UTC)

		_, err := lending.BuildBookingFilter().
			OverlappingWindow(lending.NewInterval(start, end)).
			Finalize()

		assert.ErrorIs(t, err, lending.ErrInvalidFilterWindow)
	})
}
