package carpool_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoride/carpool-engine/carpool"
	"github.com/ecoride/carpool-engine/ledger"
)

func TestPublishRide_Validation(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	dep := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   carpool.NewRide
	}{
		{"no seats", carpool.NewRide{DriverID: driver, DepartureCity: "A", ArrivalCity: "B", DepartureAt: dep, Seats: 0, PriceCredits: 10}},
		{"negative price", carpool.NewRide{DriverID: driver, DepartureCity: "A", ArrivalCity: "B", DepartureAt: dep, Seats: 2, PriceCredits: -1}},
		{"missing city", carpool.NewRide{DriverID: driver, DepartureCity: "A", DepartureAt: dep, Seats: 2}},
		{"arrival before departure", carpool.NewRide{DriverID: driver, DepartureCity: "A", ArrivalCity: "B", DepartureAt: dep, ArrivalAt: dep.Add(-time.Hour), Seats: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.PublishRide(f.ctx, tt.in)
			assert.ErrorIs(t, err, carpool.ErrInvalidRequest)
		})
	}

	_, err := f.engine.PublishRide(f.ctx, carpool.NewRide{
		DriverID: "ghost", DepartureCity: "A", ArrivalCity: "B", DepartureAt: dep, Seats: 2,
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestPublishRide_StartsAvailableWithAllSeats(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	ride := f.ride(driver, 4, 15)

	stored := f.getRide(ride.ID)
	assert.Equal(t, carpool.RideAvailable, stored.Status)
	assert.Equal(t, 4, stored.SeatsTotal)
	assert.Equal(t, 4, stored.SeatsAvailable)
	assert.Equal(t, ledger.Credits(15), stored.PriceCredits)
	assert.Nil(t, stored.ActualStartAt)
}

func TestStartRide(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	ride := f.ride(driver, 2, 10)

	started, err := f.engine.StartRide(f.ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, carpool.RideInProgress, started.Status)
	require.NotNil(t, started.ActualStartAt)

	_, err = f.engine.StartRide(f.ctx, ride.ID)
	require.ErrorIs(t, err, carpool.ErrInvalidTransition)

	var te *carpool.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, string(carpool.RideInProgress), te.From)

	_, err = f.engine.StartRide(f.ctx, "missing")
	assert.ErrorIs(t, err, carpool.ErrRideNotFound)
}

func TestCompleteRide_PaysDriverPerSeatMinusFee(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	ride := f.ride(driver, 4, 10)
	for i := 0; i < 3; i++ {
		p := f.account(fmt.Sprintf("p%d", i), 10)
		_, err := f.engine.Book(f.ctx, ride.ID, p)
		require.NoError(t, err)
	}

	_, err := f.engine.StartRide(f.ctx, ride.ID)
	require.NoError(t, err)

	payout, err := f.engine.CompleteRide(f.ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, payout.PassengerCount)
	assert.Equal(t, ledger.Credits(8), payout.PerSeat)
	assert.Equal(t, ledger.Credits(24), payout.Total)
	assert.Equal(t, ledger.Credits(24), payout.DriverBalance)
	assert.Equal(t, carpool.RideCompleted, payout.Ride.Status)
	require.NotNil(t, payout.Ride.ActualEndAt)

	entries := f.entries(driver)
	require.Len(t, entries, 2) // registration, payout
	assert.Equal(t, ledger.Credits(24), entries[1].Amount)
	assert.Equal(t, ledger.EntryCredit, entries[1].Type)
	assert.Equal(t, ledger.RideRef(ride.ID), entries[1].Reference)

	// Bookings stay confirmed through completion.
	bookings, err := f.store.RideBookings(f.ctx, ride.ID)
	require.NoError(t, err)
	for _, b := range bookings {
		assert.Equal(t, carpool.BookingConfirmed, b.Status)
	}
	f.assertConserved()
}

func TestCompleteRide_ZeroPayoutIsStillLogged(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("alice", 10)
	ride := f.ride(driver, 2, 2)

	_, err := f.engine.Book(f.ctx, ride.ID, passenger)
	require.NoError(t, err)
	_, err = f.engine.StartRide(f.ctx, ride.ID)
	require.NoError(t, err)

	payout, err := f.engine.CompleteRide(f.ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Credits(0), payout.Total)

	entries := f.entries(driver)
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Amount.IsZero())
}

func TestCompleteRide_RequiresInProgress(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	ride := f.ride(driver, 2, 10)

	_, err := f.engine.CompleteRide(f.ctx, ride.ID)
	require.ErrorIs(t, err, carpool.ErrInvalidTransition)

	_, err = f.engine.StartRide(f.ctx, ride.ID)
	require.NoError(t, err)
	_, err = f.engine.CompleteRide(f.ctx, ride.ID)
	require.NoError(t, err)

	_, err = f.engine.CompleteRide(f.ctx, ride.ID)
	require.ErrorIs(t, err, carpool.ErrInvalidTransition)
	assert.Len(t, f.entries(driver), 2, "a second completion must not pay twice")
}

func TestCancelRide_RefundsEveryConfirmedBooking(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	alice := f.account("alice", 50)
	bob := f.account("bob", 50)
	ride := f.ride(driver, 3, 45)

	a, err := f.engine.Book(f.ctx, ride.ID, alice)
	require.NoError(t, err)
	b, err := f.engine.Book(f.ctx, ride.ID, bob)
	require.NoError(t, err)
	// Bob cancels himself first; he must not be refunded twice.
	_, err = f.engine.CancelBooking(f.ctx, b.Booking.ID)
	require.NoError(t, err)

	res, err := f.engine.CancelRide(f.ctx, ride.ID)
	require.NoError(t, err)
	require.Len(t, res.Refunds, 1)
	assert.Equal(t, alice, res.Refunds[0].PassengerID)
	assert.Equal(t, ledger.Credits(45), res.Refunds[0].Amount)
	assert.Equal(t, ledger.Credits(50), res.Refunds[0].Balance)

	assert.Equal(t, carpool.RideCancelled, res.Ride.Status)
	assert.Equal(t, 3, res.Ride.SeatsAvailable)
	assert.Equal(t, carpool.BookingCancelled, f.getBooking(a.Booking.ID).Status)

	assert.Equal(t, ledger.Credits(50), f.balance(alice))
	assert.Equal(t, ledger.Credits(50), f.balance(bob))

	refund := f.entries(alice)[3]
	assert.Equal(t, ledger.Credits(45), refund.Amount)
	assert.Equal(t, ledger.EntryCredit, refund.Type)

	assert.Contains(t, f.events.types(), carpool.EventRideCancelled)
	f.assertConserved()
}

func TestCancelRide_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)

	cancelled := f.ride(driver, 1, 5)
	_, err := f.engine.CancelRide(f.ctx, cancelled.ID)
	require.NoError(t, err)
	_, err = f.engine.CancelRide(f.ctx, cancelled.ID)
	assert.ErrorIs(t, err, carpool.ErrInvalidTransition)
	_, err = f.engine.StartRide(f.ctx, cancelled.ID)
	assert.ErrorIs(t, err, carpool.ErrInvalidTransition)

	completed := f.ride(driver, 1, 5)
	_, err = f.engine.StartRide(f.ctx, completed.ID)
	require.NoError(t, err)
	_, err = f.engine.CompleteRide(f.ctx, completed.ID)
	require.NoError(t, err)
	_, err = f.engine.CancelRide(f.ctx, completed.ID)
	assert.ErrorIs(t, err, carpool.ErrInvalidTransition)
}

func TestCancelRide_InProgressAllowed(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("alice", 20)
	ride := f.ride(driver, 2, 20)

	_, err := f.engine.Book(f.ctx, ride.ID, passenger)
	require.NoError(t, err)
	_, err = f.engine.StartRide(f.ctx, ride.ID)
	require.NoError(t, err)

	_, err = f.engine.CancelRide(f.ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Credits(20), f.balance(passenger))
	f.assertConserved()
}
