package carpool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoride/carpool-engine/carpool"
	"github.com/ecoride/carpool-engine/ledger"
)

type disputeSetup struct {
	driver    ledger.AccountID
	passenger ledger.AccountID
	ride      *carpool.Ride
	booking   carpool.Booking
	dispute   *carpool.Dispute
}

// disputed books one seat at price on a completed ride and opens a dispute.
func (f *fixture) disputed(price ledger.Credits, complete bool) disputeSetup {
	f.t.Helper()
	s := disputeSetup{
		driver:    f.account("driver", 0),
		passenger: f.account("alice", 100),
	}
	s.ride = f.ride(s.driver, 3, price)

	res, err := f.engine.Book(f.ctx, s.ride.ID, s.passenger)
	require.NoError(f.t, err)
	s.booking = res.Booking

	if complete {
		_, err = f.engine.StartRide(f.ctx, s.ride.ID)
		require.NoError(f.t, err)
		_, err = f.engine.CompleteRide(f.ctx, s.ride.ID)
		require.NoError(f.t, err)
	}

	s.dispute, err = f.engine.OpenDispute(f.ctx, carpool.NewDispute{BookingID: s.booking.ID, Reason: "driver never showed up"})
	require.NoError(f.t, err)
	return s
}

func TestResolutionAmount(t *testing.T) {
	tests := []struct {
		typ   carpool.ResolutionType
		price ledger.Credits
		want  ledger.Credits
	}{
		{carpool.ResolutionRefundPassenger, 40, 40},
		{carpool.ResolutionRefundHalf, 40, 20},
		{carpool.ResolutionRefundHalf, 45, 22},
		{carpool.ResolutionCompensateDriver, 45, 45},
		{carpool.ResolutionMinorCompensation, 40, 12},
		{carpool.ResolutionMinorCompensation, 45, 13},
		{carpool.ResolutionMinorCompensation, 3, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, err := carpool.ResolutionAmount(tt.typ, tt.price)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := carpool.ResolutionAmount("goodwill", 10)
	assert.ErrorIs(t, err, carpool.ErrUnknownResolution)
}

func TestOpenDispute(t *testing.T) {
	f := newFixture(t)
	s := f.disputed(40, true)

	assert.Equal(t, carpool.DisputeOpen, s.dispute.Status)
	assert.Equal(t, s.ride.ID, s.dispute.RideID)

	open, err := f.store.ListDisputes(f.ctx, carpool.DisputeOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, s.dispute.ID, open[0].ID)

	_, err = f.engine.OpenDispute(f.ctx, carpool.NewDispute{BookingID: "missing", Reason: "x"})
	assert.ErrorIs(t, err, carpool.ErrBookingNotFound)
	_, err = f.engine.OpenDispute(f.ctx, carpool.NewDispute{BookingID: s.booking.ID})
	assert.ErrorIs(t, err, carpool.ErrInvalidRequest)
}

func TestOpenDispute_OncePerBooking(t *testing.T) {
	f := newFixture(t)
	s := f.disputed(40, true)

	_, err := f.engine.OpenDispute(f.ctx, carpool.NewDispute{BookingID: s.booking.ID, Reason: "again"})
	assert.ErrorIs(t, err, carpool.ErrAlreadyDisputed)
	assert.Equal(t, carpool.KindInvalidRequest, carpool.KindOf(err))

	_, err = f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{Type: carpool.ResolutionRefundHalf})
	require.NoError(t, err)

	// A resolved dispute still blocks a new one.
	_, err = f.engine.OpenDispute(f.ctx, carpool.NewDispute{BookingID: s.booking.ID, Reason: "still unhappy"})
	assert.ErrorIs(t, err, carpool.ErrAlreadyDisputed)

	all, err := f.store.ListDisputes(f.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, ledger.Credits(80), f.balance(s.passenger))
	f.assertConserved()
}

func TestResolveDispute_HalfRefund(t *testing.T) {
	f := newFixture(t)
	s := f.disputed(40, true)
	before := f.balance(s.passenger)

	res, err := f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{
		Type:       carpool.ResolutionRefundHalf,
		Notes:      "late by two hours",
		ResolvedBy: "employee-1",
	})
	require.NoError(t, err)
	assert.Equal(t, s.passenger, res.Beneficiary)
	assert.Equal(t, ledger.Credits(20), res.Amount)
	assert.Equal(t, before+20, f.balance(s.passenger))

	entries := f.entries(s.passenger)
	last := entries[len(entries)-1]
	assert.Equal(t, ledger.Credits(20), last.Amount)
	assert.Equal(t, ledger.EntryCredit, last.Type)
	assert.Equal(t, ledger.DisputeRef(s.dispute.ID), last.Reference)

	stored, err := f.store.GetDispute(f.ctx, s.dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, carpool.DisputeResolved, stored.Status)
	assert.Equal(t, carpool.ResolutionRefundHalf, stored.ResolutionType)
	assert.Equal(t, "late by two hours", stored.ResolutionNotes)
	assert.Equal(t, ledger.Credits(20), stored.Amount)
	assert.Equal(t, "employee-1", stored.ResolvedBy)
	require.NotNil(t, stored.ResolvedAt)

	assert.Contains(t, f.events.types(), carpool.EventDisputeResolved)
	f.assertConserved()
}

func TestResolveDispute_DriverCompensation(t *testing.T) {
	for _, tt := range []struct {
		typ  carpool.ResolutionType
		want ledger.Credits
	}{
		{carpool.ResolutionCompensateDriver, 40},
		{carpool.ResolutionMinorCompensation, 12},
	} {
		t.Run(string(tt.typ), func(t *testing.T) {
			f := newFixture(t)
			s := f.disputed(40, true)
			before := f.balance(s.driver)

			res, err := f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{Type: tt.typ})
			require.NoError(t, err)
			assert.Equal(t, s.driver, res.Beneficiary)
			assert.Equal(t, before+tt.want, f.balance(s.driver))

			entries := f.entries(s.driver)
			assert.Equal(t, ledger.EntryCredit, entries[len(entries)-1].Type)
			f.assertConserved()
		})
	}
}

func TestResolveDispute_FullRefundCancelsBooking(t *testing.T) {
	f := newFixture(t)
	s := f.disputed(40, false)
	assert.Equal(t, 2, f.getRide(s.ride.ID).SeatsAvailable)

	_, err := f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{Type: carpool.ResolutionRefundPassenger})
	require.NoError(t, err)

	assert.Equal(t, ledger.Credits(100), f.balance(s.passenger))
	assert.Equal(t, carpool.BookingCancelled, f.getBooking(s.booking.ID).Status)
	assert.Equal(t, 3, f.getRide(s.ride.ID).SeatsAvailable)

	// The booking was refunded in full; no second refund path remains.
	_, err = f.engine.CancelBooking(f.ctx, s.booking.ID)
	assert.ErrorIs(t, err, carpool.ErrBookingNotCancellable)
	f.assertConserved()
}

func TestResolveDispute_HalfRefundSettlesBooking(t *testing.T) {
	f := newFixture(t)
	s := f.disputed(40, false)

	_, err := f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{Type: carpool.ResolutionRefundHalf})
	require.NoError(t, err)
	assert.Equal(t, ledger.Credits(80), f.balance(s.passenger))
	assert.Equal(t, carpool.BookingCancelled, f.getBooking(s.booking.ID).Status)
	assert.Equal(t, 3, f.getRide(s.ride.ID).SeatsAvailable)

	_, err = f.engine.CancelBooking(f.ctx, s.booking.ID)
	assert.ErrorIs(t, err, carpool.ErrBookingNotCancellable)

	res, err := f.engine.CancelRide(f.ctx, s.ride.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Refunds)

	assert.Equal(t, ledger.Credits(80), f.balance(s.passenger))
	f.assertConserved()
}

func TestResolveDispute_PassengerRefundNeedsConfirmedBooking(t *testing.T) {
	f := newFixture(t)
	s := f.disputed(40, false)

	_, err := f.engine.CancelBooking(f.ctx, s.booking.ID)
	require.NoError(t, err)
	before := f.balance(s.passenger)

	_, err = f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{Type: carpool.ResolutionRefundHalf})
	require.ErrorIs(t, err, carpool.ErrBookingNotCancellable)
	assert.Equal(t, before, f.balance(s.passenger))

	stored, err := f.store.GetDispute(f.ctx, s.dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, carpool.DisputeOpen, stored.Status)
}

func TestResolveDispute_Twice(t *testing.T) {
	f := newFixture(t)
	s := f.disputed(40, true)

	_, err := f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{Type: carpool.ResolutionCompensateDriver})
	require.NoError(t, err)
	balance := f.balance(s.driver)

	_, err = f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{Type: carpool.ResolutionCompensateDriver})
	require.ErrorIs(t, err, carpool.ErrInvalidTransition)
	assert.Equal(t, balance, f.balance(s.driver))
}

func TestResolveDispute_UnknownTypeIsRejected(t *testing.T) {
	f := newFixture(t)
	s := f.disputed(40, true)

	_, err := f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{Type: "goodwill"})
	require.ErrorIs(t, err, carpool.ErrUnknownResolution)
	assert.Equal(t, carpool.KindInvalidRequest, carpool.KindOf(err))

	stored, err := f.store.GetDispute(f.ctx, s.dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, carpool.DisputeOpen, stored.Status)
}

func TestResolveDispute_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ResolveDispute(f.ctx, "missing", carpool.Resolution{Type: carpool.ResolutionRefundHalf})
	assert.ErrorIs(t, err, carpool.ErrDisputeNotFound)
}

func TestEscalateDispute(t *testing.T) {
	f := newFixture(t)
	s := f.disputed(40, true)
	before := f.balance(s.passenger)

	esc, err := f.engine.EscalateDispute(f.ctx, s.dispute.ID, "needs manager", "employee-2")
	require.NoError(t, err)
	assert.Equal(t, carpool.DisputeEscalated, esc.Status)
	assert.Equal(t, "needs manager", esc.EscalationReason)
	require.NotNil(t, esc.EscalatedAt)
	assert.Equal(t, before, f.balance(s.passenger))

	_, err = f.engine.EscalateDispute(f.ctx, s.dispute.ID, "again", "employee-2")
	assert.ErrorIs(t, err, carpool.ErrInvalidTransition)

	// Escalated disputes can still be resolved.
	_, err = f.engine.ResolveDispute(f.ctx, s.dispute.ID, carpool.Resolution{Type: carpool.ResolutionRefundHalf})
	require.NoError(t, err)
	assert.Equal(t, before+20, f.balance(s.passenger))

	_, err = f.engine.EscalateDispute(f.ctx, s.dispute.ID, "too late", "employee-2")
	assert.ErrorIs(t, err, carpool.ErrInvalidTransition)
	f.assertConserved()
}
