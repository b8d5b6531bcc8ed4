/*
engine_test.go - Booking and cancellation tests

Covers:
- Booking the last seat and booking without enough credits
- No oversell with concurrent bookers
- Cancellation refunds exactly once, including concurrent cancellers
- Atomicity when storage fails after the ledger write
- Ledger audit running alongside committing writes
*/
package carpool_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoride/carpool-engine/carpool"
	"github.com/ecoride/carpool-engine/ledger"
	"github.com/ecoride/carpool-engine/store/sqlite"
)

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *sqlite.Store
	engine *carpool.Engine
	events *eventRecorder
}

type eventRecorder struct {
	mu     sync.Mutex
	events []carpool.Event
}

func (r *eventRecorder) Notify(_ context.Context, e carpool.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []carpool.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []carpool.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{t: t, ctx: context.Background(), store: store, events: &eventRecorder{}}
	f.engine = f.newEngine(store)
	return f
}

func (f *fixture) newEngine(store carpool.Store, opts ...carpool.Option) *carpool.Engine {
	base := []carpool.Option{
		carpool.WithLogger(quietLogger()),
		carpool.WithNotifier(f.events),
		carpool.WithRegistrationCredits(0),
	}
	return carpool.New(store, append(base, opts...)...)
}

// account opens an account and tops it up to credits.
func (f *fixture) account(name string, credits ledger.Credits) ledger.AccountID {
	f.t.Helper()
	acc, err := f.engine.OpenAccount(f.ctx, carpool.NewAccount{
		Pseudo:   name,
		Email:    name + "@example.com",
		Password: "secret-" + name,
	})
	require.NoError(f.t, err)
	if credits > 0 {
		_, err = f.engine.GrantCredits(f.ctx, acc.ID, credits, "test funding")
		require.NoError(f.t, err)
	}
	return acc.ID
}

func (f *fixture) ride(driver ledger.AccountID, seats int, price ledger.Credits) *carpool.Ride {
	f.t.Helper()
	dep := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	ride, err := f.engine.PublishRide(f.ctx, carpool.NewRide{
		DriverID:      driver,
		DepartureCity: "Paris",
		ArrivalCity:   "Lyon",
		DepartureAt:   dep,
		ArrivalAt:     dep.Add(4 * time.Hour),
		Seats:         seats,
		PriceCredits:  price,
	})
	require.NoError(f.t, err)
	return ride
}

func (f *fixture) balance(id ledger.AccountID) ledger.Credits {
	f.t.Helper()
	b, err := f.store.Balance(f.ctx, id)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) entries(id ledger.AccountID) []ledger.Entry {
	f.t.Helper()
	e, err := f.store.Entries(f.ctx, id)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) getRide(id string) *carpool.Ride {
	f.t.Helper()
	r, err := f.store.GetRide(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, r)
	return r
}

func (f *fixture) getBooking(id string) *carpool.Booking {
	f.t.Helper()
	b, err := f.store.GetBooking(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, b)
	return b
}

// assertConserved checks balance == sum(entries) on every account.
func (f *fixture) assertConserved() {
	f.t.Helper()
	report, err := carpool.VerifyLedger(f.ctx, f.store)
	require.NoError(f.t, err)
	assert.True(f.t, report.OK(), "ledger drift: %+v", report.Mismatches)
}

// =============================================================================
// BOOK
// =============================================================================

func TestBook_LastSeat(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("alice", 50)
	ride := f.ride(driver, 1, 45)

	res, err := f.engine.Book(f.ctx, ride.ID, passenger)
	require.NoError(t, err)

	assert.Equal(t, carpool.BookingConfirmed, res.Booking.Status)
	assert.Equal(t, ledger.Credits(45), res.Booking.CreditsAmount)
	assert.Equal(t, ledger.Credits(5), res.Balance)
	assert.Equal(t, 0, res.SeatsAvailable)

	assert.Equal(t, ledger.Credits(5), f.balance(passenger))
	assert.Equal(t, 0, f.getRide(ride.ID).SeatsAvailable)

	entries := f.entries(passenger)
	require.Len(t, entries, 3) // registration, top-up, booking
	debit := entries[2]
	assert.Equal(t, ledger.Credits(-45), debit.Amount)
	assert.Equal(t, ledger.EntryDebit, debit.Type)
	assert.Equal(t, ledger.BookingRef(res.Booking.ID), debit.Reference)
	assert.Equal(t, ledger.Credits(5), debit.BalanceAfter)

	assert.Equal(t, []carpool.EventType{carpool.EventBookingConfirmed}, f.events.types())
	f.assertConserved()
}

func TestBook_InsufficientCredits(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("bob", 5)
	ride := f.ride(driver, 3, 45)

	_, err := f.engine.Book(f.ctx, ride.ID, passenger)
	require.ErrorIs(t, err, carpool.ErrInsufficientCredits)
	assert.Equal(t, carpool.KindInsufficientCredits, carpool.KindOf(err))

	var short *carpool.InsufficientCreditsError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, ledger.Credits(5), short.Available)
	assert.Equal(t, ledger.Credits(45), short.Requested)
	assert.Equal(t, ledger.Credits(40), short.Shortfall())

	assert.Equal(t, ledger.Credits(5), f.balance(passenger))
	assert.Len(t, f.entries(passenger), 2)
	assert.Equal(t, 3, f.getRide(ride.ID).SeatsAvailable)

	bookings, err := f.store.RideBookings(f.ctx, ride.ID)
	require.NoError(t, err)
	assert.Empty(t, bookings)
	assert.Empty(t, f.events.types())
}

func TestBook_ExactBalanceAllowed(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("carol", 30)
	ride := f.ride(driver, 2, 30)

	res, err := f.engine.Book(f.ctx, ride.ID, passenger)
	require.NoError(t, err)
	assert.Equal(t, ledger.Credits(0), res.Balance)
	f.assertConserved()
}

func TestBook_FullRide(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	first := f.account("first", 100)
	second := f.account("second", 100)
	ride := f.ride(driver, 1, 10)

	_, err := f.engine.Book(f.ctx, ride.ID, first)
	require.NoError(t, err)

	_, err = f.engine.Book(f.ctx, ride.ID, second)
	require.ErrorIs(t, err, carpool.ErrNoSeatsAvailable)
	assert.Equal(t, ledger.Credits(100), f.balance(second))
}

func TestBook_NotFound(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("dave", 100)
	ride := f.ride(driver, 2, 10)

	_, err := f.engine.Book(f.ctx, "missing-ride", passenger)
	require.ErrorIs(t, err, carpool.ErrRideNotFound)
	assert.True(t, carpool.IsNotFound(err))

	_, err = f.engine.Book(f.ctx, ride.ID, "missing-user")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Equal(t, carpool.KindNotFound, carpool.KindOf(err))
	assert.Equal(t, 2, f.getRide(ride.ID).SeatsAvailable)
}

func TestBook_RejectsRideNotOpenForBooking(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("erin", 100)
	ride := f.ride(driver, 2, 10)

	_, err := f.engine.StartRide(f.ctx, ride.ID)
	require.NoError(t, err)

	_, err = f.engine.Book(f.ctx, ride.ID, passenger)
	require.ErrorIs(t, err, carpool.ErrInvalidTransition)
	assert.Equal(t, ledger.Credits(100), f.balance(passenger))
}

func TestBook_ConcurrentBookersNeverOversell(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	ride := f.ride(driver, 2, 10)

	const bookers = 8
	passengers := make([]ledger.AccountID, bookers)
	for i := range passengers {
		passengers[i] = f.account(fmt.Sprintf("p%d", i), 50)
	}

	var wg sync.WaitGroup
	errs := make([]error, bookers)
	for i, p := range passengers {
		wg.Add(1)
		go func(i int, p ledger.AccountID) {
			defer wg.Done()
			_, errs[i] = f.engine.Book(f.ctx, ride.ID, p)
		}(i, p)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, carpool.ErrNoSeatsAvailable)
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 0, f.getRide(ride.ID).SeatsAvailable)

	var total ledger.Credits
	for _, p := range passengers {
		total += f.balance(p)
	}
	assert.Equal(t, ledger.Credits(bookers*50-2*10), total)
	f.assertConserved()
}

// =============================================================================
// CANCEL BOOKING
// =============================================================================

func TestCancelBooking_RefundsLockedPrice(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("alice", 50)
	ride := f.ride(driver, 3, 45)

	booked, err := f.engine.Book(f.ctx, ride.ID, passenger)
	require.NoError(t, err)

	res, err := f.engine.CancelBooking(f.ctx, booked.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Credits(50), res.Balance)
	assert.Equal(t, 3, res.SeatsAvailable)
	assert.Equal(t, carpool.BookingCancelled, res.Booking.Status)
	require.NotNil(t, res.Booking.CancelledAt)

	stored := f.getBooking(booked.Booking.ID)
	assert.Equal(t, carpool.BookingCancelled, stored.Status)

	last := f.entries(passenger)[3]
	assert.Equal(t, ledger.Credits(45), last.Amount)
	assert.Equal(t, ledger.EntryCredit, last.Type)
	f.assertConserved()
}

func TestCancelBooking_SecondCancelIsRejected(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("alice", 50)
	ride := f.ride(driver, 3, 20)

	booked, err := f.engine.Book(f.ctx, ride.ID, passenger)
	require.NoError(t, err)
	_, err = f.engine.CancelBooking(f.ctx, booked.Booking.ID)
	require.NoError(t, err)

	_, err = f.engine.CancelBooking(f.ctx, booked.Booking.ID)
	require.ErrorIs(t, err, carpool.ErrBookingNotCancellable)

	assert.Equal(t, ledger.Credits(50), f.balance(passenger))
	assert.Len(t, f.entries(passenger), 4)
	assert.Equal(t, 3, f.getRide(ride.ID).SeatsAvailable)
}

func TestCancelBooking_ConcurrentCancellersRefundOnce(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("alice", 50)
	ride := f.ride(driver, 3, 20)

	booked, err := f.engine.Book(f.ctx, ride.ID, passenger)
	require.NoError(t, err)

	const cancellers = 6
	var wg sync.WaitGroup
	errs := make([]error, cancellers)
	for i := 0; i < cancellers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.CancelBooking(f.ctx, booked.Booking.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, carpool.ErrBookingNotCancellable)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, ledger.Credits(50), f.balance(passenger))
	assert.Equal(t, 3, f.getRide(ride.ID).SeatsAvailable)
	f.assertConserved()
}

func TestCancelBooking_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CancelBooking(f.ctx, "nope")
	require.ErrorIs(t, err, carpool.ErrBookingNotFound)
	require.ErrorIs(t, err, carpool.ErrNotFound)

	var nf *carpool.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "booking", nf.Entity)
}

func TestCancelBooking_CompletedRideIsRejected(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("alice", 50)
	ride := f.ride(driver, 3, 20)

	booked, err := f.engine.Book(f.ctx, ride.ID, passenger)
	require.NoError(t, err)
	_, err = f.engine.StartRide(f.ctx, ride.ID)
	require.NoError(t, err)
	_, err = f.engine.CompleteRide(f.ctx, ride.ID)
	require.NoError(t, err)

	_, err = f.engine.CancelBooking(f.ctx, booked.Booking.ID)
	require.ErrorIs(t, err, carpool.ErrBookingNotCancellable)
	assert.Equal(t, ledger.Credits(30), f.balance(passenger))
}

// =============================================================================
// ATOMICITY
// =============================================================================

var errDiskFull = errors.New("disk full")

// faultyStore injects storage failures into an otherwise real transaction.
type faultyStore struct {
	carpool.Store
	failTakeSeat    bool
	failAppendAfter int // fail the Nth Append inside a transaction; 0 = never
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(tx carpool.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx carpool.Tx) error {
		return fn(&faultyTx{Tx: tx, store: s})
	})
}

type faultyTx struct {
	carpool.Tx
	store   *faultyStore
	appends int
}

func (tx *faultyTx) TakeSeat(ctx context.Context, rideID string) (int, error) {
	if tx.store.failTakeSeat {
		return 0, errDiskFull
	}
	return tx.Tx.TakeSeat(ctx, rideID)
}

func (tx *faultyTx) Append(ctx context.Context, e ledger.Entry) error {
	tx.appends++
	if tx.store.failAppendAfter > 0 && tx.appends >= tx.store.failAppendAfter {
		return errDiskFull
	}
	return tx.Tx.Append(ctx, e)
}

func TestBook_FailureAfterLedgerWriteRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("alice", 50)
	ride := f.ride(driver, 1, 45)

	faulty := f.newEngine(&faultyStore{Store: f.store, failTakeSeat: true})
	_, err := faulty.Book(f.ctx, ride.ID, passenger)
	require.Error(t, err)
	assert.ErrorIs(t, err, carpool.ErrBookingFailed)
	assert.ErrorIs(t, err, carpool.ErrTransactionAborted)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, carpool.KindTransactionAborted, carpool.KindOf(err))
	assert.False(t, carpool.IsClientError(err))

	assert.Equal(t, ledger.Credits(50), f.balance(passenger))
	assert.Len(t, f.entries(passenger), 2)
	assert.Equal(t, 1, f.getRide(ride.ID).SeatsAvailable)

	bookings, err := f.store.RideBookings(f.ctx, ride.ID)
	require.NoError(t, err)
	assert.Empty(t, bookings)
	assert.Empty(t, f.events.types())
	f.assertConserved()
}

func TestCancelRide_PartialFailureRollsBackAllRefunds(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	ride := f.ride(driver, 3, 10)
	var passengers []ledger.AccountID
	for i := 0; i < 3; i++ {
		p := f.account(fmt.Sprintf("p%d", i), 10)
		_, err := f.engine.Book(f.ctx, ride.ID, p)
		require.NoError(t, err)
		passengers = append(passengers, p)
	}

	faulty := f.newEngine(&faultyStore{Store: f.store, failAppendAfter: 2})
	_, err := faulty.CancelRide(f.ctx, ride.ID)
	require.ErrorIs(t, err, carpool.ErrTransactionAborted)

	for _, p := range passengers {
		assert.Equal(t, ledger.Credits(0), f.balance(p))
	}
	stored := f.getRide(ride.ID)
	assert.Equal(t, carpool.RideAvailable, stored.Status)
	assert.Equal(t, 0, stored.SeatsAvailable)

	bookings, err := f.store.RideBookings(f.ctx, ride.ID)
	require.NoError(t, err)
	for _, b := range bookings {
		assert.Equal(t, carpool.BookingConfirmed, b.Status)
	}
	f.assertConserved()
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestNotifierFailureDoesNotUndoCommit(t *testing.T) {
	f := newFixture(t)
	driver := f.account("driver", 0)
	passenger := f.account("alice", 50)
	ride := f.ride(driver, 1, 10)

	broken := carpool.NotifierFunc(func(context.Context, carpool.Event) error {
		return errors.New("broker down")
	})
	eng := f.newEngine(f.store, carpool.WithNotifier(broken))

	res, err := eng.Book(f.ctx, ride.ID, passenger)
	require.NoError(t, err)
	assert.Equal(t, carpool.BookingConfirmed, f.getBooking(res.Booking.ID).Status)
	assert.Equal(t, ledger.Credits(40), f.balance(passenger))
}

// =============================================================================
// AUDIT
// =============================================================================

func TestVerifyLedger_NoDriftWhileWritesCommit(t *testing.T) {
	f := newFixture(t)
	alice := f.account("alice", 10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_, err := f.engine.GrantCredits(f.ctx, alice, 1, "top-up")
			assert.NoError(t, err)
		}
	}()

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		report, err := carpool.VerifyLedger(f.ctx, f.store)
		require.NoError(t, err)
		require.True(t, report.OK(), "ledger drift: %+v", report.Mismatches)
	}
	assert.Equal(t, ledger.Credits(60), f.balance(alice))
}
