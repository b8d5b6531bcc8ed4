/*
engine.go - Booking transaction engine

PURPOSE:
  Every operation that moves credits is one storage transaction containing
  the state change, the balance deltas and the ledger entries. The engine
  reads current state inside that transaction, checks preconditions there,
  and only then writes.

ORDER OF CHECKS (Book):
  1. Ride exists                  -> ErrRideNotFound
  2. Ride is available/pending    -> ErrInvalidTransition
  3. Seats left                   -> ErrNoSeatsAvailable
  4. Passenger exists             -> ledger.ErrAccountNotFound
  5. Passenger can pay            -> ErrInsufficientCredits
  6. Insert booking, debit, take seat (all or nothing)

CONCURRENCY:
  Two bookers for the last seat: the store serializes the transactions, and
  TakeSeat only decrements a positive counter, so the loser gets
  ErrNoSeatsAvailable and its debit is rolled back.

  Two cancellers of the same booking: CancelBooking is a compare-and-swap on
  status = 'confirmed', so exactly one refund is written.

SEE ALSO:
  - lifecycle.go: Ride start/complete
  - dispute.go: Dispute resolution
  - store.go: Storage contracts
*/
package carpool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ecoride/carpool-engine/ledger"
)

// Engine applies ride, booking and dispute transitions against a Store.
type Engine struct {
	store          Store
	logger         *slog.Logger
	notifier       Notifier
	now            func() time.Time
	initialCredits ledger.Credits
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRegistrationCredits sets the bonus granted by OpenAccount.
func WithRegistrationCredits(c ledger.Credits) Option {
	return func(e *Engine) { e.initialCredits = c }
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		logger:         slog.Default(),
		notifier:       discardNotifier{},
		now:            time.Now,
		initialCredits: DefaultRegistrationCredits,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// RESULTS
// =============================================================================

type BookingResult struct {
	Booking        Booking
	Entry          ledger.Entry
	Balance        ledger.Credits
	SeatsAvailable int
}

type CancellationResult struct {
	Booking        Booking
	Entry          ledger.Entry
	Balance        ledger.Credits
	SeatsAvailable int
}

// Refund is one passenger refund written by CancelRide.
type Refund struct {
	BookingID   string
	PassengerID ledger.AccountID
	Amount      ledger.Credits
	Balance     ledger.Credits
}

type RideCancellation struct {
	Ride    Ride
	Refunds []Refund
}

// =============================================================================
// BOOK
// =============================================================================

// Book reserves one seat on rideID for passengerID and debits the ride price.
func (e *Engine) Book(ctx context.Context, rideID string, passengerID ledger.AccountID) (*BookingResult, error) {
	if rideID == "" || passengerID == "" {
		return nil, fmt.Errorf("%w: ride and passenger are required", ErrInvalidRequest)
	}

	var result BookingResult
	err := e.run(ctx, "book", ErrBookingFailed, func(tx Tx) error {
		ride, err := e.loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if !ride.Status.Bookable() {
			return &TransitionError{Entity: "ride", ID: rideID, From: string(ride.Status), Action: "book"}
		}
		if ride.SeatsAvailable <= 0 {
			return ErrNoSeatsAvailable
		}

		passenger, err := e.loadAccount(ctx, tx, passengerID)
		if err != nil {
			return err
		}
		if passenger.Credits < ride.PriceCredits {
			return &InsufficientCreditsError{
				AccountID: passengerID,
				Available: passenger.Credits,
				Requested: ride.PriceCredits,
			}
		}

		booking := Booking{
			ID:            uuid.NewString(),
			RideID:        rideID,
			PassengerID:   passengerID,
			Status:        BookingConfirmed,
			CreditsAmount: ride.PriceCredits,
			CreatedAt:     e.now().UTC(),
		}
		if err := tx.InsertBooking(ctx, booking); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}

		entry, err := ledger.New(tx).Post(ctx, ledger.Posting{
			AccountID:   passengerID,
			Amount:      ride.PriceCredits.Neg(),
			Type:        ledger.EntryDebit,
			Reference:   ledger.BookingRef(booking.ID),
			Description: fmt.Sprintf("Booking %s -> %s", ride.DepartureCity, ride.ArrivalCity),
		})
		if err != nil {
			return err
		}

		seats, err := tx.TakeSeat(ctx, rideID)
		if err != nil {
			return err
		}

		result = BookingResult{Booking: booking, Entry: entry, Balance: entry.BalanceAfter, SeatsAvailable: seats}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("booking confirmed",
		"booking_id", result.Booking.ID, "ride_id", rideID, "passenger_id", passengerID,
		"amount", result.Booking.CreditsAmount, "seats_left", result.SeatsAvailable)
	e.publish(ctx, Event{
		Type:      EventBookingConfirmed,
		RideID:    rideID,
		BookingID: result.Booking.ID,
		AccountID: passengerID,
		Amount:    result.Booking.CreditsAmount,
	})
	return &result, nil
}

// =============================================================================
// CANCEL BOOKING
// =============================================================================

// CancelBooking refunds the locked price of a confirmed booking and frees its
// seat. A booking is refunded at most once.
func (e *Engine) CancelBooking(ctx context.Context, bookingID string) (*CancellationResult, error) {
	if bookingID == "" {
		return nil, fmt.Errorf("%w: booking is required", ErrInvalidRequest)
	}

	var result CancellationResult
	err := e.run(ctx, "cancel booking", ErrTransactionAborted, func(tx Tx) error {
		booking, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}
		if booking == nil {
			return bookingNotFound(bookingID)
		}
		if booking.Status != BookingConfirmed {
			return ErrBookingNotCancellable
		}
		// The driver has been paid for seats on a completed ride; refunds go
		// through a dispute instead.
		ride, err := e.loadRide(ctx, tx, booking.RideID)
		if err != nil {
			return err
		}
		if ride.Status == RideCompleted {
			return ErrBookingNotCancellable
		}

		now := e.now().UTC()
		ok, err := tx.CancelBooking(ctx, bookingID, now)
		if err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}
		if !ok {
			return ErrBookingNotCancellable
		}

		entry, err := ledger.New(tx).Post(ctx, ledger.Posting{
			AccountID:   booking.PassengerID,
			Amount:      booking.CreditsAmount,
			Type:        ledger.EntryCredit,
			Reference:   ledger.BookingRef(bookingID),
			Description: "Booking cancelled",
		})
		if err != nil {
			return err
		}

		seats, err := tx.ReleaseSeat(ctx, booking.RideID)
		if err != nil {
			return fmt.Errorf("release seat: %w", err)
		}

		booking.Status = BookingCancelled
		booking.CancelledAt = &now
		result = CancellationResult{Booking: *booking, Entry: entry, Balance: entry.BalanceAfter, SeatsAvailable: seats}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("booking cancelled",
		"booking_id", bookingID, "ride_id", result.Booking.RideID,
		"refund", result.Booking.CreditsAmount, "balance", result.Balance)
	e.publish(ctx, Event{
		Type:      EventBookingCancelled,
		RideID:    result.Booking.RideID,
		BookingID: bookingID,
		AccountID: result.Booking.PassengerID,
		Amount:    result.Booking.CreditsAmount,
	})
	return &result, nil
}

// =============================================================================
// CANCEL RIDE
// =============================================================================

// CancelRide refunds every confirmed booking and cancels the ride. Either all
// refunds happen or none.
func (e *Engine) CancelRide(ctx context.Context, rideID string) (*RideCancellation, error) {
	if rideID == "" {
		return nil, fmt.Errorf("%w: ride is required", ErrInvalidRequest)
	}

	var result RideCancellation
	err := e.run(ctx, "cancel ride", ErrTransactionAborted, func(tx Tx) error {
		ride, err := e.loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if ride.Status.Terminal() {
			return &TransitionError{Entity: "ride", ID: rideID, From: string(ride.Status), Action: "cancel"}
		}

		bookings, err := tx.ConfirmedBookings(ctx, rideID)
		if err != nil {
			return fmt.Errorf("load bookings: %w", err)
		}

		now := e.now().UTC()
		lg := ledger.New(tx)
		for _, b := range bookings {
			ok, err := tx.CancelBooking(ctx, b.ID, now)
			if err != nil {
				return fmt.Errorf("cancel booking %s: %w", b.ID, err)
			}
			if !ok {
				return fmt.Errorf("booking %s changed during ride cancellation", b.ID)
			}
			entry, err := lg.Post(ctx, ledger.Posting{
				AccountID:   b.PassengerID,
				Amount:      b.CreditsAmount,
				Type:        ledger.EntryCredit,
				Reference:   ledger.BookingRef(b.ID),
				Description: "Ride cancelled by driver",
			})
			if err != nil {
				return err
			}
			result.Refunds = append(result.Refunds, Refund{
				BookingID:   b.ID,
				PassengerID: b.PassengerID,
				Amount:      b.CreditsAmount,
				Balance:     entry.BalanceAfter,
			})
		}

		ok, err := tx.UpdateRideStatus(ctx, rideID, cancellableStatuses, RideCancelled, now)
		if err != nil {
			return fmt.Errorf("update ride: %w", err)
		}
		if !ok {
			return &TransitionError{Entity: "ride", ID: rideID, From: string(ride.Status), Action: "cancel"}
		}

		updated, err := e.loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		result.Ride = *updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("ride cancelled", "ride_id", rideID, "refunds", len(result.Refunds))
	e.publish(ctx, Event{Type: EventRideCancelled, RideID: rideID, AccountID: result.Ride.DriverID})
	for _, r := range result.Refunds {
		e.publish(ctx, Event{
			Type:      EventBookingCancelled,
			RideID:    rideID,
			BookingID: r.BookingID,
			AccountID: r.PassengerID,
			Amount:    r.Amount,
		})
	}
	return &result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// run executes fn in one transaction. Domain errors pass through unchanged;
// anything else is a storage failure and is reported as aborted.
func (e *Engine) run(ctx context.Context, op string, aborted error, fn func(tx Tx) error) error {
	err := e.store.WithTx(ctx, fn)
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	e.logger.Error("transaction aborted", "op", op, "error", err)
	return &AbortedError{Op: op, kind: aborted, Cause: err}
}

func (e *Engine) loadRide(ctx context.Context, tx Tx, id string) (*Ride, error) {
	ride, err := tx.GetRide(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load ride: %w", err)
	}
	if ride == nil {
		return nil, rideNotFound(id)
	}
	return ride, nil
}

func (e *Engine) loadAccount(ctx context.Context, tx Tx, id ledger.AccountID) (*Account, error) {
	acc, err := tx.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil {
		return nil, accountNotFound(id)
	}
	return acc, nil
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Warn("notification failed", "event", ev.Type, "error", err)
	}
}
