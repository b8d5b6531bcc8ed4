package carpool

import (
	"context"
	"fmt"
	"time"

	"github.com/ecoride/carpool-engine/ledger"
)

// ErrDuplicateAccount is returned when the email is already registered.
var ErrDuplicateAccount = fmt.Errorf("%w: email already registered", ErrInvalidRequest)

// Store runs engine mutations atomically.
//
// WithTx must serialize conflicting writers on the same ride and booking
// rows (a process lock for SQLite, row locks for PostgreSQL). If fn returns
// an error nothing it wrote is visible afterwards.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transaction-scoped view of storage. It is also a ledger.Store,
// so credit postings join the same transaction as the state changes.
//
// Get* methods return (nil, nil) when the row does not exist. Conditional
// updates return false when no row matched their guard.
type Tx interface {
	ledger.Store

	GetAccount(ctx context.Context, id ledger.AccountID) (*Account, error)
	InsertAccount(ctx context.Context, a Account) error

	// GetRide reads the ride and, where the backend supports it, locks the
	// row until the transaction ends.
	GetRide(ctx context.Context, id string) (*Ride, error)
	InsertRide(ctx context.Context, r Ride) error
	// TakeSeat decrements seats_available only if it is positive and
	// returns the new count. Returns ErrNoSeatsAvailable otherwise.
	TakeSeat(ctx context.Context, rideID string) (int, error)
	// ReleaseSeat increments seats_available without exceeding seats_total.
	ReleaseSeat(ctx context.Context, rideID string) (int, error)
	// UpdateRideStatus moves the ride to `to` if its status is one of from.
	// Moving to in_progress stamps actual_start_at, to completed stamps
	// actual_end_at, and to cancelled restores seats_available.
	UpdateRideStatus(ctx context.Context, rideID string, from []RideStatus, to RideStatus, at time.Time) (bool, error)

	GetBooking(ctx context.Context, id string) (*Booking, error)
	InsertBooking(ctx context.Context, b Booking) error
	// CancelBooking flips confirmed to cancelled. False if not confirmed.
	CancelBooking(ctx context.Context, id string, at time.Time) (bool, error)
	ConfirmedBookings(ctx context.Context, rideID string) ([]Booking, error)

	GetDispute(ctx context.Context, id string) (*Dispute, error)
	InsertDispute(ctx context.Context, d Dispute) error
	// BookingDispute returns the dispute filed against the booking, if any.
	BookingDispute(ctx context.Context, bookingID string) (*Dispute, error)
	// ResolveDispute writes the resolution fields if the dispute is open or
	// escalated.
	ResolveDispute(ctx context.Context, d Dispute) (bool, error)
	// EscalateDispute writes the escalation fields if the dispute is open.
	EscalateDispute(ctx context.Context, d Dispute) (bool, error)
}

// Reader serves queries outside of any engine transaction.
type Reader interface {
	ledger.Reader

	GetAccount(ctx context.Context, id ledger.AccountID) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	ListAccountIDs(ctx context.Context) ([]ledger.AccountID, error)

	GetRide(ctx context.Context, id string) (*Ride, error)
	ListRides(ctx context.Context, filter RideFilter) ([]Ride, error)

	GetBooking(ctx context.Context, id string) (*Booking, error)
	RideBookings(ctx context.Context, rideID string) ([]Booking, error)
	PassengerBookings(ctx context.Context, passengerID ledger.AccountID) ([]Booking, error)

	GetDispute(ctx context.Context, id string) (*Dispute, error)
	ListDisputes(ctx context.Context, statuses ...DisputeStatus) ([]Dispute, error)
}
