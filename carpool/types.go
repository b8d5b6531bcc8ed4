/*
Package carpool implements the ride and booking transaction engine.

PURPOSE:
  Drivers publish rides, passengers book seats, and the credit ledger
  mediates payment between them. Every state change that moves credits
  (booking, cancelling, completing a ride, resolving a dispute) runs as one
  storage transaction together with its ledger entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A user with a credit balance
  - Ride: A published trip with seat capacity and a lifecycle status
  - Booking: One passenger's claim on one seat, with the price locked in
  - Dispute: An out-of-band correction tied to one ride/booking pair

LIFECYCLES:
  Ride:    available|pending -> in_progress -> completed
           available|pending|in_progress -> cancelled
  Booking: confirmed -> cancelled
  Dispute: open -> escalated -> resolved
           open -> resolved

SEE ALSO:
  - engine.go: Book / CancelBooking / CancelRide
  - lifecycle.go: PublishRide / StartRide / CompleteRide
  - dispute.go: OpenDispute / ResolveDispute / EscalateDispute
  - ledger/ledger.go: Credit postings
*/
package carpool

import (
	"time"

	"github.com/ecoride/carpool-engine/ledger"
)

// PlatformFee is the number of credits the platform keeps per seat when a
// ride completes.
const PlatformFee ledger.Credits = 2

// DefaultRegistrationCredits is granted to new accounts when no amount is
// configured.
const DefaultRegistrationCredits ledger.Credits = 20

// =============================================================================
// ACCOUNT
// =============================================================================

type Role string

const (
	RoleUser     Role = "user"
	RoleDriver   Role = "driver"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

type Account struct {
	ID           ledger.AccountID
	Pseudo       string
	Email        string
	PasswordHash string
	Role         Role
	Credits      ledger.Credits
	CreatedAt    time.Time
}

// =============================================================================
// RIDE
// =============================================================================

type RideStatus string

const (
	RideAvailable  RideStatus = "available"
	RidePending    RideStatus = "pending"
	RideInProgress RideStatus = "in_progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

// Bookable reports whether seats can still be booked or the ride started.
func (s RideStatus) Bookable() bool {
	return s == RideAvailable || s == RidePending
}

var (
	startableStatuses   = []RideStatus{RideAvailable, RidePending}
	cancellableStatuses = []RideStatus{RideAvailable, RidePending, RideInProgress}
)

type Ride struct {
	ID             string
	DriverID       ledger.AccountID
	DepartureCity  string
	ArrivalCity    string
	DepartureAt    time.Time
	ArrivalAt      time.Time
	SeatsTotal     int // capacity at publish time, never changes
	SeatsAvailable int
	PriceCredits   ledger.Credits
	Status         RideStatus
	ActualStartAt  *time.Time
	ActualEndAt    *time.Time
	CreatedAt      time.Time
}

// NewRide is the input for PublishRide.
type NewRide struct {
	DriverID      ledger.AccountID
	DepartureCity string
	ArrivalCity   string
	DepartureAt   time.Time
	ArrivalAt     time.Time
	Seats         int
	PriceCredits  ledger.Credits
}

// RideFilter narrows ListRides. Zero values mean "no filter".
type RideFilter struct {
	DepartureCity string
	ArrivalCity   string
	MaxPrice      ledger.Credits
	DriverID      ledger.AccountID
	Statuses      []RideStatus
	Limit         int
}

// =============================================================================
// BOOKING
// =============================================================================

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type Booking struct {
	ID            string
	RideID        string
	PassengerID   ledger.AccountID
	Status        BookingStatus
	CreditsAmount ledger.Credits // price debited at booking time; refunds use exactly this
	CreatedAt     time.Time
	CancelledAt   *time.Time
}

// =============================================================================
// DISPUTE
// =============================================================================

type DisputeStatus string

const (
	DisputeOpen      DisputeStatus = "open"
	DisputeEscalated DisputeStatus = "escalated"
	DisputeResolved  DisputeStatus = "resolved"
)

type ResolutionType string

const (
	ResolutionRefundPassenger   ResolutionType = "refund-passenger"
	ResolutionRefundHalf        ResolutionType = "refund-50"
	ResolutionCompensateDriver  ResolutionType = "compensate-driver"
	ResolutionMinorCompensation ResolutionType = "minor-compensation"
)

type Dispute struct {
	ID               string
	RideID           string
	BookingID        string
	Reason           string
	Status           DisputeStatus
	ResolutionType   ResolutionType
	ResolutionNotes  string
	Amount           ledger.Credits
	ResolvedBy       string
	EscalationReason string
	EscalatedBy      string
	ResolvedAt       *time.Time
	EscalatedAt      *time.Time
	CreatedAt        time.Time
}

// NewDispute is the input for OpenDispute.
type NewDispute struct {
	BookingID string
	Reason    string
}

// Resolution is the input for ResolveDispute.
type Resolution struct {
	Type       ResolutionType
	Notes      string
	ResolvedBy string
}
