package carpool

import (
	"context"
	"time"

	"github.com/ecoride/carpool-engine/ledger"
)

type EventType string

const (
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventRideStarted      EventType = "ride.started"
	EventRideCompleted    EventType = "ride.completed"
	EventRideCancelled    EventType = "ride.cancelled"
	EventDisputeResolved  EventType = "dispute.resolved"
	EventDisputeEscalated EventType = "dispute.escalated"
)

// Event describes a committed state change. Events are emitted only after
// the transaction commits.
type Event struct {
	Type      EventType        `json:"type"`
	RideID    string           `json:"ride_id,omitempty"`
	BookingID string           `json:"booking_id,omitempty"`
	DisputeID string           `json:"dispute_id,omitempty"`
	AccountID ledger.AccountID `json:"account_id,omitempty"`
	Amount    ledger.Credits   `json:"amount,omitempty"`
	At        time.Time        `json:"at"`
}

// Notifier delivers events to users or downstream systems. A failing
// notifier never undoes a committed operation.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Event) error { return nil }
