// Package notify delivers carpool events outside the process: to RabbitMQ
// for downstream consumers (mailers, analytics) and to the structured log.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ecoride/carpool-engine/carpool"
)

// Log writes every event to a structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, e carpool.Event) error {
	l.logger.InfoContext(ctx, "event",
		"type", e.Type,
		"ride_id", e.RideID,
		"booking_id", e.BookingID,
		"dispute_id", e.DisputeID,
		"account_id", e.AccountID,
		"amount", e.Amount,
	)
	return nil
}

// Fanout delivers each event to every notifier, even when some fail.
type Fanout []carpool.Notifier

func (f Fanout) Notify(ctx context.Context, e carpool.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
