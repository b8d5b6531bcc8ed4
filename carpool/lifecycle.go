package carpool

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ecoride/carpool-engine/ledger"
)

// Payout is the driver credit written when a ride completes.
type Payout struct {
	Ride           Ride
	PassengerCount int
	PerSeat        ledger.Credits
	Total          ledger.Credits
	Entry          ledger.Entry
	DriverBalance  ledger.Credits
}

// DriverShare is what the driver earns per confirmed seat.
func DriverShare(price ledger.Credits) ledger.Credits {
	if price <= PlatformFee {
		return 0
	}
	return price - PlatformFee
}

// PublishRide creates a ride in status available with every seat free.
func (e *Engine) PublishRide(ctx context.Context, in NewRide) (*Ride, error) {
	if err := validateNewRide(in); err != nil {
		return nil, err
	}

	ride := Ride{
		ID:             uuid.NewString(),
		DriverID:       in.DriverID,
		DepartureCity:  in.DepartureCity,
		ArrivalCity:    in.ArrivalCity,
		DepartureAt:    in.DepartureAt.UTC(),
		ArrivalAt:      in.ArrivalAt.UTC(),
		SeatsTotal:     in.Seats,
		SeatsAvailable: in.Seats,
		PriceCredits:   in.PriceCredits,
		Status:         RideAvailable,
		CreatedAt:      e.now().UTC(),
	}

	err := e.run(ctx, "publish ride", ErrTransactionAborted, func(tx Tx) error {
		if _, err := e.loadAccount(ctx, tx, in.DriverID); err != nil {
			return err
		}
		if err := tx.InsertRide(ctx, ride); err != nil {
			return fmt.Errorf("insert ride: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("ride published", "ride_id", ride.ID, "driver_id", ride.DriverID,
		"seats", ride.SeatsTotal, "price", ride.PriceCredits)
	return &ride, nil
}

func validateNewRide(in NewRide) error {
	switch {
	case in.DriverID == "":
		return fmt.Errorf("%w: driver is required", ErrInvalidRequest)
	case in.DepartureCity == "" || in.ArrivalCity == "":
		return fmt.Errorf("%w: departure and arrival cities are required", ErrInvalidRequest)
	case in.Seats <= 0:
		return fmt.Errorf("%w: seats must be positive, got %d", ErrInvalidRequest, in.Seats)
	case in.PriceCredits < 0:
		return fmt.Errorf("%w: price must not be negative, got %d", ErrInvalidRequest, in.PriceCredits)
	case !in.ArrivalAt.IsZero() && in.ArrivalAt.Before(in.DepartureAt):
		return fmt.Errorf("%w: arrival before departure", ErrInvalidRequest)
	}
	return nil
}

// StartRide moves an available or pending ride to in_progress.
func (e *Engine) StartRide(ctx context.Context, rideID string) (*Ride, error) {
	var started Ride
	err := e.run(ctx, "start ride", ErrTransactionAborted, func(tx Tx) error {
		ride, err := e.loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if !ride.Status.Bookable() {
			return &TransitionError{Entity: "ride", ID: rideID, From: string(ride.Status), Action: "start"}
		}

		ok, err := tx.UpdateRideStatus(ctx, rideID, startableStatuses, RideInProgress, e.now().UTC())
		if err != nil {
			return fmt.Errorf("update ride: %w", err)
		}
		if !ok {
			return &TransitionError{Entity: "ride", ID: rideID, From: string(ride.Status), Action: "start"}
		}

		updated, err := e.loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		started = *updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("ride started", "ride_id", rideID)
	e.publish(ctx, Event{Type: EventRideStarted, RideID: rideID, AccountID: started.DriverID})
	return &started, nil
}

// CompleteRide finishes an in-progress ride and pays the driver
// DriverShare(price) for every confirmed booking. The payout entry is written
// even when it is zero.
func (e *Engine) CompleteRide(ctx context.Context, rideID string) (*Payout, error) {
	var payout Payout
	err := e.run(ctx, "complete ride", ErrTransactionAborted, func(tx Tx) error {
		ride, err := e.loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if ride.Status != RideInProgress {
			return &TransitionError{Entity: "ride", ID: rideID, From: string(ride.Status), Action: "complete"}
		}

		bookings, err := tx.ConfirmedBookings(ctx, rideID)
		if err != nil {
			return fmt.Errorf("load bookings: %w", err)
		}

		perSeat := DriverShare(ride.PriceCredits)
		total := perSeat * ledger.Credits(len(bookings))

		ok, err := tx.UpdateRideStatus(ctx, rideID, []RideStatus{RideInProgress}, RideCompleted, e.now().UTC())
		if err != nil {
			return fmt.Errorf("update ride: %w", err)
		}
		if !ok {
			return &TransitionError{Entity: "ride", ID: rideID, From: string(ride.Status), Action: "complete"}
		}

		entry, err := ledger.New(tx).Post(ctx, ledger.Posting{
			AccountID: ride.DriverID,
			Amount:    total,
			Type:      ledger.EntryCredit,
			Reference: ledger.RideRef(rideID),
			Description: fmt.Sprintf("Ride payout: %d passenger(s) x %d credits",
				len(bookings), perSeat),
		})
		if err != nil {
			return err
		}

		updated, err := e.loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		payout = Payout{
			Ride:           *updated,
			PassengerCount: len(bookings),
			PerSeat:        perSeat,
			Total:          total,
			Entry:          entry,
			DriverBalance:  entry.BalanceAfter,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("ride completed", "ride_id", rideID, "passengers", payout.PassengerCount,
		"payout", payout.Total, "driver_balance", payout.DriverBalance)
	e.publish(ctx, Event{
		Type:      EventRideCompleted,
		RideID:    rideID,
		AccountID: payout.Ride.DriverID,
		Amount:    payout.Total,
	})
	return &payout, nil
}
