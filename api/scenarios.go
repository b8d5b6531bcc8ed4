/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with rides,
	accounts and bookings that show one credit flow each. Every loader goes
	through the engine, so the ledger of a loaded scenario is exactly what
	real traffic would have produced.

AVAILABLE SCENARIOS:

	last-seat:            Passenger books the only seat of a ride
	cancelled-ride:       Driver cancels a booked ride, passenger refunded
	completed-ride:       Three passengers, ride completed, driver paid
	insufficient-credits: Passenger cannot afford the only ride
	open-dispute:         Completed ride with a dispute waiting for an employee

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Open accounts, fund them to the scenario balance
 3. Publish rides
 4. Book, start, complete, cancel or dispute through the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "completed-ride"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler type
  - carpool/engine.go: Operations used by the loaders
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ecoride/carpool-engine/carpool"
	"github.com/ecoride/carpool-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "last-seat",
		Name:        "Last Seat",
		Description: "Passenger with 50 credits books the only seat of a 45-credit ride",
	},
	{
		ID:          "cancelled-ride",
		Name:        "Cancelled Ride",
		Description: "Driver cancels a booked ride; every passenger is refunded in full",
	},
	{
		ID:          "completed-ride",
		Name:        "Completed Ride",
		Description: "Three passengers on a 10-credit ride; the driver earns 8 per seat",
	},
	{
		ID:          "insufficient-credits",
		Name:        "Insufficient Credits",
		Description: "Passenger cannot afford the only published ride; nothing is booked",
	},
	{
		ID:          "open-dispute",
		Name:        "Open Dispute",
		Description: "Completed 40-credit ride with a passenger dispute to resolve",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context) error

var scenarioLoaders = map[string]scenarioLoader{
	"last-seat":            (*Handler).loadLastSeatScenario,
	"cancelled-ride":       (*Handler).loadCancelledRideScenario,
	"completed-ride":       (*Handler).loadCompletedRideScenario,
	"insufficient-credits": (*Handler).loadInsufficientCreditsScenario,
	"open-dispute":         (*Handler).loadOpenDisputeScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeKindError(w, http.StatusBadRequest, "Unknown scenario", carpool.KindInvalidRequest, nil)
		return
	}

	ctx := r.Context()
	if err := h.Resetter.Reset(ctx); err != nil {
		h.serverError(w, r, "Failed to reset database", "", err)
		return
	}
	h.setScenario("")

	if err := load(h, ctx); err != nil {
		h.Logger.ErrorContext(ctx, "scenario load failed", "scenario", req.ScenarioID, "error", err)
		h.serverError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), "", err)
		return
	}

	h.setScenario(req.ScenarioID)
	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Resetter.Reset(r.Context()); err != nil {
		h.serverError(w, r, "Failed to reset database", "", err)
		return
	}
	h.setScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadLastSeatScenario(ctx context.Context) error {
	driver, err := h.seedAccount(ctx, "marc", carpool.RoleDriver, 0)
	if err != nil {
		return err
	}
	passenger, err := h.seedAccount(ctx, "alice", carpool.RoleUser, 50)
	if err != nil {
		return err
	}

	ride, err := h.seedRide(ctx, driver, "Paris", "Lyon", 1, 45)
	if err != nil {
		return err
	}
	_, err = h.Engine.Book(ctx, ride.ID, passenger)
	return err
}

func (h *Handler) loadCancelledRideScenario(ctx context.Context) error {
	driver, err := h.seedAccount(ctx, "marc", carpool.RoleDriver, 0)
	if err != nil {
		return err
	}
	ride, err := h.seedRide(ctx, driver, "Paris", "Lyon", 3, 45)
	if err != nil {
		return err
	}

	for _, name := range []string{"alice", "bruno"} {
		passenger, err := h.seedAccount(ctx, name, carpool.RoleUser, 50)
		if err != nil {
			return err
		}
		if _, err := h.Engine.Book(ctx, ride.ID, passenger); err != nil {
			return err
		}
	}

	_, err = h.Engine.CancelRide(ctx, ride.ID)
	return err
}

func (h *Handler) loadCompletedRideScenario(ctx context.Context) error {
	driver, err := h.seedAccount(ctx, "sophie", carpool.RoleDriver, 0)
	if err != nil {
		return err
	}
	ride, err := h.seedRide(ctx, driver, "Nantes", "Rennes", 4, 10)
	if err != nil {
		return err
	}

	for _, name := range []string{"alice", "bruno", "chloe"} {
		passenger, err := h.seedAccount(ctx, name, carpool.RoleUser, 20)
		if err != nil {
			return err
		}
		if _, err := h.Engine.Book(ctx, ride.ID, passenger); err != nil {
			return err
		}
	}

	if _, err := h.Engine.StartRide(ctx, ride.ID); err != nil {
		return err
	}
	_, err = h.Engine.CompleteRide(ctx, ride.ID)
	return err
}

func (h *Handler) loadInsufficientCreditsScenario(ctx context.Context) error {
	driver, err := h.seedAccount(ctx, "marc", carpool.RoleDriver, 0)
	if err != nil {
		return err
	}
	passenger, err := h.seedAccount(ctx, "dylan", carpool.RoleUser, 5)
	if err != nil {
		return err
	}
	ride, err := h.seedRide(ctx, driver, "Lille", "Bordeaux", 2, 45)
	if err != nil {
		return err
	}

	// The attempt must fail without touching the ledger.
	_, err = h.Engine.Book(ctx, ride.ID, passenger)
	if errors.Is(err, carpool.ErrInsufficientCredits) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("booking %s succeeded: passenger holds more than %d credits", ride.ID, ride.PriceCredits)
	}
	return err
}

func (h *Handler) loadOpenDisputeScenario(ctx context.Context) error {
	driver, err := h.seedAccount(ctx, "sophie", carpool.RoleDriver, 0)
	if err != nil {
		return err
	}
	passenger, err := h.seedAccount(ctx, "emma", carpool.RoleUser, 60)
	if err != nil {
		return err
	}
	ride, err := h.seedRide(ctx, driver, "Marseille", "Nice", 3, 40)
	if err != nil {
		return err
	}

	booked, err := h.Engine.Book(ctx, ride.ID, passenger)
	if err != nil {
		return err
	}
	if _, err := h.Engine.StartRide(ctx, ride.ID); err != nil {
		return err
	}
	if _, err := h.Engine.CompleteRide(ctx, ride.ID); err != nil {
		return err
	}

	_, err = h.Engine.OpenDispute(ctx, carpool.NewDispute{
		BookingID: booked.Booking.ID,
		Reason:    "Driver arrived two hours late",
	})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// seedAccount opens an account and tops it up to at least credits. The
// registration bonus counts toward the target.
func (h *Handler) seedAccount(ctx context.Context, pseudo string, role carpool.Role, credits ledger.Credits) (ledger.AccountID, error) {
	acc, err := h.Engine.OpenAccount(ctx, carpool.NewAccount{
		Pseudo:   pseudo,
		Email:    pseudo + "@ecoride.test",
		Password: "demo-" + pseudo,
		Role:     role,
	})
	if err != nil {
		return "", fmt.Errorf("open account %s: %w", pseudo, err)
	}

	if missing := credits - acc.Credits; missing > 0 {
		if _, err := h.Engine.GrantCredits(ctx, acc.ID, missing, "Demo funding"); err != nil {
			return "", fmt.Errorf("fund account %s: %w", pseudo, err)
		}
	}
	return acc.ID, nil
}

func (h *Handler) seedRide(ctx context.Context, driver ledger.AccountID, from, to string, seats int, price ledger.Credits) (*carpool.Ride, error) {
	departure := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	return h.Engine.PublishRide(ctx, carpool.NewRide{
		DriverID:      driver,
		DepartureCity: from,
		ArrivalCity:   to,
		DepartureAt:   departure,
		ArrivalAt:     departure.Add(3 * time.Hour),
		Seats:         seats,
		PriceCredits:  price,
	})
}
