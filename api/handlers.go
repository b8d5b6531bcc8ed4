/*
handlers.go - HTTP request handlers for the carpool API

PURPOSE:
  Implements the HTTP handlers for all REST endpoints. Each handler decodes
  the request, calls the carpool engine (writes) or the store reader (reads),
  and writes a JSON response.

ENDPOINTS:
  Accounts:
    POST   /api/auth/register             Open an account (registration bonus)
    GET    /api/users/{id}                Get account with current balance
    GET    /api/users/{id}/transactions   Ledger entries of the account
    GET    /api/users/{id}/rides          Rides published by the account
    GET    /api/users/{id}/bookings       Bookings made by the account

  Rides:
    GET    /api/rides                     Search bookable rides
    POST   /api/rides                     Publish a ride
    GET    /api/rides/{id}                Get ride
    GET    /api/rides/{id}/bookings       Bookings on the ride
    POST   /api/rides/{id}/book           Book one seat
    DELETE /api/rides/{id}                Cancel ride, refund every passenger
    POST   /api/rides/{id}/start          Start ride
    POST   /api/rides/{id}/complete       Complete ride, pay the driver

  Bookings:
    DELETE /api/bookings/{id}             Cancel booking, refund passenger
    POST   /api/bookings/{id}/disputes    Open a dispute on the booking

  Employee:
    GET    /api/employee/disputes                 Open and escalated disputes
    POST   /api/employee/disputes/{id}/resolve    Resolve with a credit movement
    POST   /api/employee/disputes/{id}/escalate   Escalate to a manager

  Admin:
    POST   /api/admin/users/{id}/credits  Grant credits (bonus entry)
    GET    /api/admin/ledger/verify       Balance vs. ledger audit

ARCHITECTURE:
  Handler ──► carpool.Engine (every credit movement, one transaction each)
     └──────► carpool.Reader (read-only queries)

ERROR HANDLING:
  Engine errors are classified with carpool.KindOf:
    not_found            -> 404
    transaction_aborted  -> 500
    everything else      -> 400
  The body is {"error": ..., "kind": ..., "details": ...}. 500 responses
  carry no details; the cause is logged instead.

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Request/response types
  - carpool/engine.go: Transaction engine
*/
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ecoride/carpool-engine/carpool"
	"github.com/ecoride/carpool-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes all data. Both store backends implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *carpool.Engine
	Store    carpool.Reader
	Resetter Resetter // nil disables scenario loading
	Logger   *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *carpool.Engine, store carpool.Reader, reset Resetter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:   engine,
		Store:    store,
		Resetter: reset,
		Logger:   logger,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// Register opens an account and grants the registration credits.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	role := carpool.Role(req.Role)
	switch role {
	case "", carpool.RoleUser, carpool.RoleDriver:
	default:
		writeError(w, http.StatusBadRequest, "Role cannot be self-assigned", nil)
		return
	}

	acc, err := h.Engine.OpenAccount(r.Context(), carpool.NewAccount{
		Pseudo:   req.Pseudo,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		h.writeEngineError(w, r, "Registration failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(*acc))
}

// GetUser returns a single account.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acc))
}

// GetTransactions returns the ledger entries of an account, oldest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	entries, err := h.Store.Entries(r.Context(), acc.ID)
	if err != nil {
		h.serverError(w, r, "Failed to list transactions", "", err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(entries, toEntryDTO))
}

// GetUserRides returns the rides published by an account.
func (h *Handler) GetUserRides(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	rides, err := h.Store.ListRides(r.Context(), carpool.RideFilter{DriverID: acc.ID})
	if err != nil {
		h.serverError(w, r, "Failed to list rides", "", err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(rides, toRideDTO))
}

// GetUserBookings returns the bookings made by an account.
func (h *Handler) GetUserBookings(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	bookings, err := h.Store.PassengerBookings(r.Context(), acc.ID)
	if err != nil {
		h.serverError(w, r, "Failed to list bookings", "", err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(bookings, toBookingDTO))
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) (*carpool.Account, bool) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	acc, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		h.serverError(w, r, "Failed to get user", "", err)
		return nil, false
	}
	if acc == nil {
		writeKindError(w, http.StatusNotFound, "User not found", carpool.KindNotFound, nil)
		return nil, false
	}
	return acc, true
}

// =============================================================================
// RIDE HANDLERS
// =============================================================================

// SearchRides lists bookable rides, optionally filtered by
// ?departure_city=&arrival_city=&max_price=.
func (h *Handler) SearchRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := carpool.RideFilter{
		DepartureCity: q.Get("departure_city"),
		ArrivalCity:   q.Get("arrival_city"),
		Statuses:      []carpool.RideStatus{carpool.RideAvailable, carpool.RidePending},
	}
	if raw := q.Get("max_price"); raw != "" {
		price, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || price < 0 {
			writeError(w, http.StatusBadRequest, "Invalid max_price", err)
			return
		}
		filter.MaxPrice = ledger.Credits(price)
	}

	rides, err := h.Store.ListRides(r.Context(), filter)
	if err != nil {
		h.serverError(w, r, "Failed to search rides", "", err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(rides, toRideDTO))
}

// PublishRide creates a ride for a driver.
func (h *Handler) PublishRide(w http.ResponseWriter, r *http.Request) {
	var req PublishRideRequest
	if !decode(w, r, &req) {
		return
	}

	departure, err := time.Parse(time.RFC3339, req.DepartureAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid departure_at format (use RFC 3339)", err)
		return
	}
	var arrival time.Time
	if req.ArrivalAt != "" {
		if arrival, err = time.Parse(time.RFC3339, req.ArrivalAt); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid arrival_at format (use RFC 3339)", err)
			return
		}
	}

	ride, err := h.Engine.PublishRide(r.Context(), carpool.NewRide{
		DriverID:      ledger.AccountID(req.DriverID),
		DepartureCity: req.DepartureCity,
		ArrivalCity:   req.ArrivalCity,
		DepartureAt:   departure,
		ArrivalAt:     arrival,
		Seats:         req.Seats,
		PriceCredits:  ledger.Credits(req.PriceCredits),
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to publish ride", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRideDTO(*ride))
}

// GetRide returns a single ride.
func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := h.Store.GetRide(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serverError(w, r, "Failed to get ride", "", err)
		return
	}
	if ride == nil {
		writeKindError(w, http.StatusNotFound, "Ride not found", carpool.KindNotFound, nil)
		return
	}

	writeJSON(w, http.StatusOK, toRideDTO(*ride))
}

// GetRideBookings returns every booking on a ride, cancelled ones included.
func (h *Handler) GetRideBookings(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "id")

	ride, err := h.Store.GetRide(r.Context(), rideID)
	if err != nil {
		h.serverError(w, r, "Failed to get ride", "", err)
		return
	}
	if ride == nil {
		writeKindError(w, http.StatusNotFound, "Ride not found", carpool.KindNotFound, nil)
		return
	}

	bookings, err := h.Store.RideBookings(r.Context(), rideID)
	if err != nil {
		h.serverError(w, r, "Failed to list bookings", "", err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(bookings, toBookingDTO))
}

// BookRide books one seat for the user in the body.
func (h *Handler) BookRide(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeKindError(w, http.StatusBadRequest, "user_id is required", carpool.KindInvalidRequest, nil)
		return
	}

	res, err := h.Engine.Book(r.Context(), chi.URLParam(r, "id"), ledger.AccountID(req.UserID))
	if err != nil {
		h.writeEngineError(w, r, "Booking failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, BookingResponse{
		Booking:        toBookingDTO(res.Booking),
		Balance:        int64(res.Balance),
		SeatsAvailable: res.SeatsAvailable,
	})
}

// CancelRide cancels a ride and refunds every confirmed passenger.
func (h *Handler) CancelRide(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.CancelRide(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, "Failed to cancel ride", err)
		return
	}

	refunds := make([]RefundDTO, len(res.Refunds))
	for i, rf := range res.Refunds {
		refunds[i] = RefundDTO{
			BookingID:   rf.BookingID,
			PassengerID: string(rf.PassengerID),
			Amount:      int64(rf.Amount),
			Balance:     int64(rf.Balance),
		}
	}

	writeJSON(w, http.StatusOK, RideCancellationResponse{
		Ride:    toRideDTO(res.Ride),
		Refunds: refunds,
	})
}

// StartRide moves a ride to in_progress.
func (h *Handler) StartRide(w http.ResponseWriter, r *http.Request) {
	ride, err := h.Engine.StartRide(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, "Failed to start ride", err)
		return
	}

	writeJSON(w, http.StatusOK, toRideDTO(*ride))
}

// CompleteRide completes a ride and credits the driver.
func (h *Handler) CompleteRide(w http.ResponseWriter, r *http.Request) {
	payout, err := h.Engine.CompleteRide(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, "Failed to complete ride", err)
		return
	}

	writeJSON(w, http.StatusOK, PayoutResponse{
		Ride:           toRideDTO(payout.Ride),
		PassengerCount: payout.PassengerCount,
		PerSeat:        int64(payout.PerSeat),
		Total:          int64(payout.Total),
		DriverBalance:  int64(payout.DriverBalance),
	})
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CancelBooking cancels a confirmed booking and refunds the passenger.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.CancelBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, "Failed to cancel booking", err)
		return
	}

	writeJSON(w, http.StatusOK, CancellationResponse{
		Booking:        toBookingDTO(res.Booking),
		Refunded:       int64(res.Entry.Amount),
		Balance:        int64(res.Balance),
		SeatsAvailable: res.SeatsAvailable,
	})
}

// OpenDispute opens a dispute on a booking.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	var req OpenDisputeRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := h.Engine.OpenDispute(r.Context(), carpool.NewDispute{
		BookingID: chi.URLParam(r, "id"),
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to open dispute", err)
		return
	}

	writeJSON(w, http.StatusCreated, toDisputeDTO(*d))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListDisputes returns disputes awaiting an employee, or those with
// ?status= when given.
func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	statuses := []carpool.DisputeStatus{carpool.DisputeOpen, carpool.DisputeEscalated}
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = []carpool.DisputeStatus{carpool.DisputeStatus(raw)}
	}

	disputes, err := h.Store.ListDisputes(r.Context(), statuses...)
	if err != nil {
		h.serverError(w, r, "Failed to list disputes", "", err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(disputes, toDisputeDTO))
}

// ResolveDispute closes a dispute with a resolution type and the matching
// credit movement.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req ResolveDisputeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Engine.ResolveDispute(r.Context(), chi.URLParam(r, "id"), carpool.Resolution{
		Type:       carpool.ResolutionType(req.ResolutionType),
		Notes:      req.ResolutionNotes,
		ResolvedBy: req.ResolvedBy,
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to resolve dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, DisputeResolutionResponse{
		Dispute:     toDisputeDTO(res.Dispute),
		Beneficiary: string(res.Beneficiary),
		Amount:      int64(res.Amount),
		Balance:     int64(res.Balance),
	})
}

// EscalateDispute hands a dispute over to a manager without moving credits.
func (h *Handler) EscalateDispute(w http.ResponseWriter, r *http.Request) {
	var req EscalateDisputeRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := h.Engine.EscalateDispute(r.Context(), chi.URLParam(r, "id"), req.EscalationReason, req.EscalatedBy)
	if err != nil {
		h.writeEngineError(w, r, "Failed to escalate dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, toDisputeDTO(*d))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GrantCredits funds an account outside registration.
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	var req GrantCreditsRequest
	if !decode(w, r, &req) {
		return
	}

	entry, err := h.Engine.GrantCredits(r.Context(), ledger.AccountID(chi.URLParam(r, "id")),
		ledger.Credits(req.Amount), req.Reason)
	if err != nil {
		h.writeEngineError(w, r, "Failed to grant credits", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// VerifyLedger compares every balance with the sum of its ledger entries.
func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	report, err := carpool.VerifyLedger(r.Context(), h.Store)
	if err != nil {
		h.serverError(w, r, "Ledger audit failed", "", err)
		return
	}

	resp := LedgerAuditResponse{
		OK:         report.OK(),
		Accounts:   report.Accounts,
		Mismatches: make([]MismatchDTO, len(report.Mismatches)),
	}
	for i, m := range report.Mismatches {
		resp.Mismatches[i] = MismatchDTO{
			AccountID: string(m.AccountID),
			Balance:   int64(m.Balance),
			LedgerSum: int64(m.LedgerSum),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeKindError(w, http.StatusBadRequest, "Invalid request body", carpool.KindInvalidRequest, err)
		return false
	}
	return true
}

// writeEngineError maps an engine error to its HTTP status.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	kind := carpool.KindOf(err)
	status := http.StatusBadRequest
	switch kind {
	case carpool.KindNotFound:
		status = http.StatusNotFound
	case carpool.KindTransactionAborted:
		h.serverError(w, r, message, kind, err)
		return
	}
	writeKindError(w, status, message, kind, err)
}

// serverError logs err and answers 500. The cause stays in the log.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, message string, kind carpool.Kind, err error) {
	h.Logger.ErrorContext(r.Context(), message, "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: message, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeKindError(w, status, message, "", err)
}

func writeKindError(w http.ResponseWriter, status int, message string, kind carpool.Kind, err error) {
	resp := ErrorResponse{Error: message, Kind: kind}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}
