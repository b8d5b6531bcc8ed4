/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the carpool domain model from the external API contract. Password hashes
  never leave the server: AccountDTO has no field for them.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Composite response wrappers

TYPES:
  Accounts:
    AccountDTO, RegisterRequest, EntryDTO

  Rides:
    RideDTO, PublishRideRequest, BookRequest, BookingResponse,
    RideCancellationResponse, PayoutResponse

  Bookings:
    BookingDTO, CancellationResponse

  Admin:
    GrantCreditsRequest, LedgerAuditResponse

  Disputes:
    DisputeDTO, OpenDisputeRequest, ResolveDisputeRequest,
    EscalateDisputeRequest, DisputeResolutionResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - carpool/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/ecoride/carpool-engine/carpool"
	"github.com/ecoride/carpool-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Kind    carpool.Kind `json:"kind,omitempty"`
	Details string       `json:"details,omitempty"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents a user account in API responses.
type AccountDTO struct {
	ID        string `json:"id"`
	Pseudo    string `json:"pseudo"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Credits   int64  `json:"credits"`
	CreatedAt string `json:"created_at"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Pseudo   string `json:"pseudo"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// EntryDTO is one credit_transactions row.
type EntryDTO struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Type         string `json:"type"`
	Reference    string `json:"reference"`
	Description  string `json:"description,omitempty"`
	BalanceAfter int64  `json:"balance_after"`
	CreatedAt    string `json:"created_at"`
}

// =============================================================================
// RIDES
// =============================================================================

type RideDTO struct {
	ID             string  `json:"id"`
	DriverID       string  `json:"driver_id"`
	DepartureCity  string  `json:"departure_city"`
	ArrivalCity    string  `json:"arrival_city"`
	DepartureAt    string  `json:"departure_at"`
	ArrivalAt      string  `json:"arrival_at,omitempty"`
	SeatsTotal     int     `json:"seats_total"`
	SeatsAvailable int     `json:"seats_available"`
	PriceCredits   int64   `json:"price_credits"`
	Status         string  `json:"status"`
	ActualStartAt  *string `json:"actual_start_at,omitempty"`
	ActualEndAt    *string `json:"actual_end_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// PublishRideRequest is the body of POST /api/rides. Times are RFC 3339.
type PublishRideRequest struct {
	DriverID      string `json:"driver_id"`
	DepartureCity string `json:"departure_city"`
	ArrivalCity   string `json:"arrival_city"`
	DepartureAt   string `json:"departure_at"`
	ArrivalAt     string `json:"arrival_at,omitempty"`
	Seats         int    `json:"seats"`
	PriceCredits  int64  `json:"price_credits"`
}

// BookRequest is the body of POST /api/rides/{id}/book.
type BookRequest struct {
	UserID string `json:"user_id"`
}

type BookingResponse struct {
	Booking        BookingDTO `json:"booking"`
	Balance        int64      `json:"balance"`
	SeatsAvailable int        `json:"seats_available"`
}

type RefundDTO struct {
	BookingID   string `json:"booking_id"`
	PassengerID string `json:"passenger_id"`
	Amount      int64  `json:"amount"`
	Balance     int64  `json:"balance"`
}

type RideCancellationResponse struct {
	Ride    RideDTO     `json:"ride"`
	Refunds []RefundDTO `json:"refunds"`
}

type PayoutResponse struct {
	Ride           RideDTO `json:"ride"`
	PassengerCount int     `json:"passenger_count"`
	PerSeat        int64   `json:"per_seat"`
	Total          int64   `json:"total"`
	DriverBalance  int64   `json:"driver_balance"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

type BookingDTO struct {
	ID            string  `json:"id"`
	RideID        string  `json:"ride_id"`
	PassengerID   string  `json:"passenger_id"`
	Status        string  `json:"status"`
	CreditsAmount int64   `json:"credits_amount"`
	CreatedAt     string  `json:"created_at"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
}

type CancellationResponse struct {
	Booking        BookingDTO `json:"booking"`
	Refunded       int64      `json:"refunded"`
	Balance        int64      `json:"balance"`
	SeatsAvailable int        `json:"seats_available"`
}

// =============================================================================
// DISPUTES
// =============================================================================

type DisputeDTO struct {
	ID               string  `json:"id"`
	RideID           string  `json:"ride_id"`
	BookingID        string  `json:"booking_id"`
	Reason           string  `json:"reason"`
	Status           string  `json:"status"`
	ResolutionType   string  `json:"resolution_type,omitempty"`
	ResolutionNotes  string  `json:"resolution_notes,omitempty"`
	Amount           int64   `json:"amount,omitempty"`
	ResolvedBy       string  `json:"resolved_by,omitempty"`
	EscalationReason string  `json:"escalation_reason,omitempty"`
	EscalatedBy      string  `json:"escalated_by,omitempty"`
	ResolvedAt       *string `json:"resolved_at,omitempty"`
	EscalatedAt      *string `json:"escalated_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	ResolutionType  string `json:"resolution_type"`
	ResolutionNotes string `json:"resolution_notes"`
	ResolvedBy      string `json:"resolved_by"`
}

type EscalateDisputeRequest struct {
	EscalationReason string `json:"escalation_reason"`
	EscalatedBy      string `json:"escalated_by"`
}

type DisputeResolutionResponse struct {
	Dispute     DisputeDTO `json:"dispute"`
	Beneficiary string     `json:"beneficiary"`
	Amount      int64      `json:"amount"`
	Balance     int64      `json:"balance"`
}

// =============================================================================
// ADMIN
// =============================================================================

// GrantCreditsRequest is the body of POST /api/admin/users/{id}/credits.
type GrantCreditsRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type MismatchDTO struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	LedgerSum int64  `json:"ledger_sum"`
}

type LedgerAuditResponse struct {
	OK         bool          `json:"ok"`
	Accounts   int           `json:"accounts"`
	Mismatches []MismatchDTO `json:"mismatches"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toAccountDTO(a carpool.Account) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		Pseudo:    a.Pseudo,
		Email:     a.Email,
		Role:      string(a.Role),
		Credits:   int64(a.Credits),
		CreatedAt: formatTime(a.CreatedAt),
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:           string(e.ID),
		Amount:       int64(e.Amount),
		Type:         string(e.Type),
		Reference:    e.Reference.String(),
		Description:  e.Description,
		BalanceAfter: int64(e.BalanceAfter),
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

func toRideDTO(r carpool.Ride) RideDTO {
	return RideDTO{
		ID:             r.ID,
		DriverID:       string(r.DriverID),
		DepartureCity:  r.DepartureCity,
		ArrivalCity:    r.ArrivalCity,
		DepartureAt:    formatTime(r.DepartureAt),
		ArrivalAt:      formatTime(r.ArrivalAt),
		SeatsTotal:     r.SeatsTotal,
		SeatsAvailable: r.SeatsAvailable,
		PriceCredits:   int64(r.PriceCredits),
		Status:         string(r.Status),
		ActualStartAt:  formatTimePtr(r.ActualStartAt),
		ActualEndAt:    formatTimePtr(r.ActualEndAt),
		CreatedAt:      formatTime(r.CreatedAt),
	}
}

func toBookingDTO(b carpool.Booking) BookingDTO {
	return BookingDTO{
		ID:            b.ID,
		RideID:        b.RideID,
		PassengerID:   string(b.PassengerID),
		Status:        string(b.Status),
		CreditsAmount: int64(b.CreditsAmount),
		CreatedAt:     formatTime(b.CreatedAt),
		CancelledAt:   formatTimePtr(b.CancelledAt),
	}
}

func toDisputeDTO(d carpool.Dispute) DisputeDTO {
	return DisputeDTO{
		ID:               d.ID,
		RideID:           d.RideID,
		BookingID:        d.BookingID,
		Reason:           d.Reason,
		Status:           string(d.Status),
		ResolutionType:   string(d.ResolutionType),
		ResolutionNotes:  d.ResolutionNotes,
		Amount:           int64(d.Amount),
		ResolvedBy:       d.ResolvedBy,
		EscalationReason: d.EscalationReason,
		EscalatedBy:      d.EscalatedBy,
		ResolvedAt:       formatTimePtr(d.ResolvedAt),
		EscalatedAt:      formatTimePtr(d.EscalatedAt),
		CreatedAt:        formatTime(d.CreatedAt),
	}
}

func mapSlice[T, D any](in []T, f func(T) D) []D {
	out := make([]D, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}
