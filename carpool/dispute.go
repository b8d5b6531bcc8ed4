/*
dispute.go - Dispute resolution

A booking can be disputed once. A second OpenDispute on the same booking
fails with ErrAlreadyDisputed, whatever the state of the first dispute.

RESOLUTION TYPES (amounts are based on the booking's locked price):

  Type                 Beneficiary  Amount              Entry
  -------------------  -----------  ------------------  ------
  refund-passenger     passenger    price               credit
  refund-50            passenger    floor(price / 2)    credit
  compensate-driver    driver       price               credit
  minor-compensation   driver       floor(price * 0.3)  credit

  Both passenger refunds settle the booking: it is cancelled and, unless the
  ride already ended, the seat is given back. The booking can then not be
  refunded again through CancelBooking or CancelRide.

  Any other type is rejected with ErrUnknownResolution before storage is
  touched.
*/
package carpool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecoride/carpool-engine/ledger"
)

var (
	half       = decimal.NewFromInt(2)
	minorShare = decimal.RequireFromString("0.3")
)

// DisputeResult is the outcome of ResolveDispute.
type DisputeResult struct {
	Dispute     Dispute
	Beneficiary ledger.AccountID
	Amount      ledger.Credits
	Balance     ledger.Credits
	Entry       ledger.Entry
}

// Known reports whether t is a supported resolution type.
func (t ResolutionType) Known() bool {
	switch t {
	case ResolutionRefundPassenger, ResolutionRefundHalf,
		ResolutionCompensateDriver, ResolutionMinorCompensation:
		return true
	}
	return false
}

func (t ResolutionType) paysPassenger() bool {
	return t == ResolutionRefundPassenger || t == ResolutionRefundHalf
}

// ResolutionAmount computes the credits granted for t on a booking priced
// at price. Fractions round down.
func ResolutionAmount(t ResolutionType, price ledger.Credits) (ledger.Credits, error) {
	p := decimal.NewFromInt(int64(price))
	switch t {
	case ResolutionRefundPassenger, ResolutionCompensateDriver:
		return price, nil
	case ResolutionRefundHalf:
		return ledger.Credits(p.Div(half).Floor().IntPart()), nil
	case ResolutionMinorCompensation:
		return ledger.Credits(p.Mul(minorShare).Floor().IntPart()), nil
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownResolution, t)
}

// OpenDispute files a dispute against a booking. The ride is taken from the
// booking.
func (e *Engine) OpenDispute(ctx context.Context, in NewDispute) (*Dispute, error) {
	if in.BookingID == "" || in.Reason == "" {
		return nil, fmt.Errorf("%w: booking and reason are required", ErrInvalidRequest)
	}

	var dispute Dispute
	err := e.run(ctx, "open dispute", ErrTransactionAborted, func(tx Tx) error {
		booking, err := tx.GetBooking(ctx, in.BookingID)
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}
		if booking == nil {
			return bookingNotFound(in.BookingID)
		}
		existing, err := tx.BookingDispute(ctx, booking.ID)
		if err != nil {
			return fmt.Errorf("load dispute: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w (dispute %s is %s)", ErrAlreadyDisputed, existing.ID, existing.Status)
		}
		dispute = Dispute{
			ID:        uuid.NewString(),
			RideID:    booking.RideID,
			BookingID: booking.ID,
			Reason:    in.Reason,
			Status:    DisputeOpen,
			CreatedAt: e.now().UTC(),
		}
		if err := tx.InsertDispute(ctx, dispute); err != nil {
			return fmt.Errorf("insert dispute: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("dispute opened", "dispute_id", dispute.ID, "booking_id", dispute.BookingID)
	return &dispute, nil
}

// ResolveDispute applies the financial effect of res and closes the dispute.
func (e *Engine) ResolveDispute(ctx context.Context, disputeID string, res Resolution) (*DisputeResult, error) {
	if !res.Type.Known() {
		return nil, fmt.Errorf("%w %q", ErrUnknownResolution, res.Type)
	}

	var result DisputeResult
	err := e.run(ctx, "resolve dispute", ErrTransactionAborted, func(tx Tx) error {
		d, err := tx.GetDispute(ctx, disputeID)
		if err != nil {
			return fmt.Errorf("load dispute: %w", err)
		}
		if d == nil {
			return disputeNotFound(disputeID)
		}
		if d.Status == DisputeResolved {
			return &TransitionError{Entity: "dispute", ID: disputeID, From: string(d.Status), Action: "resolve"}
		}

		booking, err := tx.GetBooking(ctx, d.BookingID)
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}
		if booking == nil {
			return bookingNotFound(d.BookingID)
		}
		ride, err := e.loadRide(ctx, tx, d.RideID)
		if err != nil {
			return err
		}

		amount, err := ResolutionAmount(res.Type, booking.CreditsAmount)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		posting := ledger.Posting{
			Amount:    amount,
			Reference: ledger.DisputeRef(disputeID),
		}
		if res.Type.paysPassenger() {
			if booking.Status != BookingConfirmed {
				return ErrBookingNotCancellable
			}
			posting.AccountID = booking.PassengerID
			posting.Type = ledger.EntryCredit
			posting.Description = fmt.Sprintf("Dispute refund (%s)", res.Type)

			if err := e.cancelForRefund(ctx, tx, booking, ride, now); err != nil {
				return err
			}
		} else {
			posting.AccountID = ride.DriverID
			posting.Type = ledger.EntryCredit
			posting.Description = fmt.Sprintf("Dispute compensation (%s)", res.Type)
		}

		entry, err := ledger.New(tx).Post(ctx, posting)
		if err != nil {
			return err
		}

		d.Status = DisputeResolved
		d.ResolutionType = res.Type
		d.ResolutionNotes = res.Notes
		d.ResolvedBy = res.ResolvedBy
		d.Amount = amount
		d.ResolvedAt = &now
		ok, err := tx.ResolveDispute(ctx, *d)
		if err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}
		if !ok {
			return &TransitionError{Entity: "dispute", ID: disputeID, From: string(DisputeResolved), Action: "resolve"}
		}

		result = DisputeResult{
			Dispute:     *d,
			Beneficiary: posting.AccountID,
			Amount:      amount,
			Balance:     entry.BalanceAfter,
			Entry:       entry,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("dispute resolved", "dispute_id", disputeID, "type", res.Type,
		"beneficiary", result.Beneficiary, "amount", result.Amount)
	e.publish(ctx, Event{
		Type:      EventDisputeResolved,
		RideID:    result.Dispute.RideID,
		BookingID: result.Dispute.BookingID,
		DisputeID: disputeID,
		AccountID: result.Beneficiary,
		Amount:    result.Amount,
	})
	return &result, nil
}

// cancelForRefund marks a booking settled by a dispute refund cancelled so it
// cannot be refunded again through CancelBooking or CancelRide.
func (e *Engine) cancelForRefund(ctx context.Context, tx Tx, b *Booking, ride *Ride, at time.Time) error {
	ok, err := tx.CancelBooking(ctx, b.ID, at)
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}
	if !ok {
		return ErrBookingNotCancellable
	}
	if ride.Status.Terminal() {
		return nil
	}
	if _, err := tx.ReleaseSeat(ctx, ride.ID); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// EscalateDispute hands an open dispute to a higher level. No credits move.
func (e *Engine) EscalateDispute(ctx context.Context, disputeID, reason, by string) (*Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: escalation reason is required", ErrInvalidRequest)
	}

	var escalated Dispute
	err := e.run(ctx, "escalate dispute", ErrTransactionAborted, func(tx Tx) error {
		d, err := tx.GetDispute(ctx, disputeID)
		if err != nil {
			return fmt.Errorf("load dispute: %w", err)
		}
		if d == nil {
			return disputeNotFound(disputeID)
		}
		if d.Status != DisputeOpen {
			return &TransitionError{Entity: "dispute", ID: disputeID, From: string(d.Status), Action: "escalate"}
		}

		now := e.now().UTC()
		d.Status = DisputeEscalated
		d.EscalationReason = reason
		d.EscalatedBy = by
		d.EscalatedAt = &now
		ok, err := tx.EscalateDispute(ctx, *d)
		if err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}
		if !ok {
			return &TransitionError{Entity: "dispute", ID: disputeID, From: string(DisputeOpen), Action: "escalate"}
		}
		escalated = *d
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("dispute escalated", "dispute_id", disputeID, "by", by)
	e.publish(ctx, Event{
		Type:      EventDisputeEscalated,
		RideID:    escalated.RideID,
		BookingID: escalated.BookingID,
		DisputeID: disputeID,
	})
	return &escalated, nil
}
