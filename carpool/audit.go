package carpool

import (
	"context"
	"errors"

	"github.com/ecoride/carpool-engine/ledger"
)

// AuditReport summarizes a conservation check over every account.
type AuditReport struct {
	Accounts   int
	Mismatches []ledger.ConservationError
}

func (r AuditReport) OK() bool { return len(r.Mismatches) == 0 }

// VerifyLedger checks balance == sum(entries) for every account. Mismatches
// are collected, not returned as errors; only read failures are errors.
func VerifyLedger(ctx context.Context, r Reader) (AuditReport, error) {
	ids, err := r.ListAccountIDs(ctx)
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{Accounts: len(ids), Mismatches: []ledger.ConservationError{}}
	for _, id := range ids {
		err := ledger.Reconcile(ctx, r, id)
		var drift *ledger.ConservationError
		switch {
		case err == nil:
		case errors.As(err, &drift):
			report.Mismatches = append(report.Mismatches, *drift)
		default:
			return AuditReport{}, err
		}
	}
	return report, nil
}
