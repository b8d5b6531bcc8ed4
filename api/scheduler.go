/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Runs carpool.VerifyLedger in the background and logs every account whose
  cached balance drifted from the sum of its ledger entries. The audit only
  reads; it never repairs a balance.

DESIGN:
  - One goroutine, one ticker, first run immediately on Start
  - Each run gets its own timeout so a slow store cannot pile up runs
  - The last report is kept and exposed through Last()

CONFIGURATION:
  - Interval: How often to audit (CARPOOL_AUDIT_INTERVAL, 0 disables)

USAGE:
  auditor := NewLedgerAuditor(store, logger, time.Hour)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - carpool/audit.go: VerifyLedger
  - handlers.go: VerifyLedger endpoint (on-demand audit)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ecoride/carpool-engine/carpool"
)

// LedgerAuditor periodically checks balance == sum(ledger) for every account.
type LedgerAuditor struct {
	Store    carpool.Reader
	Logger   *slog.Logger
	Interval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	last    carpool.AuditReport
	lastRun time.Time
}

// NewLedgerAuditor creates an auditor. A zero interval disables it.
func NewLedgerAuditor(store carpool.Reader, logger *slog.Logger, interval time.Duration) *LedgerAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerAuditor{
		Store:    store,
		Logger:   logger.With("component", "ledger-audit"),
		Interval: interval,
	}
}

// Start begins the periodic audit.
func (a *LedgerAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Interval <= 0 {
		a.Logger.Info("disabled, not starting")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	a.wg.Add(1)

	go a.run(a.ticker, a.stop)

	a.Logger.Info("started", "interval", a.Interval)
}

// Stop stops the auditor and waits for a running audit to finish.
func (a *LedgerAuditor) Stop() {
	a.mu.Lock()
	if a.ticker == nil {
		a.mu.Unlock()
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.ticker = nil
	a.mu.Unlock()

	a.wg.Wait()
	a.Logger.Info("stopped")
}

// Last returns the most recent report and when it was taken. The time is
// zero if no audit has completed yet.
func (a *LedgerAuditor) Last() (carpool.AuditReport, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.lastRun
}

func (a *LedgerAuditor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer a.wg.Done()

	// Run immediately on start
	a.Audit(context.Background())

	for {
		select {
		case <-ticker.C:
			a.Audit(context.Background())
		case <-stop:
			return
		}
	}
}

// Audit runs one conservation check and logs the outcome.
func (a *LedgerAuditor) Audit(ctx context.Context) (carpool.AuditReport, error) {
	timeout := a.Interval
	if timeout <= 0 || timeout > time.Minute {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	report, err := carpool.VerifyLedger(ctx, a.Store)
	if err != nil {
		a.Logger.Error("audit failed", "error", err)
		return carpool.AuditReport{}, err
	}

	for _, m := range report.Mismatches {
		a.Logger.Error("balance drift",
			"account_id", m.AccountID,
			"balance", m.Balance,
			"ledger_sum", m.LedgerSum,
		)
	}
	a.Logger.Info("audit complete",
		"accounts", report.Accounts,
		"mismatches", len(report.Mismatches),
		"duration", time.Since(start),
	)

	a.mu.Lock()
	a.last, a.lastRun = report, start
	a.mu.Unlock()
	return report, nil
}
