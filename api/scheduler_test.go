package api

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerAuditor_Audit(t *testing.T) {
	s := newTestServer(t)
	s.register("alice")
	s.register("bob")

	auditor := NewLedgerAuditor(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	_, at := auditor.Last()
	assert.True(t, at.IsZero())

	report, err := auditor.Audit(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Accounts)

	last, at := auditor.Last()
	assert.False(t, at.IsZero())
	assert.Equal(t, report, last)
}

func TestLedgerAuditor_StartStop(t *testing.T) {
	s := newTestServer(t)
	s.register("alice")

	auditor := NewLedgerAuditor(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)), 10*time.Millisecond)
	auditor.Start()
	auditor.Start() // no second goroutine

	require.Eventually(t, func() bool {
		_, at := auditor.Last()
		return !at.IsZero()
	}, time.Second, 5*time.Millisecond)

	auditor.Stop()
	auditor.Stop()
}

func TestLedgerAuditor_DisabledWithZeroInterval(t *testing.T) {
	s := newTestServer(t)
	auditor := NewLedgerAuditor(s.store, nil, 0)
	auditor.Start()
	auditor.Stop()

	_, at := auditor.Last()
	assert.True(t, at.IsZero())
}
