package central

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/host"
)

// DefaultSettleDelay is how long a freshly built session is left alone before
// readiness is awaited on it.
const DefaultSettleDelay = time.Second

// ReconciliationReport describes how the host-side connections looked before
// and after a session was rebuilt. It is diagnostic only.
type ReconciliationReport struct {
	RestoreID       string
	PreviousSession string
	CurrentSession  string

	// Expected is what the caller believed to be connected.
	Expected []string
	Before   []string
	After    []string

	Readiness ReadinessOutcome
}

// Missing returns IDs connected before the rebuild but not after it.
func (r *ReconciliationReport) Missing() []string {
	return difference(r.Before, r.After)
}

// Added returns IDs connected after the rebuild that were not before it.
func (r *ReconciliationReport) Added() []string {
	return difference(r.After, r.Before)
}

// Unchanged returns IDs connected both before and after, in Before order.
func (r *ReconciliationReport) Unchanged() []string {
	var out []string
	for _, id := range r.Before {
		if slices.Contains(r.After, id) {
			out = append(out, id)
		}
	}
	return out
}

// Unexpected returns Expected IDs the previous session did not report.
func (r *ReconciliationReport) Unexpected() []string {
	return difference(r.Expected, r.Before)
}

// RecoveryCoordinator drops and rebuilds the adapter session.
type RecoveryCoordinator struct {
	holder  *SessionHolder
	gate    *Gate
	scanner ScanStopper
	filter  []string
	settle  time.Duration
	logger  *logrus.Logger
}

// NewRecoveryCoordinator creates a coordinator. filter is the service filter
// used to list host-side connections; settle <= 0 disables the settle delay.
func NewRecoveryCoordinator(holder *SessionHolder, gate *Gate, scanner ScanStopper, filter []string, settle time.Duration, logger *logrus.Logger) *RecoveryCoordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &RecoveryCoordinator{
		holder:  holder,
		gate:    gate,
		scanner: scanner,
		filter:  slices.Clone(filter),
		settle:  settle,
		logger:  logger,
	}
}

// Recreate lists the connections of the current session, replaces the session
// with a new one carrying the same restore identifier, waits for it to become
// ready and lists its connections again. The connected set of any
// ConnectionManager is not touched; its handles become stale.
//
// The old session is closed before the new one is built. Any failure after
// that point returns the report collected so far together with the error. When
// the rebuild itself fails no session is usable until Recreate succeeds; a
// retry skips the listing of the closed session.
func (c *RecoveryCoordinator) Recreate(ctx context.Context, previous []string) (*ReconciliationReport, error) {
	old := c.holder.Current()
	if old == nil {
		return nil, precondition(ReasonNoSession, "recreate", "no adapter session")
	}

	report := &ReconciliationReport{
		RestoreID:       old.RestoreID(),
		PreviousSession: old.ID(),
		Expected:        slices.Clone(previous),
	}

	if !old.Closed() {
		before, err := c.listConnected(ctx, old)
		if err != nil {
			return nil, &AdapterError{Op: "recreate", Err: err}
		}
		report.Before = before
	}
	c.logger.WithFields(logrus.Fields{
		"session": old.ID(),
		"devices": report.Before,
	}).Info("Connected devices before recreate")

	if c.scanner != nil {
		c.scanner.StopActive()
	}

	_, cur, err := c.holder.Replace()
	if err != nil {
		return report, &AdapterError{Op: "recreate", Err: err}
	}
	report.CurrentSession = cur.ID()
	c.gate.Bind(cur)

	if c.settle > 0 {
		timer := time.NewTimer(c.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return report, ctx.Err()
		case <-timer.C:
		}
	}

	outcome, err := c.gate.AwaitReady(ctx)
	report.Readiness = outcome
	if err != nil {
		return report, err
	}
	if !outcome.Ready() {
		c.logger.WithField("state", outcome.State.String()).Warn("Recreated session is not ready")
	}

	after, err := c.listConnected(ctx, cur)
	if err != nil {
		return report, &AdapterError{Op: "recreate", Err: err}
	}
	report.After = after
	c.logger.WithFields(logrus.Fields{
		"session": cur.ID(),
		"devices": after,
		"missing": report.Missing(),
	}).Info("Connected devices after recreate")

	return report, nil
}

func (c *RecoveryCoordinator) listConnected(ctx context.Context, s *Session) ([]string, error) {
	devices, err := s.Stack().ListConnected(ctx, c.filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected devices: %w", host.NormalizeError(err))
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// difference returns the elements of a not in b, keeping a's order.
func difference(a, b []string) []string {
	var out []string
	for _, id := range a {
		if !slices.Contains(b, id) {
			out = append(out, id)
		}
	}
	return out
}
