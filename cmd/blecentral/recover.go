package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/central"
)

// recoverCmd represents the recover command
var recoverCmd = &cobra.Command{
	Use:   "recover [device-id...]",
	Short: "Recreate the adapter session and report connection reconciliation",
	Long: `Drops the current adapter session and builds a new one under the same
restore identifier, then reports which host-side connections survived.

Given device IDs are connected first so the report has something to reconcile.
Connections that do not survive are reported, never re-established.

Examples:
  blecentral recover
  blecentral recover AA:BB:CC:DD:EE:FF --format json`,
	RunE: runRecover,
}

type reconciliationJSON struct {
	RestoreID       string   `json:"restore_id"`
	PreviousSession string   `json:"previous_session"`
	CurrentSession  string   `json:"current_session"`
	Ready           bool     `json:"ready"`
	AdapterState    string   `json:"adapter_state"`
	Expected        []string `json:"expected"`
	Before          []string `json:"before"`
	After           []string `json:"after"`
	Missing         []string `json:"missing"`
	Added           []string `json:"added"`
	Unchanged       []string `json:"unchanged"`
	Unexpected      []string `json:"unexpected"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func reportToJSON(r *central.ReconciliationReport) reconciliationJSON {
	return reconciliationJSON{
		RestoreID:       r.RestoreID,
		PreviousSession: r.PreviousSession,
		CurrentSession:  r.CurrentSession,
		Ready:           r.Readiness.Ready(),
		AdapterState:    r.Readiness.State.String(),
		Expected:        nonNil(r.Expected),
		Before:          nonNil(r.Before),
		After:           nonNil(r.After),
		Missing:         nonNil(r.Missing()),
		Added:           nonNil(r.Added()),
		Unchanged:       nonNil(r.Unchanged()),
		Unexpected:      nonNil(r.Unexpected()),
	}
}

func runRecover(cmd *cobra.Command, args []string) error {
	c, cfg, logger, err := openCentral(cmd)
	if err != nil {
		return err
	}
	defer closeCentral(c, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, id := range args {
		if _, err := connectDevice(ctx, cmd, c, id); err != nil {
			return err
		}
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Recreating adapter session", "Settling")
	progress.Start()
	report, err := c.RecreateSession(ctx)
	progress.Stop()
	if err != nil {
		return err
	}

	if cfg.OutputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), reportToJSON(report))
	}
	return displayReport(cmd.OutOrStdout(), report)
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}

func displayReport(w io.Writer, r *central.ReconciliationReport) error {
	headerColor.Fprintf(w, "Session recreated (restore id %s)\n", r.RestoreID)
	fmt.Fprintf(w, "  previous session: %s\n", r.PreviousSession)
	fmt.Fprintf(w, "  current session:  %s\n", r.CurrentSession)
	if r.Readiness.Ready() {
		successColor.Fprintf(w, "  adapter:          %s\n", r.Readiness.State)
	} else {
		warnColor.Fprintf(w, "  adapter:          %s (not ready)\n", r.Readiness.State)
	}
	fmt.Fprintf(w, "  before:           %s\n", joinIDs(r.Before))
	fmt.Fprintf(w, "  after:            %s\n", joinIDs(r.After))
	fmt.Fprintf(w, "  unchanged:        %s\n", joinIDs(r.Unchanged()))
	fmt.Fprintf(w, "  added:            %s\n", joinIDs(r.Added()))
	if missing := r.Missing(); len(missing) > 0 {
		warnColor.Fprintf(w, "  missing:          %s\n", joinIDs(missing))
	} else {
		fmt.Fprintf(w, "  missing:          %s\n", joinIDs(missing))
	}
	_, err := fmt.Fprintf(w, "  unexpected:       %s\n", joinIDs(r.Unexpected()))
	return err
}
