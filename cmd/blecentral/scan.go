package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/gattuuid"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Waits for the adapter to become ready, then collects advertisements for the
given duration. Repeated advertisements of a device within the debounce
window are coalesced into one record.

Examples:
  # Scan for 10 seconds
  blecentral scan

  # Scan for devices advertising the Current Time service, print JSON
  blecentral scan --services 1805 --duration 5s --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanServices []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanDuration <= 0 {
		return fmt.Errorf("scan duration must be positive, got %s", scanDuration)
	}

	var filter []string
	if len(scanServices) > 0 {
		var err error
		filter, err = gattuuid.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	c, cfg, logger, err := openCentral(cmd)
	if err != nil {
		return err
	}
	defer closeCentral(c, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", scanDuration)
	progress.Start()
	defer progress.Stop()

	peripherals, err := collectPeripherals(ctx, cmd.ErrOrStderr(), c, filter, scanDuration, logger)
	progress.Stop()
	if err != nil {
		return err
	}

	if cfg.OutputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), peripherals)
	}
	return displayPeripheralsTable(cmd.OutOrStdout(), peripherals)
}

// collectPeripherals scans for d, or until ctx ends, and returns the registry
// snapshot. An interrupted scan still returns what was found.
func collectPeripherals(ctx context.Context, w io.Writer, c *central.Central, filter []string, d time.Duration, logger *logrus.Logger) ([]central.Peripheral, error) {
	session, err := c.LookForDevices(ctx, filter, func(p central.Peripheral) {
		logger.WithFields(logrus.Fields{
			"id":   p.ID,
			"name": p.Name,
			"rssi": p.RSSI,
		}).Debug("Device discovered")
	})
	if err != nil {
		return nil, err
	}
	defer session.Stop()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		fmt.Fprintln(w, "\nCtrl+C pressed, stopping scan...")
	case <-session.Done():
		if err := session.Err(); err != nil {
			return nil, err
		}
	}
	return c.Devices(), nil
}
