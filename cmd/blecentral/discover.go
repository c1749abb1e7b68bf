package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover <device-id>",
	Short: "List the GATT services and characteristics of a device",
	Long: `Connects to a BLE peripheral and enumerates every service and
characteristic it exposes, with well-known names where available.

Examples:
  blecentral discover AA:BB:CC:DD:EE:FF
  blecentral discover AA:BB:CC:DD:EE:FF --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscover,
}

type discoverResult struct {
	ID       string        `json:"id"`
	Services []serviceJSON `json:"services"`
}

func runDiscover(cmd *cobra.Command, args []string) error {
	c, cfg, logger, err := openCentral(cmd)
	if err != nil {
		return err
	}
	defer closeCentral(c, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := connectDevice(ctx, cmd, c, args[0]); err != nil {
		return err
	}
	defer func() {
		if err := c.Disconnect(ctx, args[0]); err != nil {
			logger.WithError(err).Warn("Failed to disconnect")
		}
	}()

	id, services, err := c.DiscoverServices(ctx)
	if err != nil {
		return err
	}

	if cfg.OutputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), discoverResult{ID: id, Services: servicesToJSON(services)})
	}
	return displayServicesTree(cmd.OutOrStdout(), id, services)
}
