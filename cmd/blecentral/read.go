package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-id>",
	Short: "Read a characteristic value",
	Long: `Connects to a BLE peripheral and reads one characteristic.

Printable values are shown as text, anything else as hex.

Examples:
  # Read the Current Time characteristic
  blecentral read AA:BB:CC:DD:EE:FF --service 1805 --char 2a2b

  # Read Battery Level as hex
  blecentral read AA:BB:CC:DD:EE:FF --service 180f --char 2a19 --hex`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

var (
	readServiceUUID string
	readCharUUID    string
	readHex         bool
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID (defaults to the payload service)")
	readCmd.Flags().StringVar(&readCharUUID, "char", "", "Characteristic UUID (defaults to the payload characteristic)")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Output as hex string (e.g., 'FF01')")
}

type readResult struct {
	ID             string `json:"id"`
	Service        string `json:"service"`
	Characteristic string `json:"characteristic"`
	Value          []byte `json:"value"`
	Hex            string `json:"hex"`
}

func runRead(cmd *cobra.Command, args []string) error {
	c, cfg, logger, err := openCentral(cmd)
	if err != nil {
		return err
	}
	defer closeCentral(c, logger)

	service, char := readServiceUUID, readCharUUID
	if service == "" {
		service = cfg.PayloadService
	}
	if char == "" {
		char = cfg.PayloadCharacteristic
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	id := args[0]
	if _, err := connectDevice(ctx, cmd, c, id); err != nil {
		return err
	}
	defer func() {
		if err := c.Disconnect(ctx, id); err != nil {
			logger.WithError(err).Warn("Failed to disconnect")
		}
	}()

	data, err := c.Read(ctx, id, service, char)
	if err != nil {
		return err
	}

	if cfg.OutputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), readResult{
			ID:             id,
			Service:        service,
			Characteristic: char,
			Value:          data,
			Hex:            strings.ToUpper(hex.EncodeToString(data)),
		})
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", characteristicLabel(char), formatValue(data, readHex))
	return err
}
