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

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-id> <data>",
	Short: "Write a characteristic value",
	Long: `Connects to a BLE peripheral and writes one characteristic.

Data is sent as text unless --hex is given. Writes wait for the peripheral's
acknowledgment unless --no-response is given.

Examples:
  # Write text to the payload characteristic
  blecentral write AA:BB:CC:DD:EE:FF 1700000000123

  # Write raw bytes without response
  blecentral write AA:BB:CC:DD:EE:FF "01 02 ff" --hex --service 6e400001b5a3f393e0a9e50e24dcca9e --char 6e400002b5a3f393e0a9e50e24dcca9e --no-response`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeCharUUID    string
	writeHex         bool
	writeNoResponse  bool
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID (defaults to the payload service)")
	writeCmd.Flags().StringVar(&writeCharUUID, "char", "", "Characteristic UUID (defaults to the payload characteristic)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Interpret data as hex (spaces and colons allowed)")
	writeCmd.Flags().BoolVar(&writeNoResponse, "no-response", false, "Write without response")
}

// parseWriteData decodes the data argument.
func parseWriteData(data string, asHex bool) ([]byte, error) {
	if !asHex {
		if data == "" {
			return nil, fmt.Errorf("data cannot be empty")
		}
		return []byte(data), nil
	}
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(data)
	cleaned = strings.TrimPrefix(strings.ToLower(cleaned), "0x")
	if cleaned == "" {
		return nil, fmt.Errorf("data cannot be empty")
	}
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	id := args[0]
	payload, err := parseWriteData(args[1], writeHex)
	if err != nil {
		return err
	}

	c, cfg, logger, err := openCentral(cmd)
	if err != nil {
		return err
	}
	defer closeCentral(c, logger)

	service, char := writeServiceUUID, writeCharUUID
	if service == "" {
		service = cfg.PayloadService
	}
	if char == "" {
		char = cfg.PayloadCharacteristic
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := connectDevice(ctx, cmd, c, id); err != nil {
		return err
	}
	defer func() {
		if err := c.Disconnect(ctx, id); err != nil {
			logger.WithError(err).Warn("Failed to disconnect")
		}
	}()

	if err := c.Write(ctx, id, service, char, payload, !writeNoResponse); err != nil {
		return err
	}

	if cfg.OutputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"id":             id,
			"service":        service,
			"characteristic": char,
			"bytes":          len(payload),
			"with_response":  !writeNoResponse,
		})
	}
	_, err = successColor.Fprintf(cmd.OutOrStdout(), "Wrote %d byte(s) to %s\n", len(payload), characteristicLabel(char))
	return err
}
