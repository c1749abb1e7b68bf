package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/central"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <device-id>",
	Short: "Connect to a device and optionally send a timestamp",
	Long: `Connects to a BLE peripheral by its platform identifier.

With --send the current time, as decimal Unix milliseconds, is written with
acknowledgment to the payload characteristic (Current Time 1805/2a2b unless
configured otherwise).

Examples:
  # Connect and disconnect
  blecentral connect AA:BB:CC:DD:EE:FF

  # Connect and send a timestamp
  blecentral connect AA:BB:CC:DD:EE:FF --send`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var connectSend bool

func init() {
	connectCmd.Flags().BoolVar(&connectSend, "send", false, "Write the current timestamp to the payload characteristic")
}

type connectResult struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Session       string    `json:"session"`
	ConnectedAt   time.Time `json:"connected_at"`
	Payload       string    `json:"payload,omitempty"`
	PayloadBase64 string    `json:"payload_base64,omitempty"`
}

// connectDevice connects to id while showing progress on stderr.
func connectDevice(ctx context.Context, cmd *cobra.Command, c *central.Central, id string) (central.Handle, error) {
	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", id), "Connecting")
	progress.Start()
	defer progress.Stop()

	return c.ConnectTo(ctx, id)
}

func runConnect(cmd *cobra.Command, args []string) error {
	id := args[0]

	c, cfg, logger, err := openCentral(cmd)
	if err != nil {
		return err
	}
	defer closeCentral(c, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h, err := connectDevice(ctx, cmd, c, id)
	if err != nil {
		return err
	}
	res := connectResult{
		ID:          h.ID(),
		Name:        h.Peripheral.Name,
		Session:     h.SessionID,
		ConnectedAt: h.ConnectedAt,
	}

	if connectSend {
		_, payload, err := c.SendTimestamp(ctx)
		if err != nil {
			return err
		}
		res.Payload = string(payload)
		res.PayloadBase64 = central.EncodeBase64(payload)
	}

	if err := c.Disconnect(ctx, id); err != nil {
		logger.WithError(err).Warn("Failed to disconnect")
	}

	if cfg.OutputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	name := res.Name
	if name == "" {
		name = "unnamed"
	}
	successColor.Fprintf(out, "Connected to %s (%s)\n", res.ID, name)
	if connectSend {
		ms, _ := strconv.ParseInt(res.Payload, 10, 64)
		fmt.Fprintf(out, "Sent timestamp %s (%s) to %s/%s, base64 %s\n",
			res.Payload, time.UnixMilli(ms).UTC().Format(time.RFC3339Nano),
			cfg.PayloadService, cfg.PayloadCharacteristic, res.PayloadBase64)
	}
	return nil
}
