package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/pkg/config"
)

// permissionCmd represents the permission command
var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Request the runtime BLE permissions of the platform",
	Long: `Requests the BLE runtime permissions the platform requires and reports
whether they were granted. Android 12 (API 31) and later needs BLUETOOTH_SCAN
and BLUETOOTH_CONNECT, older Android needs fine location, and other known
platforms need nothing.

Examples:
  blecentral permission
  blecentral permission --os android --api-level 33`,
	Args: cobra.NoArgs,
	RunE: runPermission,
}

var (
	permissionOS       string
	permissionAPILevel int
)

func init() {
	permissionCmd.Flags().StringVar(&permissionOS, "os", "", "Platform OS (defaults to config or the running OS)")
	permissionCmd.Flags().IntVar(&permissionAPILevel, "api-level", 0, "Android API level")
}

func runPermission(cmd *cobra.Command, args []string) error {
	c, cfg, logger, err := openCentral(cmd, func(cfg *config.Config) {
		if permissionOS != "" {
			cfg.Platform.OS = permissionOS
		}
		if permissionAPILevel > 0 {
			cfg.Platform.APILevel = permissionAPILevel
		}
	})
	if err != nil {
		return err
	}
	defer closeCentral(c, logger)

	granted, err := c.RequestPermission(cmd.Context())
	if err != nil {
		return err
	}

	if cfg.OutputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"os":        cfg.Platform.OS,
			"api_level": cfg.Platform.APILevel,
			"granted":   granted,
		})
	}
	if granted {
		_, err = successColor.Fprintf(cmd.OutOrStdout(), "BLE permissions granted on %s\n", cfg.Platform.OS)
		return err
	}
	_, err = warnColor.Fprintf(cmd.OutOrStdout(), "BLE permissions denied on %s\n", cfg.Platform.OS)
	if err != nil {
		return err
	}
	return fmt.Errorf("permission denied")
}
