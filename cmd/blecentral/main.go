package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	"unicode"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blecentral",
	Short: "Bluetooth Low Energy central session tool",
	Long: `Bluetooth Low Energy (BLE) central-role tool that provides:

- Adapter readiness and runtime permission checks
- Debounced discovery of nearby peripherals
- Connection management with timeouts and a single connect in flight per device
- GATT service discovery, characteristic reads and writes
- Timestamp payload delivery to a connected peripheral
- Adapter session recreation with a reconciliation report`,
	Version: formatVersion(version),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

var (
	configPath   string
	backendName  string
	outputFormat string
	noColor      bool

	connectTimeout time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("ERROR:"), FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("blecentral %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(permissionCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "Host BLE backend (go-ble, tinygo); overrides config")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "", "Output format (table, json); overrides config")
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", 0, "Connect timeout; overrides config")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
