package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/pkg/config"
)

// cliLogLevels are the values --log-level accepts.
var cliLogLevels = []string{"debug", "info", "warn", "error"}

// configureLogger builds the command logger from the config's logger, writing
// to the command's stderr at the level chosen by commandLogLevel.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	level, err := commandLogLevel(cmd, cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger()
	logger.SetLevel(level)
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}

// commandLogLevel resolves the level in order: --log-level, --verbose, the
// level of an explicit --config file. Otherwise the CLI stays silent.
func commandLogLevel(cmd *cobra.Command, cfg *config.Config) (logrus.Level, error) {
	flags := cmd.Flags()
	if name, _ := flags.GetString("log-level"); name != "" {
		if !slices.Contains(cliLogLevels, name) {
			return 0, fmt.Errorf("invalid log level: %s (must be %s)", name, strings.Join(cliLogLevels, ", "))
		}
		return logrus.ParseLevel(name)
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		return logrus.DebugLevel, nil
	}
	if configPath != "" {
		return cfg.Level(), nil
	}
	return logrus.PanicLevel, nil
}
