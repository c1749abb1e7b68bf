package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/host"
	"github.com/srg/blecentral/internal/hostfactory"
	"github.com/srg/blecentral/pkg/config"
)

// HostFactory resolves the host stack for a config.
// This is a variable so that it can be overridden in tests.
var HostFactory = func(cfg *config.Config) (host.Factory, error) { //nolint:revive
	return hostfactory.New(cfg.Backend)
}

// clock stamps payloads; nil leaves the Central default. Tests override it.
var clock func() time.Time

// loadConfig reads --config and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if backendName != "" {
		cfg.Backend = backendName
	}
	if connectTimeout > 0 {
		cfg.ConnectTimeout = connectTimeout
	}
	if outputFormat != "" {
		cfg.OutputFormat = outputFormat
	}
	if cfg.OutputFormat != "table" && cfg.OutputFormat != "json" {
		return nil, fmt.Errorf("invalid format '%s': must be one of [table json]", cfg.OutputFormat)
	}
	return cfg, nil
}

// openCentral validates the global flags and builds a Central on the configured
// backend. mods adjust the config before the Central is built. The caller owns
// the returned Central and must Close it.
func openCentral(cmd *cobra.Command, mods ...func(*config.Config)) (*central.Central, *config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	for _, mod := range mods {
		mod(cfg)
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	factory, err := HostFactory(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := cfg.CentralOptions()
	opts.Clock = clock
	c, err := central.New(factory, opts, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, cfg, logger, nil
}

// closeCentral closes c, logging rather than returning the error so it never
// masks the command's own result.
func closeCentral(c *central.Central, logger *logrus.Logger) {
	if err := c.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close adapter session")
	}
}
