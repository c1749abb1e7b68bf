package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/gattuuid"
	"github.com/srg/blecentral/internal/host"
	"github.com/srg/blecentral/internal/hostfactory"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" default:"info"`
	OutputFormat string `yaml:"output_format" default:"table"` // table, json
	Backend      string `yaml:"backend" default:"go-ble"`

	RestoreID string        `yaml:"restore_id" default:"blecentral"`
	Platform  host.Platform `yaml:"platform"`

	DebounceWindow time.Duration `yaml:"debounce_window" default:"5s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"100s"`
	SettleDelay    time.Duration `yaml:"settle_delay" default:"1s"`
	ScanBuffer     int           `yaml:"scan_buffer" default:"256"`

	ServiceFilter         []string `yaml:"service_filter"`
	PayloadService        string   `yaml:"payload_service" default:"1805"`
	PayloadCharacteristic string   `yaml:"payload_characteristic" default:"2a2b"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Platform.OS = runtime.GOOS
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Platform.OS == "" {
		cfg.Platform.OS = runtime.GOOS
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values that the loader cannot.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.OutputFormat != "table" && c.OutputFormat != "json" {
		errs = append(errs, fmt.Errorf("unsupported output format %q", c.OutputFormat))
	}
	if _, err := hostfactory.New(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.RestoreID == "" {
		errs = append(errs, errors.New("restore_id cannot be empty"))
	}
	for name, d := range map[string]time.Duration{
		"debounce_window": c.DebounceWindow,
		"connect_timeout": c.ConnectTimeout,
		"settle_delay":    c.SettleDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative", name))
		}
	}
	if c.ScanBuffer <= 0 {
		errs = append(errs, fmt.Errorf("scan_buffer must be positive, got %d", c.ScanBuffer))
	}
	if len(c.ServiceFilter) > 0 {
		if _, err := gattuuid.ValidateUUID(c.ServiceFilter...); err != nil {
			errs = append(errs, fmt.Errorf("service_filter: %w", err))
		}
	}
	if _, err := gattuuid.ValidateUUID(c.PayloadService, c.PayloadCharacteristic); err != nil {
		errs = append(errs, fmt.Errorf("payload target: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// CentralOptions converts the config into central.Options.
func (c *Config) CentralOptions() central.Options {
	return central.Options{
		RestoreID:             c.RestoreID,
		Platform:              c.Platform,
		DebounceWindow:        c.DebounceWindow,
		ConnectTimeout:        c.ConnectTimeout,
		SettleDelay:           c.SettleDelay,
		ScanBuffer:            c.ScanBuffer,
		ServiceFilter:         c.ServiceFilter,
		PayloadService:        c.PayloadService,
		PayloadCharacteristic: c.PayloadCharacteristic,
	}
}
