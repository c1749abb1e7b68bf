package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecentral/internal/host"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, "go-ble", cfg.Backend)
	assert.Equal(t, "blecentral", cfg.RestoreID)
	assert.Equal(t, runtime.GOOS, cfg.Platform.OS)
	assert.Equal(t, 5*time.Second, cfg.DebounceWindow)
	assert.Equal(t, 100*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Second, cfg.SettleDelay)
	assert.Equal(t, 256, cfg.ScanBuffer)
	assert.Equal(t, "1805", cfg.PayloadService)
	assert.Equal(t, "2a2b", cfg.PayloadCharacteristic)
	assert.NoError(t, cfg.Validate(), "defaults MUST be valid")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected logrus.Level
	}{
		{name: "creates logger with debug level", level: "debug", expected: logrus.DebugLevel},
		{name: "creates logger with info level", level: "info", expected: logrus.InfoLevel},
		{name: "creates logger with warn level", level: "warn", expected: logrus.WarnLevel},
		{name: "unparsable level falls back to info", level: "chatty", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blecentral.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides only present keys", func(t *testing.T) {
		path := writeConfig(t, `
log_level: debug
backend: tinygo
restore_id: kiosk
platform:
  os: android
  api_level: 33
connect_timeout: 15s
service_filter: ["0x1805", "180D"]
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "tinygo", cfg.Backend)
		assert.Equal(t, "kiosk", cfg.RestoreID)
		assert.Equal(t, host.Platform{OS: host.OSAndroid, APILevel: 33}, cfg.Platform)
		assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, 5*time.Second, cfg.DebounceWindow, "absent keys MUST keep defaults")
		assert.Equal(t, []string{"0x1805", "180D"}, cfg.ServiceFilter)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read config")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log_level: [debug"))
		assert.ErrorContains(t, err, "failed to parse config")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
output_format: xml
backend: bluez
scan_buffer: 0
service_filter: ["not-a-uuid"]
`))
		require.Error(t, err)
		assert.ErrorContains(t, err, `unsupported output format "xml"`)
		assert.ErrorContains(t, err, `unknown backend "bluez"`)
		assert.ErrorContains(t, err, "scan_buffer must be positive")
		assert.ErrorContains(t, err, "service_filter: invalid UUID format")
	})
}

func TestConfig_CentralOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RestoreID = "kiosk"
	cfg.ServiceFilter = []string{"1805"}

	opts := cfg.CentralOptions()

	assert.Equal(t, "kiosk", opts.RestoreID)
	assert.Equal(t, cfg.Platform, opts.Platform)
	assert.Equal(t, 100*time.Second, opts.ConnectTimeout)
	assert.Equal(t, []string{"1805"}, opts.ServiceFilter)
	assert.Equal(t, "2a2b", opts.PayloadCharacteristic)
	assert.Nil(t, opts.Clock, "clock MUST be left to central defaults")
}
