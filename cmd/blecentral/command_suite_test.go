package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/srg/blecentral/internal/host"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/srg/blecentral/pkg/config"
)

// Test device addresses for consistent fake peripheral identification
const (
	TestDeviceAddress1 = "aa:bb:cc:dd:ee:01"
	TestDeviceAddress2 = "aa:bb:cc:dd:ee:02"
)

// fixedNow is 1700000000123 ms after the epoch.
var fixedNow = time.UnixMilli(1700000000123)

// CommandTestSuite runs commands against fake host stacks.
// All cmd/blecentral test suites embed it.
type CommandTestSuite struct {
	testutils.FakeStackSuite

	origHostFactory func(*config.Config) (host.Factory, error)
	origClock       func() time.Time
	origNoColor     bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.FakeStackSuite.SetupSuite()
	s.origHostFactory = HostFactory
	s.origClock = clock
	s.origNoColor = color.NoColor
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	HostFactory = s.origHostFactory
	clock = s.origClock
	color.NoColor = s.origNoColor
}

func (s *CommandTestSuite) SetupTest() {
	s.FakeStackSuite.SetupTest()
	HostFactory = func(*config.Config) (host.Factory, error) {
		return s.Stacks.Factory(), nil
	}
	clock = func() time.Time { return fixedNow }
	resetFlags()
}

// resetFlags restores every flag variable to its default; cobra keeps values
// between Execute calls.
func resetFlags() {
	configPath, backendName, outputFormat = "", "", ""
	noColor = false
	connectTimeout = 0

	scanDuration = 10 * time.Second
	scanServices = nil
	connectSend = false
	readServiceUUID, readCharUUID, readHex = "", "", false
	writeServiceUUID, writeCharUUID, writeHex, writeNoResponse = "", "", false, false
	permissionOS, permissionAPILevel = "", 0

	_ = rootCmd.PersistentFlags().Set("log-level", "")
	_ = rootCmd.PersistentFlags().Set("verbose", "false")
}

// syncBuffer takes progress and log output from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// ExecuteCommand runs the root command with args and returns stdout and the error.
// Progress output goes to a separate buffer.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(&syncBuffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// WriteConfig writes a YAML config file and returns its path.
func (s *CommandTestSuite) WriteConfig(body string) string {
	path := filepath.Join(s.T().TempDir(), "blecentral.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(body), 0o600), "config write MUST succeed")
	return path
}

// Text returns a text asserter for the current test.
func (s *CommandTestSuite) Text() *testutils.TextAsserter {
	return testutils.NewTextAsserter(s.T())
}

// JSON returns a JSON asserter for the current test.
func (s *CommandTestSuite) JSON() *testutils.JSONAsserter {
	return testutils.NewJSONAsserter(s.T())
}
