package central

import (
	"context"
	"time"

	"github.com/srg/blecentral/internal/host"
	"github.com/srg/blecentral/internal/testutils"
)

var linuxPlatform = host.Platform{OS: host.OSLinux}

// coreSuite wires the components the way Central does, over fake stacks.
type coreSuite struct {
	testutils.FakeStackSuite

	clock    *testutils.Clock
	holder   *SessionHolder
	gate     *Gate
	registry *Registry
	scanner  *Scanner
	conns    *ConnectionManager
}

func (s *coreSuite) SetupTest() {
	s.FakeStackSuite.SetupTest()
	s.clock = testutils.NewClock(time.UnixMilli(1_700_000_000_000))
}

func (s *coreSuite) TearDownTest() {
	if s.scanner != nil {
		s.scanner.StopActive()
	}
	if s.gate != nil {
		s.gate.Close()
	}
	s.holder, s.gate, s.registry, s.scanner, s.conns = nil, nil, nil, nil, nil
}

// build creates the components on a fresh holder.
func (s *coreSuite) build(platform host.Platform) {
	holder, err := NewSessionHolder(s.Stacks.Factory(), "test-restore", s.Logger)
	s.Require().NoError(err, "session holder MUST be created")

	s.holder = holder
	s.gate = NewGate(holder, platform, s.Logger)
	s.registry = NewRegistry(DefaultDebounceWindow, s.clock.Now, s.Logger)
	s.scanner = NewScanner(holder, s.gate, s.registry, 16, s.Logger)
	s.conns = NewConnectionManager(holder, s.gate, s.scanner, s.registry, s.Logger)
	s.conns.now = s.clock.Now
}

// stack returns the stack of the current session.
func (s *coreSuite) stack() *testutils.FakeStack {
	return s.holder.Current().Stack().(*testutils.FakeStack)
}

func (s *coreSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *coreSuite) connect(id string) Handle {
	h, err := s.conns.Connect(s.ctx(), id, time.Second)
	s.Require().NoError(err, "connect to %s MUST succeed", id)
	return h
}

func handleIDs(handles []Handle) []string {
	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.ID())
	}
	return ids
}

func peripheralIDs(ps []Peripheral) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}
