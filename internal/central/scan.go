package central

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/gattuuid"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/host"
	"github.com/srg/blecentral/internal/ringchan"
)

// DefaultScanBuffer is the number of advertisements buffered between the host
// callback and the scan pump before the oldest are dropped.
const DefaultScanBuffer = 256

// ScanState is the lifecycle position of a scan session.
type ScanState int32

const (
	ScanIdle ScanState = iota
	ScanActive
	ScanStopped
)

func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "idle"
	case ScanActive:
		return "active"
	case ScanStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ScanSession is one discovery operation. Advertisements travel from the host
// callback through a ring channel to a pump goroutine that applies the service
// filter, offers the peripheral to the registry and calls onDiscovered.
//
// Stop is cooperative: an advertisement the pump already picked up may still
// be delivered once after Stop returns. Consumers must tolerate that event.
type ScanSession struct {
	filter       []string
	stack        host.Stack
	registry     *Registry
	onDiscovered func(Peripheral)
	logger       *logrus.Logger

	events *ringchan.RingChannel[host.Advertisement]
	state  atomic.Int32
	stopCh chan struct{}
	done   <-chan struct{}

	stopOnce sync.Once
	errOnce  sync.Once
	errMu    sync.Mutex
	err      error
}

// State returns the session state.
func (ss *ScanSession) State() ScanState {
	return ScanState(ss.state.Load())
}

// Filter returns the normalized service filter; nil means unfiltered.
func (ss *ScanSession) Filter() []string {
	return ss.filter
}

// Err returns the error that terminated the session, if any.
func (ss *ScanSession) Err() error {
	ss.errMu.Lock()
	defer ss.errMu.Unlock()
	return ss.err
}

// Done is closed once the pump goroutine has exited after Stop.
func (ss *ScanSession) Done() <-chan struct{} {
	return ss.done
}

// Stop ends discovery. Calling it on a stopped session is a no-op.
func (ss *ScanSession) Stop() {
	ss.stopOnce.Do(func() {
		ss.state.Store(int32(ScanStopped))
		close(ss.stopCh)

		if err := ss.stack.StopScan(); err != nil {
			ss.logger.WithError(err).Warn("Failed to stop host scan")
		}
		dropped := ss.events.Drain()
		ss.logger.WithFields(logrus.Fields{
			"pending_dropped": dropped,
			"overwritten":     ss.events.Metrics().Overwritten,
		}).Info("Scan stopped")
	})
}

// fail records the first host error and terminates the session.
func (ss *ScanSession) fail(err error) {
	ss.errOnce.Do(func() {
		ss.errMu.Lock()
		ss.err = err
		ss.errMu.Unlock()
		ss.logger.WithError(err).Error("Scan failed")
		ss.Stop()
	})
}

// handle is the host callback. It must never block the host's goroutine.
func (ss *ScanSession) handle(adv host.Advertisement, err error) {
	if err != nil {
		ss.fail(host.NormalizeError(err))
		return
	}
	if ss.State() != ScanActive {
		return
	}
	ss.events.Send(adv)
}

func (ss *ScanSession) pump(ctx context.Context) {
	log := ss.logger.WithField("goroutine", groutine.GetName(ctx))
	log.Debug("Scan pump started")
	defer log.Debug("Scan pump exited")

	for {
		select {
		case <-ss.stopCh:
			return
		case adv := <-ss.events.C():
			ss.deliver(adv)
		}
	}
}

func (ss *ScanSession) deliver(adv host.Advertisement) {
	if adv.ID == "" || !gattuuid.ContainsAny(adv.Services, ss.filter) {
		return
	}
	p := peripheralFromAdvertisement(adv)
	if ss.registry != nil {
		ss.registry.Offer(p)
	}
	if ss.onDiscovered != nil {
		ss.onDiscovered(p)
	}
}

// Scanner starts scan sessions on the current adapter session, one at a time.
type Scanner struct {
	holder   *SessionHolder
	gate     *Gate
	registry *Registry
	buffer   int
	logger   *logrus.Logger

	startMu sync.Mutex
	mu      sync.Mutex
	current *ScanSession
}

// NewScanner creates a scanner. registry may be nil when the caller only wants
// the onDiscovered callbacks.
func NewScanner(holder *SessionHolder, gate *Gate, registry *Registry, buffer int, logger *logrus.Logger) *Scanner {
	if buffer <= 0 {
		buffer = DefaultScanBuffer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		holder:   holder,
		gate:     gate,
		registry: registry,
		buffer:   buffer,
		logger:   logger,
	}
}

// Start begins a scan for peripherals advertising any of filter (nil for all).
//
// A running session is stopped and its pump drained first, then the registry
// is reset, so no event of the old session can land after the reset. Start must
// not be called from inside onDiscovered.
func (s *Scanner) Start(filter []string, onDiscovered func(Peripheral)) (*ScanSession, error) {
	if err := s.gate.RequireReady("scan"); err != nil {
		return nil, err
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
		<-prev.Done()
	}

	sess := s.holder.Current()
	if sess == nil {
		return nil, precondition(ReasonNoSession, "scan", "no adapter session")
	}

	if s.registry != nil {
		s.registry.Reset()
	}

	ss := &ScanSession{
		filter:       gattuuid.NormalizeUUIDs(filter),
		stack:        sess.Stack(),
		registry:     s.registry,
		onDiscovered: onDiscovered,
		logger:       s.logger,
		events:       ringchan.New[host.Advertisement](s.buffer),
		stopCh:       make(chan struct{}),
	}
	ss.state.Store(int32(ScanActive))
	ss.done = groutine.Go(context.Background(), "scan-pump", ss.pump)

	s.mu.Lock()
	s.current = ss
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"session": sess.ID(),
		"filter":  ss.filter,
	}).Info("Starting BLE scan...")

	if err := sess.Stack().StartScan(ss.filter, ss.handle); err != nil {
		err = host.NormalizeError(err)
		ss.fail(err)
		return nil, &AdapterError{Op: "scan", Err: err}
	}
	return ss, nil
}

// StopActive stops the running session, if any, and reports whether one was
// running. It does not wait for the pump.
func (s *Scanner) StopActive() bool {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur == nil || cur.State() != ScanActive {
		return false
	}
	cur.Stop()
	return true
}

// Active returns the running session or nil.
func (s *Scanner) Active() *ScanSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.State() != ScanActive {
		return nil
	}
	return s.current
}
