package central

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/host"
	"github.com/srg/blecentral/internal/ringchan"
)

// Readiness is the outcome of waiting for the adapter.
type Readiness int

const (
	NotAvailable Readiness = iota
	Ready
)

func (r Readiness) String() string {
	if r == Ready {
		return "ready"
	}
	return "not_available"
}

// ReadinessOutcome carries the readiness verdict and the state that produced it.
type ReadinessOutcome struct {
	Readiness Readiness
	State     host.AdapterState
}

// Ready reports whether the adapter is powered on.
func (o ReadinessOutcome) Ready() bool { return o.Readiness == Ready }

// permissionRequestTimeout bounds a permission request started by AwaitReady.
const permissionRequestTimeout = 2 * time.Minute

// Gate tracks adapter power/support state and runtime permissions for the
// current session, and gatekeeps scan and connect.
type Gate struct {
	holder   *SessionHolder
	platform host.Platform
	logger   *logrus.Logger

	mu      sync.Mutex
	state   host.AdapterState
	bound   string // session id the tracker listens to
	tracker host.Subscription

	permissionInFlight atomic.Bool
}

// NewGate creates a gate bound to the holder's current session.
func NewGate(holder *SessionHolder, platform host.Platform, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	g := &Gate{
		holder:   holder,
		platform: platform,
		logger:   logger,
	}
	if s := holder.Current(); s != nil {
		g.Bind(s)
	}
	return g
}

// Bind moves state tracking to s. The previous tracker is detached and its
// late events are ignored.
func (g *Gate) Bind(s *Session) {
	g.mu.Lock()
	old := g.tracker
	g.tracker = nil
	g.state = host.StateUnknown
	g.bound = s.ID()
	g.mu.Unlock()

	if old != nil {
		old.Remove()
	}

	// OnStateChange may deliver the current state synchronously, so the
	// subscription is made without holding mu.
	sessionID := s.ID()
	sub := s.Stack().OnStateChange(func(state host.AdapterState) {
		g.record(sessionID, state)
	}, true)

	g.mu.Lock()
	if g.bound == sessionID {
		g.tracker = sub
		sub = nil
	}
	g.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}
}

func (g *Gate) record(sessionID string, state host.AdapterState) {
	g.mu.Lock()
	if g.bound != sessionID {
		g.mu.Unlock()
		return
	}
	prev := g.state
	g.state = state
	g.mu.Unlock()

	if prev != state {
		g.logger.WithFields(logrus.Fields{
			"session": sessionID,
			"from":    prev.String(),
			"to":      state.String(),
		}).Debug("Adapter state changed")
	}
}

// State returns the last adapter state reported for the current session.
func (g *Gate) State() host.AdapterState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Ready reports whether the adapter is powered on.
func (g *Gate) Ready() bool {
	return g.State() == host.StatePoweredOn
}

// RequireReady returns a PreconditionError unless the adapter is powered on.
func (g *Gate) RequireReady(op string) error {
	s := g.holder.Current()
	if s == nil {
		return precondition(ReasonNoSession, op, "no adapter session")
	}
	if s.Closed() {
		return precondition(ReasonNoSession, op, "adapter session %s is closed", s.ID())
	}
	if state := g.State(); state != host.StatePoweredOn {
		return precondition(ReasonAdapterNotReady, op, "adapter is %s", state)
	}
	return nil
}

// AwaitReady waits until the adapter reports Unsupported, PoweredOff or
// PoweredOn. Unauthorized triggers a permission request and the wait goes on.
// The state listener is detached on every return path. Failures are not retried.
func (g *Gate) AwaitReady(ctx context.Context) (ReadinessOutcome, error) {
	s := g.holder.Current()
	if s == nil {
		return ReadinessOutcome{}, precondition(ReasonNoSession, "await_ready", "no adapter session")
	}
	if s.Closed() {
		return ReadinessOutcome{}, precondition(ReasonNoSession, "await_ready", "adapter session %s is closed", s.ID())
	}

	// Latest state wins if the stack reports faster than we consume.
	states := ringchan.New[host.AdapterState](4)
	sub := s.Stack().OnStateChange(func(state host.AdapterState) {
		states.Send(state)
	}, true)
	defer sub.Remove()

	last := host.StateUnknown
	for {
		select {
		case <-ctx.Done():
			return ReadinessOutcome{Readiness: NotAvailable, State: last}, ctx.Err()
		case state := <-states.C():
			last = state
			g.logger.WithField("state", state.String()).Debug("Adapter state while awaiting readiness")

			switch state {
			case host.StatePoweredOn:
				return ReadinessOutcome{Readiness: Ready, State: state}, nil
			case host.StateUnsupported, host.StatePoweredOff:
				return ReadinessOutcome{Readiness: NotAvailable, State: state}, nil
			case host.StateUnauthorized:
				g.requestPermissionAsync(ctx)
			default:
				// Unknown/Resetting: the stack will report again.
			}
		}
	}
}

func (g *Gate) requestPermissionAsync(ctx context.Context) {
	if !g.permissionInFlight.CompareAndSwap(false, true) {
		return
	}
	// The prompt outlives the wait that triggered it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), permissionRequestTimeout)
	groutine.Go(ctx, "gate-permission", func(ctx context.Context) {
		defer cancel()
		defer g.permissionInFlight.Store(false)

		log := g.logger.WithField("goroutine", groutine.GetName(ctx))
		granted, err := g.RequestPermission(ctx)
		if err != nil {
			log.WithError(err).Warn("Permission request failed")
			return
		}
		log.WithField("granted", granted).Info("Permission request finished")
	})
}

// RequestPermission asks the host OS for the BLE runtime permissions this
// platform needs. Android below API 31 needs fine location; 31 and later need
// both BLUETOOTH_SCAN and BLUETOOTH_CONNECT. Other known platforms need nothing.
func (g *Gate) RequestPermission(ctx context.Context) (bool, error) {
	if !g.platform.Known() {
		return false, &UnsupportedPlatformError{OS: g.platform.OS}
	}
	if !g.platform.NeedsExplicitGrant() {
		return true, nil
	}

	s := g.holder.Current()
	if s == nil {
		return false, precondition(ReasonNoSession, "request_permission", "no adapter session")
	}

	caps := []host.Capability{host.CapabilityFineLocation}
	if g.platform.APILevel >= host.AndroidRuntimeBLEPermissionsLevel {
		caps = []host.Capability{host.CapabilityScan, host.CapabilityConnect}
	}

	g.logger.WithFields(logrus.Fields{
		"api_level":    g.platform.APILevel,
		"capabilities": caps,
	}).Debug("Requesting BLE permissions")

	granted, err := s.Stack().RequestCapabilities(ctx, caps)
	if err != nil {
		return false, &AdapterError{Op: "request_permission", Err: err}
	}
	for _, c := range caps {
		if !granted[c] {
			g.logger.WithField("capability", string(c)).Warn("BLE permission denied")
			return false, nil
		}
	}
	return true, nil
}

// Close detaches the state tracker.
func (g *Gate) Close() {
	g.mu.Lock()
	sub := g.tracker
	g.tracker = nil
	g.bound = ""
	g.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}
}
