package central

import (
	"context"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/host"
)

// Options configures a Central. Zero fields take the values of their default tags.
type Options struct {
	RestoreID      string        `default:"blecentral"`
	Platform       host.Platform
	DebounceWindow time.Duration `default:"5s"`
	ConnectTimeout time.Duration `default:"100s"`
	SettleDelay    time.Duration `default:"1s"`
	ScanBuffer     int           `default:"256"`

	// ServiceFilter scopes the host-side connection listing used on recreate.
	ServiceFilter []string

	PayloadService        string `default:"1805"`
	PayloadCharacteristic string `default:"2a2b"`

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Central wires the gate, registry, scanner, connection manager and recovery
// coordinator over one session holder.
type Central struct {
	opts   Options
	logger *logrus.Logger

	holder   *SessionHolder
	gate     *Gate
	registry *Registry
	scanner  *Scanner
	conns    *ConnectionManager
	recovery *RecoveryCoordinator

	closeOnce sync.Once
}

// New builds the initial adapter session through factory and the components on top of it.
func New(factory host.Factory, opts Options, logger *logrus.Logger) (*Central, error) {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	holder, err := NewSessionHolder(factory, opts.RestoreID, logger)
	if err != nil {
		return nil, err
	}

	gate := NewGate(holder, opts.Platform, logger)
	registry := NewRegistry(opts.DebounceWindow, opts.Clock, logger)
	scanner := NewScanner(holder, gate, registry, opts.ScanBuffer, logger)
	conns := NewConnectionManager(holder, gate, scanner, registry, logger)
	conns.now = opts.Clock

	return &Central{
		opts:     opts,
		logger:   logger,
		holder:   holder,
		gate:     gate,
		registry: registry,
		scanner:  scanner,
		conns:    conns,
		recovery: NewRecoveryCoordinator(holder, gate, scanner, opts.ServiceFilter, opts.SettleDelay, logger),
	}, nil
}

// Options returns the effective options.
func (c *Central) Options() Options { return c.opts }

// Session returns the current adapter session.
func (c *Central) Session() *Session { return c.holder.Current() }

// Gate returns the adapter gate.
func (c *Central) Gate() *Gate { return c.gate }

// Connections returns the connection manager.
func (c *Central) Connections() *ConnectionManager { return c.conns }

// RequestPermission asks for the runtime BLE permissions of the platform.
func (c *Central) RequestPermission(ctx context.Context) (bool, error) {
	return c.gate.RequestPermission(ctx)
}

// LookForDevices waits for the adapter, resets the registry and starts a scan
// that offers every matching advertisement to the registry. A nil filter scans
// for everything.
func (c *Central) LookForDevices(ctx context.Context, filter []string, onDiscovered func(Peripheral)) (*ScanSession, error) {
	outcome, err := c.gate.AwaitReady(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case outcome.State == host.StateUnsupported:
		return nil, &UnsupportedPlatformError{OS: c.opts.Platform.OS, State: outcome.State}
	case !outcome.Ready():
		return nil, precondition(ReasonAdapterNotReady, "scan", "adapter is %s", outcome.State)
	}
	return c.scanner.Start(filter, onDiscovered)
}

// StopScan stops the running scan, if any.
func (c *Central) StopScan() bool {
	return c.scanner.StopActive()
}

// ActiveScan returns the running scan session or nil.
func (c *Central) ActiveScan() *ScanSession {
	return c.scanner.Active()
}

// ConnectTo connects to id with the configured timeout.
func (c *Central) ConnectTo(ctx context.Context, id string) (Handle, error) {
	return c.conns.Connect(ctx, id, c.opts.ConnectTimeout)
}

// Disconnect disconnects id.
func (c *Central) Disconnect(ctx context.Context, id string) error {
	return c.conns.Disconnect(ctx, id)
}

// SendTimestamp writes the current time, with acknowledgment, to the payload
// characteristic of the most recently connected peripheral and returns what
// was written.
func (c *Central) SendTimestamp(ctx context.Context) (string, []byte, error) {
	h, ok := c.conns.Latest()
	if !ok {
		return "", nil, precondition(ReasonNotConnected, "send", "no connected device")
	}

	payload := TimestampPayload(c.opts.Clock())
	err := c.conns.Write(ctx, h.ID(), c.opts.PayloadService, c.opts.PayloadCharacteristic, payload, true)
	if err != nil {
		return h.ID(), nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"id":      h.ID(),
		"payload": EncodeBase64(payload),
	}).Info("Timestamp sent")
	return h.ID(), payload, nil
}

// DiscoverServices discovers the service tree of the most recently connected peripheral.
func (c *Central) DiscoverServices(ctx context.Context) (string, []host.Service, error) {
	h, ok := c.conns.Latest()
	if !ok {
		return "", nil, precondition(ReasonNotConnected, "discover", "no connected device")
	}
	services, err := c.conns.DiscoverServices(ctx, h.ID())
	return h.ID(), services, err
}

// Read reads a characteristic of a connected peripheral.
func (c *Central) Read(ctx context.Context, id, service, characteristic string) ([]byte, error) {
	return c.conns.Read(ctx, id, service, characteristic)
}

// Write writes a characteristic of a connected peripheral.
func (c *Central) Write(ctx context.Context, id, service, characteristic string, payload []byte, withResponse bool) error {
	return c.conns.Write(ctx, id, service, characteristic, payload, withResponse)
}

// RecreateSession rebuilds the adapter session and reports how the host-side
// connections reconciled. Handles held before the call become stale: operations
// on them fail with ErrStaleSession and ConnectTo on their IDs fails with
// AlreadyConnectedError until PruneStale or Disconnect drops them.
func (c *Central) RecreateSession(ctx context.Context) (*ReconciliationReport, error) {
	handles := c.conns.Snapshot()
	previous := make([]string, 0, len(handles))
	for _, h := range handles {
		previous = append(previous, h.ID())
	}
	return c.recovery.Recreate(ctx, previous)
}

// PruneStale drops the handles of replaced sessions and returns their IDs.
func (c *Central) PruneStale() []string {
	return c.conns.PruneStale()
}

// Devices returns the registry snapshot.
func (c *Central) Devices() []Peripheral {
	return c.registry.Snapshot()
}

// Connected returns the connected set, most recently connected first.
func (c *Central) Connected() []Handle {
	return c.conns.Snapshot()
}

// Busy reports whether a connect is in flight.
func (c *Central) Busy() bool {
	return c.conns.Busy()
}

// Close stops scanning, detaches the gate and closes the adapter session.
func (c *Central) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.scanner.StopActive()
		c.gate.Close()
		if s := c.holder.Current(); s != nil {
			err = s.Close()
		}
		c.logger.Debug("Central closed")
	})
	return err
}
