package central

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/gattuuid"
	"github.com/srg/blecentral/internal/host"
)

// DefaultConnectTimeout bounds a connect attempt when the caller passes no timeout.
const DefaultConnectTimeout = 100 * time.Second

// Handle is a connected peripheral as held by the ConnectionManager. Callers
// receive copies; the manager replaces its own copy wholesale on change.
type Handle struct {
	Peripheral  Peripheral
	SessionID   string
	ConnectedAt time.Time
	Services    []host.Service

	session *Session
}

// ID returns the peripheral ID.
func (h Handle) ID() string { return h.Peripheral.ID }

// ScanStopper stops the running scan session, if any.
type ScanStopper interface {
	StopActive() bool
}

// ConnectionManager owns the connected set and performs GATT operations on it.
// At most one handle exists per peripheral ID; the set is ordered most recently
// connected first.
type ConnectionManager struct {
	holder   *SessionHolder
	gate     *Gate
	scanner  ScanStopper
	registry *Registry
	now      func() time.Time
	logger   *logrus.Logger

	mu      sync.RWMutex
	handles []*Handle
	pending *hashmap.Map[string, time.Time]
}

// NewConnectionManager creates a manager. scanner and registry may be nil.
func NewConnectionManager(holder *SessionHolder, gate *Gate, scanner ScanStopper, registry *Registry, logger *logrus.Logger) *ConnectionManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConnectionManager{
		holder:   holder,
		gate:     gate,
		scanner:  scanner,
		registry: registry,
		now:      time.Now,
		logger:   logger,
		pending:  hashmap.New[string, time.Time](),
	}
}

// Connect connects to id within timeout (DefaultConnectTimeout if <= 0).
//
// A peripheral that is connected or already connecting is rejected with
// AlreadyConnectedError. On failure no handle exists afterwards. On success
// the active scan is stopped before the handle is published and returned.
func (m *ConnectionManager) Connect(ctx context.Context, id string, timeout time.Duration) (Handle, error) {
	if id == "" {
		return Handle{}, precondition(ReasonInvalidArgument, "connect", "peripheral id is empty")
	}
	if err := m.gate.RequireReady("connect"); err != nil {
		return Handle{}, err
	}
	sess := m.holder.Current()
	if sess == nil {
		return Handle{}, precondition(ReasonNoSession, "connect", "no adapter session")
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	m.mu.Lock()
	if m.indexOf(id) >= 0 {
		m.mu.Unlock()
		m.logger.WithField("id", id).Warn("Connection attempt while already connected")
		return Handle{}, &AlreadyConnectedError{ID: id}
	}
	if _, loaded := m.pending.GetOrInsert(id, m.now()); loaded {
		m.mu.Unlock()
		m.logger.WithField("id", id).Warn("Connection attempt while already connecting")
		return Handle{}, &AlreadyConnectedError{ID: id, Pending: true}
	}
	m.mu.Unlock()
	defer m.pending.Del(id)

	m.logger.WithFields(logrus.Fields{
		"id":      id,
		"timeout": timeout,
		"session": sess.ID(),
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dev, err := sess.Stack().Connect(connCtx, id)
	if err == nil && connCtx.Err() != nil {
		// The stack finished after the deadline; no zombie handle.
		if dErr := sess.Stack().Disconnect(id); dErr != nil {
			m.logger.WithError(dErr).Warn("Failed to drop late connection")
		}
		err = connCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(connCtx.Err(), context.DeadlineExceeded) {
			err = errors.Join(ErrConnectTimeout, err)
		}
		m.logger.WithFields(logrus.Fields{
			"id":    id,
			"error": err,
		}).Error("Failed to connect")
		return Handle{}, &AdapterError{Op: "connect", PeripheralID: id, Err: host.NormalizeError(err)}
	}

	// Callers never observe "connected" while a scan is still active.
	if m.scanner != nil && m.scanner.StopActive() {
		m.logger.Debug("Scan stopped by successful connect")
	}

	p := Peripheral{ID: id, Name: dev.Name}
	if m.registry != nil {
		if known, ok := m.registry.Get(id); ok {
			p = known
			if dev.Name != "" {
				p.Name = dev.Name
			}
		}
	}
	p.State = Connected

	h := &Handle{
		Peripheral:  p,
		SessionID:   sess.ID(),
		ConnectedAt: m.now(),
		session:     sess,
	}

	m.mu.Lock()
	m.handles = append([]*Handle{h}, m.handles...)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"id":   id,
		"name": p.DisplayName(),
	}).Info("BLE device connected successfully")
	return h.copy(), nil
}

// Disconnect removes the handle for id and disconnects it on the host when its
// session is still current. The handle is removed even if the host fails.
func (m *ConnectionManager) Disconnect(ctx context.Context, id string) error {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return precondition(ReasonNotConnected, "disconnect", "%s is not connected", id)
	}
	h := m.handles[i]
	m.handles = slices.Delete(slices.Clone(m.handles), i, i+1)
	m.mu.Unlock()

	if m.stale(h) {
		m.logger.WithField("id", id).Debug("Dropped handle of replaced session")
		return nil
	}
	if err := h.session.Stack().Disconnect(id); err != nil {
		return &AdapterError{Op: "disconnect", PeripheralID: id, Err: host.NormalizeError(err)}
	}
	m.logger.WithField("id", id).Info("BLE device disconnected")
	return nil
}

// DiscoverServices enumerates all services and characteristics of a connected
// peripheral. It may be re-run; the latest result replaces the stored one.
func (m *ConnectionManager) DiscoverServices(ctx context.Context, id string) ([]host.Service, error) {
	h, err := m.resolve("discover", id)
	if err != nil {
		return nil, err
	}

	m.logger.WithField("id", id).Debug("Discovering services and characteristics...")
	services, err := h.session.Stack().DiscoverAll(ctx, id)
	if err != nil {
		return nil, m.hostFailure("discover", id, err)
	}

	m.mu.Lock()
	if i := m.indexOf(id); i >= 0 && m.handles[i] == h {
		updated := h.copy()
		updated.Services = services
		m.handles = slices.Clone(m.handles)
		m.handles[i] = &updated
	}
	m.mu.Unlock()

	totalChars := 0
	for _, svc := range services {
		totalChars += len(svc.Characteristics)
	}
	m.logger.WithFields(logrus.Fields{
		"id":              id,
		"services":        len(services),
		"characteristics": totalChars,
	}).Info("Discovery finished")

	return slices.Clone(services), nil
}

// Write writes payload to a characteristic. With withResponse it returns after
// the peripheral acknowledged; otherwise once the local stack queued the write.
func (m *ConnectionManager) Write(ctx context.Context, id, service, characteristic string, payload []byte, withResponse bool) error {
	svc, char, err := validateTarget("write", service, characteristic)
	if err != nil {
		return err
	}
	h, err := m.resolve("write", id)
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"id":            id,
		"service":       svc,
		"char":          char,
		"bytes":         len(payload),
		"with_response": withResponse,
	}).Debug("Writing characteristic")

	if err := h.session.Stack().WriteCharacteristic(ctx, id, svc, char, payload, withResponse); err != nil {
		return m.hostFailure("write", id, err)
	}
	return nil
}

// Read reads a characteristic value.
func (m *ConnectionManager) Read(ctx context.Context, id, service, characteristic string) ([]byte, error) {
	svc, char, err := validateTarget("read", service, characteristic)
	if err != nil {
		return nil, err
	}
	h, err := m.resolve("read", id)
	if err != nil {
		return nil, err
	}

	data, err := h.session.Stack().ReadCharacteristic(ctx, id, svc, char)
	if err != nil {
		return nil, m.hostFailure("read", id, err)
	}
	return data, nil
}

// Snapshot returns the connected set, most recently connected first.
func (m *ConnectionManager) Snapshot() []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Handle, len(m.handles))
	for i, h := range m.handles {
		out[i] = h.copy()
	}
	return out
}

// Get returns the handle for id.
func (m *ConnectionManager) Get(id string) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.indexOf(id); i >= 0 {
		return m.handles[i].copy(), true
	}
	return Handle{}, false
}

// Latest returns the most recently connected handle.
func (m *ConnectionManager) Latest() (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.handles) == 0 {
		return Handle{}, false
	}
	return m.handles[0].copy(), true
}

// Busy reports whether any connect is in flight.
func (m *ConnectionManager) Busy() bool {
	return m.pending.Len() > 0
}

// InFlight returns the IDs with a connect in flight.
func (m *ConnectionManager) InFlight() []string {
	ids := make([]string, 0, m.pending.Len())
	m.pending.Range(func(id string, _ time.Time) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// PruneStale removes handles created on a session that has since been
// replaced or closed and returns their IDs. Recovery never does this on its own.
func (m *ConnectionManager) PruneStale() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned []string
	kept := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		if m.stale(h) {
			pruned = append(pruned, h.ID())
			continue
		}
		kept = append(kept, h)
	}
	m.handles = kept

	if len(pruned) > 0 {
		m.logger.WithField("ids", pruned).Info("Pruned handles of replaced session")
	}
	return pruned
}

// resolve finds the live handle for id. Unknown IDs and handles of replaced
// sessions fail before the host stack is touched.
func (m *ConnectionManager) resolve(op, id string) (*Handle, error) {
	m.mu.RLock()
	i := m.indexOf(id)
	var h *Handle
	if i >= 0 {
		h = m.handles[i]
	}
	m.mu.RUnlock()

	if h == nil {
		return nil, precondition(ReasonNotConnected, op, "%s is not connected", id)
	}
	if m.stale(h) {
		return nil, precondition(ReasonStaleSession, op, "%s was connected on replaced session %s", id, h.SessionID)
	}
	return h, nil
}

// stale reports whether h belongs to a replaced or closed session.
func (m *ConnectionManager) stale(h *Handle) bool {
	return h.session != m.holder.Current() || h.session.Closed()
}

// hostFailure wraps a host error. A peripheral the host reports as gone loses
// its handle so the connected set does not keep a dead entry.
func (m *ConnectionManager) hostFailure(op, id string, err error) error {
	err = host.NormalizeError(err)
	if errors.Is(err, host.ErrNotConnected) {
		m.mu.Lock()
		if i := m.indexOf(id); i >= 0 {
			m.handles = slices.Delete(slices.Clone(m.handles), i, i+1)
		}
		m.mu.Unlock()
		m.logger.WithField("id", id).Warn("Peripheral reported disconnected, handle removed")
	}
	return &AdapterError{Op: op, PeripheralID: id, Err: err}
}

// indexOf must be called with mu held.
func (m *ConnectionManager) indexOf(id string) int {
	for i, h := range m.handles {
		if h.ID() == id {
			return i
		}
	}
	return -1
}

func (h *Handle) copy() Handle {
	c := *h
	c.Peripheral = h.Peripheral.clone()
	c.Services = slices.Clone(h.Services)
	return c
}

func validateTarget(op, service, characteristic string) (string, string, error) {
	svc := gattuuid.NormalizeUUID(service)
	if svc == "" {
		return "", "", precondition(ReasonInvalidArgument, op, "invalid service UUID %q", service)
	}
	char := gattuuid.NormalizeUUID(characteristic)
	if char == "" {
		return "", "", precondition(ReasonInvalidArgument, op, "invalid characteristic UUID %q", characteristic)
	}
	return svc, char, nil
}
