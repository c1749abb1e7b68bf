package testutils

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/srg/blecentral/internal/gattuuid"
	"github.com/srg/blecentral/internal/host"
	"github.com/stretchr/testify/mock"
)

// ConnectResult scripts the outcome of FakeStack.Connect for one peripheral.
type ConnectResult struct {
	Name  string
	Err   error
	Delay time.Duration   // how long the connect takes; ctx cancellation wins
	Hold  <-chan struct{} // when set, connect blocks until closed or ctx is done
}

// WriteRecord is one characteristic write seen by FakeStack.
type WriteRecord struct {
	ID             string
	Service        string
	Characteristic string
	Payload        []byte
	WithResponse   bool
}

// PermissionMock answers RequestCapabilities through testify expectations:
//
//	perms.On("Request", mock.Anything, []host.Capability{host.CapabilityFineLocation}).
//	    Return(map[host.Capability]bool{host.CapabilityFineLocation: true}, nil)
type PermissionMock struct {
	mock.Mock
}

func (m *PermissionMock) Request(ctx context.Context, caps []host.Capability) (map[host.Capability]bool, error) {
	args := m.Called(ctx, caps)
	granted, _ := args.Get(0).(map[host.Capability]bool)
	return granted, args.Error(1)
}

// FakeStack is a scripted in-memory host.Stack. Every operation is counted so
// tests can assert that the stack was, or was not, contacted.
type FakeStack struct {
	Options host.SessionOptions

	// Permissions, when set, answers RequestCapabilities; otherwise all are granted.
	Permissions *PermissionMock

	mu          sync.Mutex
	state       host.AdapterState
	subs        map[int]func(host.AdapterState)
	nextSub     int
	subscribed  int
	removed     int
	scanning    bool
	scanHandler host.ScanHandler
	scanFilter  []string
	scanErr     error
	connects    map[string]ConnectResult
	connected   []string
	services    map[string][]host.Service
	values      map[string][]byte
	writes      []WriteRecord
	writeErr    error
	listed      []host.Device
	listSet     bool
	listErr     error
	calls       map[string]int
	closed      bool
}

// NewFakeStack creates a stack reporting state.
func NewFakeStack(state host.AdapterState) *FakeStack {
	return &FakeStack{
		state:    state,
		subs:     make(map[int]func(host.AdapterState)),
		connects: make(map[string]ConnectResult),
		services: make(map[string][]host.Service),
		values:   make(map[string][]byte),
		calls:    make(map[string]int),
	}
}

func (f *FakeStack) count(op string) {
	f.calls[op]++
}

// Calls returns how many times op (the Stack method name) was invoked.
func (f *FakeStack) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of invocations of every method except
// OnStateChange.
func (f *FakeStack) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for op, c := range f.calls {
		if op != "OnStateChange" {
			n += c
		}
	}
	return n
}

// SetState changes the adapter state and notifies every subscriber.
func (f *FakeStack) SetState(state host.AdapterState) {
	f.mu.Lock()
	f.state = state
	cbs := make([]func(host.AdapterState), 0, len(f.subs))
	for _, k := range slices.Sorted(maps.Keys(f.subs)) {
		cbs = append(cbs, f.subs[k])
	}
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(state)
	}
}

func (f *FakeStack) OnStateChange(cb func(host.AdapterState), emitCurrent bool) host.Subscription {
	f.mu.Lock()
	f.count("OnStateChange")
	id := f.nextSub
	f.nextSub++
	f.subs[id] = cb
	f.subscribed++
	state := f.state
	f.mu.Unlock()

	if emitCurrent {
		cb(state)
	}
	return &fakeSubscription{stack: f, id: id}
}

// Subscribed returns how many state subscriptions were made.
func (f *FakeStack) Subscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed
}

// Removed returns how many state subscriptions were removed.
func (f *FakeStack) Removed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed
}

// ActiveSubscriptions returns the number of attached state listeners.
func (f *FakeStack) ActiveSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeSubscription struct {
	stack *FakeStack
	id    int
	once  sync.Once
}

func (s *fakeSubscription) Remove() {
	s.once.Do(func() {
		s.stack.mu.Lock()
		defer s.stack.mu.Unlock()
		delete(s.stack.subs, s.id)
		s.stack.removed++
	})
}

func (f *FakeStack) RequestCapabilities(ctx context.Context, caps []host.Capability) (map[host.Capability]bool, error) {
	f.mu.Lock()
	f.count("RequestCapabilities")
	perms := f.Permissions
	f.mu.Unlock()

	if perms != nil {
		return perms.Request(ctx, caps)
	}
	granted := make(map[host.Capability]bool, len(caps))
	for _, c := range caps {
		granted[c] = true
	}
	return granted, nil
}

// FailScan makes the next StartScan calls fail with err.
func (f *FakeStack) FailScan(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanErr = err
}

func (f *FakeStack) StartScan(filter []string, handler host.ScanHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("StartScan")
	if f.scanErr != nil {
		return f.scanErr
	}
	f.scanning = true
	f.scanHandler = handler
	f.scanFilter = slices.Clone(filter)
	return nil
}

func (f *FakeStack) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("StopScan")
	f.scanning = false
	f.scanHandler = nil
	return nil
}

// Scanning reports whether a host scan is running.
func (f *FakeStack) Scanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

// ScanFilter returns the filter passed to the last StartScan.
func (f *FakeStack) ScanFilter() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.scanFilter)
}

// Emit delivers advertisements to the running scan. It reports false when no
// scan is running.
func (f *FakeStack) Emit(advs ...host.Advertisement) bool {
	f.mu.Lock()
	h := f.scanHandler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	for _, adv := range advs {
		h(adv, nil)
	}
	return true
}

// EmitError reports a scan error to the running scan.
func (f *FakeStack) EmitError(err error) bool {
	f.mu.Lock()
	h := f.scanHandler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(host.Advertisement{}, err)
	return true
}

// SetConnectResult scripts the outcome of connecting to id. Unscripted IDs
// connect immediately.
func (f *FakeStack) SetConnectResult(id string, r ConnectResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects[id] = r
}

func (f *FakeStack) Connect(ctx context.Context, id string) (host.Device, error) {
	f.mu.Lock()
	f.count("Connect")
	r := f.connects[id]
	f.mu.Unlock()

	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return host.Device{}, ctx.Err()
		case <-timer.C:
		}
	}
	if r.Hold != nil {
		select {
		case <-ctx.Done():
			return host.Device{}, ctx.Err()
		case <-r.Hold:
		}
	}
	if r.Err != nil {
		return host.Device{}, r.Err
	}

	f.mu.Lock()
	if !slices.Contains(f.connected, id) {
		f.connected = append(f.connected, id)
	}
	f.mu.Unlock()
	return host.Device{ID: id, Name: r.Name}, nil
}

func (f *FakeStack) Disconnect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Disconnect")
	i := slices.Index(f.connected, id)
	if i < 0 {
		return host.ErrNotConnected
	}
	f.connected = slices.Delete(f.connected, i, i+1)
	return nil
}

// DropConnection simulates the peripheral going away on the host side.
func (f *FakeStack) DropConnection(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := slices.Index(f.connected, id); i >= 0 {
		f.connected = slices.Delete(f.connected, i, i+1)
	}
}

// ConnectedIDs returns the peripherals connected on the host side.
func (f *FakeStack) ConnectedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.connected)
}

// SetServices scripts the service tree of id.
func (f *FakeStack) SetServices(id string, services ...host.Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[id] = services
}

func (f *FakeStack) DiscoverAll(ctx context.Context, id string) ([]host.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DiscoverAll")
	if !slices.Contains(f.connected, id) {
		return nil, host.ErrNotConnected
	}
	return slices.Clone(f.services[id]), nil
}

// SetValue scripts a characteristic value.
func (f *FakeStack) SetValue(id, service, characteristic string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[valueKey(id, service, characteristic)] = value
}

func (f *FakeStack) ReadCharacteristic(ctx context.Context, id, service, characteristic string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ReadCharacteristic")
	if !slices.Contains(f.connected, id) {
		return nil, host.ErrNotConnected
	}
	v, ok := f.values[valueKey(id, service, characteristic)]
	if !ok {
		return nil, &host.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return slices.Clone(v), nil
}

// FailWrites makes subsequent writes fail with err.
func (f *FakeStack) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *FakeStack) WriteCharacteristic(ctx context.Context, id, service, characteristic string, payload []byte, withResponse bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("WriteCharacteristic")
	if !slices.Contains(f.connected, id) {
		return host.ErrNotConnected
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, WriteRecord{
		ID:             id,
		Service:        service,
		Characteristic: characteristic,
		Payload:        slices.Clone(payload),
		WithResponse:   withResponse,
	})
	f.values[valueKey(id, service, characteristic)] = slices.Clone(payload)
	return nil
}

// Writes returns every successful write.
func (f *FakeStack) Writes() []WriteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.writes)
}

// SetListConnected scripts the result of ListConnected. Without it the host
// side connections made through Connect are listed.
func (f *FakeStack) SetListConnected(err error, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listSet = true
	f.listErr = err
	f.listed = f.listed[:0]
	for _, id := range ids {
		f.listed = append(f.listed, host.Device{ID: id})
	}
}

func (f *FakeStack) ListConnected(ctx context.Context, filter []string) ([]host.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListConnected")
	if f.listSet {
		if f.listErr != nil {
			return nil, f.listErr
		}
		return slices.Clone(f.listed), nil
	}
	out := make([]host.Device, 0, len(f.connected))
	for _, id := range f.connected {
		out = append(out, host.Device{ID: id})
	}
	return out, nil
}

func (f *FakeStack) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Close")
	f.closed = true
	f.scanning = false
	f.scanHandler = nil
	return nil
}

// Closed reports whether Close was called.
func (f *FakeStack) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func valueKey(id, service, characteristic string) string {
	return id + "|" + gattuuid.NormalizeUUID(service) + "|" + gattuuid.NormalizeUUID(characteristic)
}

var _ host.Stack = (*FakeStack)(nil)
