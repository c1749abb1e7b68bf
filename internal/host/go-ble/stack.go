// Package goble implements host.Stack on github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/gattuuid"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/host"
)

// peer is a connected client and its last discovered profile.
type peer struct {
	client ble.Client
	name   string

	mu      sync.Mutex
	profile *ble.Profile
}

func (p *peer) cachedProfile() *ble.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

// Stack is a host.Stack backed by a go-ble device.
type Stack struct {
	logger    *logrus.Logger
	restoreID string

	dev     ble.Device
	state   host.AdapterState
	initErr error

	listeners host.Listeners
	peers     *hashmap.Map[string, *peer]

	mu         sync.Mutex
	scanCancel context.CancelFunc
	closed     bool
}

// New creates a go-ble backed stack. It is a host.Factory.
//
// A device that cannot be created does not fail the session: the stack reports
// the adapter state implied by the error (PoweredOff, Unsupported, ...) and
// every operation returns the normalized error.
func New(opts host.SessionOptions) (host.Stack, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Stack{
		logger:    logger,
		restoreID: opts.RestoreID,
		peers:     hashmap.New[string, *peer](),
	}

	dev, err := DeviceFactory()
	s.state = host.StateFromError(err)
	if err != nil {
		s.initErr = host.NormalizeError(err)
		logger.WithFields(logrus.Fields{
			"error": err,
			"state": s.state.String(),
		}).Warn("Failed to create BLE device")
	} else {
		s.dev = dev
	}

	logger.WithFields(logrus.Fields{
		"backend":    "go-ble",
		"restore_id": opts.RestoreID,
		"state":      s.state.String(),
	}).Debug("Host stack created (go-ble has no state restoration, restore id is informational)")
	return s, nil
}

func (s *Stack) device() (ble.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, host.ErrClosed
	}
	if s.dev == nil {
		if s.initErr != nil {
			return nil, s.initErr
		}
		return nil, host.ErrBluetoothOff
	}
	return s.dev, nil
}

func (s *Stack) OnStateChange(cb func(host.AdapterState), emitCurrent bool) host.Subscription {
	sub := s.listeners.Add(cb)
	if emitCurrent {
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()
		cb(state)
	}
	return sub
}

// RequestCapabilities grants everything: desktop stacks have no runtime grants.
func (s *Stack) RequestCapabilities(_ context.Context, caps []host.Capability) (map[host.Capability]bool, error) {
	granted := make(map[host.Capability]bool, len(caps))
	for _, c := range caps {
		granted[c] = true
	}
	return granted, nil
}

func (s *Stack) StartScan(filter []string, handler host.ScanHandler) error {
	dev, err := s.device()
	if err != nil {
		return err
	}
	filter = gattuuid.NormalizeUUIDs(filter)

	s.mu.Lock()
	if s.scanCancel != nil {
		s.scanCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	s.mu.Unlock()

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, true, func(a ble.Advertisement) {
			adv := toAdvertisement(a)
			if !gattuuid.ContainsAny(adv.Services, filter) {
				return
			}
			handler(adv, nil)
		})
		if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			handler(host.Advertisement{}, host.NormalizeError(err))
		}
	})
	return nil
}

// StopScan cancels the scan without waiting for the library to return, so it
// is safe to call from the scan handler.
func (s *Stack) StopScan() error {
	s.mu.Lock()
	cancel := s.scanCancel
	s.scanCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *Stack) Connect(ctx context.Context, id string) (host.Device, error) {
	dev, err := s.device()
	if err != nil {
		return host.Device{}, err
	}
	if p, ok := s.peers.Get(id); ok {
		return host.Device{ID: id, Name: p.name}, nil
	}

	client, err := dev.Dial(ctx, ble.NewAddr(id))
	if err != nil {
		if ctx.Err() != nil {
			return host.Device{}, ctx.Err()
		}
		return host.Device{}, fmt.Errorf("failed to connect to device with address %q: %w", id, host.NormalizeError(err))
	}
	if ctx.Err() != nil {
		// Dial finished after the deadline
		_ = client.CancelConnection()
		return host.Device{}, ctx.Err()
	}

	p := &peer{client: client, name: client.Name()}
	s.peers.Set(id, p)
	s.watch(id, p)

	return host.Device{ID: id, Name: p.name}, nil
}

// watch drops the peer once the library reports the link gone.
func (s *Stack) watch(id string, p *peer) {
	disconnected := p.client.Disconnected()
	if disconnected == nil {
		return
	}
	groutine.Go(context.Background(), "goble-disconnect-monitor", func(context.Context) {
		<-disconnected
		if cur, ok := s.peers.Get(id); ok && cur == p {
			s.peers.Del(id)
			s.logger.WithField("id", id).Warn("Peripheral reported disconnection")
		}
	})
}

func (s *Stack) Disconnect(id string) error {
	p, ok := s.peers.Get(id)
	if !ok {
		return host.ErrNotConnected
	}
	s.peers.Del(id)
	if err := p.client.CancelConnection(); err != nil {
		return host.NormalizeError(err)
	}
	return nil
}

func (s *Stack) peer(id string) (*peer, error) {
	if _, err := s.device(); err != nil {
		return nil, err
	}
	p, ok := s.peers.Get(id)
	if !ok {
		return nil, host.ErrNotConnected
	}
	return p, nil
}

func (s *Stack) discover(ctx context.Context, p *peer) (*ble.Profile, error) {
	profile, err := host.Await(ctx, "goble-discover", func() (*ble.Profile, error) {
		return p.client.DiscoverProfile(true)
	})
	if err != nil {
		return nil, host.NormalizeError(err)
	}
	p.mu.Lock()
	p.profile = profile
	p.mu.Unlock()
	return profile, nil
}

func (s *Stack) DiscoverAll(ctx context.Context, id string) ([]host.Service, error) {
	p, err := s.peer(id)
	if err != nil {
		return nil, err
	}
	profile, err := s.discover(ctx, p)
	if err != nil {
		return nil, err
	}
	return toServices(profile), nil
}

// characteristic resolves a characteristic by normalized UUIDs, discovering
// the profile first if it was never discovered.
func (s *Stack) characteristic(ctx context.Context, p *peer, service, char string) (*ble.Characteristic, error) {
	profile := p.cachedProfile()
	if profile == nil {
		var err error
		if profile, err = s.discover(ctx, p); err != nil {
			return nil, err
		}
	}

	svcUUID := gattuuid.NormalizeUUID(service)
	charUUID := gattuuid.NormalizeUUID(char)
	for _, svc := range profile.Services {
		if gattuuid.NormalizeUUID(svc.UUID.String()) != svcUUID {
			continue
		}
		for _, c := range svc.Characteristics {
			if gattuuid.NormalizeUUID(c.UUID.String()) == charUUID {
				return c, nil
			}
		}
		return nil, &host.NotFoundError{Resource: "characteristic", UUIDs: []string{service, char}}
	}
	return nil, &host.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

func (s *Stack) ReadCharacteristic(ctx context.Context, id, service, characteristic string) ([]byte, error) {
	p, err := s.peer(id)
	if err != nil {
		return nil, err
	}
	c, err := s.characteristic(ctx, p, service, characteristic)
	if err != nil {
		return nil, err
	}
	data, err := host.Await(ctx, "goble-read", func() ([]byte, error) {
		return p.client.ReadCharacteristic(c)
	})
	return data, host.NormalizeError(err)
}

func (s *Stack) WriteCharacteristic(ctx context.Context, id, service, characteristic string, payload []byte, withResponse bool) error {
	p, err := s.peer(id)
	if err != nil {
		return err
	}
	c, err := s.characteristic(ctx, p, service, characteristic)
	if err != nil {
		return err
	}
	_, err = host.Await(ctx, "goble-write", func() (struct{}, error) {
		return struct{}{}, p.client.WriteCharacteristic(c, payload, !withResponse)
	})
	return host.NormalizeError(err)
}

// ListConnected lists the peers this session dialed. A peer whose profile was
// never discovered is listed regardless of filter.
func (s *Stack) ListConnected(_ context.Context, filter []string) ([]host.Device, error) {
	if _, err := s.device(); err != nil {
		return nil, err
	}
	filter = gattuuid.NormalizeUUIDs(filter)

	var out []host.Device
	s.peers.Range(func(id string, p *peer) bool {
		if profile := p.cachedProfile(); profile != nil && len(filter) > 0 {
			if !gattuuid.ContainsAny(toServiceUUIDs(profile), filter) {
				return true
			}
		}
		out = append(out, host.Device{ID: id, Name: p.name})
		return true
	})
	slices.SortFunc(out, func(a, b host.Device) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.scanCancel
	s.scanCancel = nil
	dev := s.dev
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var ids []string
	s.peers.Range(func(id string, _ *peer) bool {
		ids = append(ids, id)
		return true
	})
	var errs []error
	for _, id := range ids {
		p, ok := s.peers.Get(id)
		if !ok {
			continue
		}
		s.peers.Del(id)
		if err := p.client.CancelConnection(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	s.listeners.Clear()

	if dev != nil {
		if err := dev.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ host.Stack = (*Stack)(nil)
