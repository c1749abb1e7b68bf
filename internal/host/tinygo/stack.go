// Package tinygo implements host.Stack on tinygo.org/x/bluetooth.
//
// tinygo exposes a single process-wide adapter with no state notifications, so
// the adapter state is decided once by Enable and stays fixed for the session.
package tinygo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/gattuuid"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/host"
)

// readBufferSize bounds a single characteristic read (max ATT attribute length).
const readBufferSize = 512

type connection struct {
	link link
	name string

	mu       sync.Mutex
	services []gattService
}

func (c *connection) cached() []gattService {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.services
}

// Stack is a host.Stack backed by the tinygo bluetooth adapter.
type Stack struct {
	logger *logrus.Logger
	radio  radio

	listeners host.Listeners
	conns     *hashmap.Map[string, *connection]
	names     *hashmap.Map[string, string]

	mu       sync.Mutex
	state    host.AdapterState
	initErr  error
	scanning bool
	stopping bool
	closed   bool
}

// New enables the adapter and returns a stack. It is a host.Factory.
func New(opts host.SessionOptions) (host.Stack, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Stack{
		logger: logger,
		radio:  newRadio(),
		conns:  hashmap.New[string, *connection](),
		names:  hashmap.New[string, string](),
	}

	err := s.radio.Enable()
	s.state = host.StateFromError(err)
	if err != nil {
		s.initErr = host.NormalizeError(err)
		logger.WithFields(logrus.Fields{
			"error": err,
			"state": s.state.String(),
		}).Warn("Failed to enable BLE adapter")
	}
	s.radio.OnConnectionChange(s.connectionChanged)

	logger.WithFields(logrus.Fields{
		"backend":    "tinygo",
		"restore_id": opts.RestoreID,
		"state":      s.state.String(),
	}).Debug("Host stack created (tinygo has no state restoration, restore id is informational)")
	return s, nil
}

func (s *Stack) connectionChanged(id string, connected bool) {
	if connected {
		return
	}
	if _, ok := s.conns.Get(id); ok {
		s.conns.Del(id)
		s.logger.WithField("id", id).Warn("Peripheral reported disconnection")
	}
}

func (s *Stack) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return host.ErrClosed
	}
	return s.initErr
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
	if err := s.usable(); err != nil {
		return err
	}
	filter = gattuuid.NormalizeUUIDs(filter)

	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return errors.New("scan already in progress")
	}
	s.scanning = true
	s.stopping = false
	s.mu.Unlock()

	groutine.Go(context.Background(), "tinygo-scan", func(context.Context) {
		err := s.radio.Scan(func(sg sighting) {
			if sg.name != "" {
				s.names.Set(sg.id, sg.name)
			}
			if !gattuuid.ContainsAny(sg.services, filter) {
				return
			}
			handler(host.Advertisement{
				ID:          sg.id,
				Name:        sg.name,
				RSSI:        sg.rssi,
				Payload:     sg.payload,
				Services:    gattuuid.NormalizeUUIDs(sg.services),
				Connectable: true,
			}, nil)
		})

		s.mu.Lock()
		stopped := s.stopping
		s.scanning = false
		s.stopping = false
		s.mu.Unlock()

		if err != nil && !stopped {
			handler(host.Advertisement{}, host.NormalizeError(err))
		}
	})
	return nil
}

// StopScan must not be called from the scan handler: tinygo delivers results
// on the goroutine StopScan signals.
func (s *Stack) StopScan() error {
	s.mu.Lock()
	if !s.scanning || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	if err := s.radio.StopScan(); err != nil {
		return host.NormalizeError(err)
	}
	return nil
}

func (s *Stack) Connect(ctx context.Context, id string) (host.Device, error) {
	if err := s.usable(); err != nil {
		return host.Device{}, err
	}
	if c, ok := s.conns.Get(id); ok {
		return host.Device{ID: id, Name: c.name}, nil
	}

	type result struct {
		l   link
		err error
	}
	ch := make(chan result, 1)
	groutine.Go(context.Background(), "tinygo-connect", func(context.Context) {
		l, err := s.radio.Connect(id)
		ch <- result{l: l, err: err}
	})

	select {
	case r := <-ch:
		if r.err != nil {
			return host.Device{}, fmt.Errorf("failed to connect to device with address %q: %w", id, host.NormalizeError(r.err))
		}
		name, _ := s.names.Get(id)
		s.conns.Set(id, &connection{link: r.l, name: name})
		return host.Device{ID: id, Name: name}, nil
	case <-ctx.Done():
		// the library call cannot be cancelled, so tear down a late link
		groutine.Go(context.Background(), "tinygo-connect-abandon", func(context.Context) {
			if r := <-ch; r.err == nil {
				if err := r.l.Disconnect(); err != nil {
					s.logger.WithError(err).WithField("id", id).Warn("Failed to drop abandoned connection")
				}
			}
		})
		return host.Device{}, ctx.Err()
	}
}

func (s *Stack) Disconnect(id string) error {
	c, ok := s.conns.Get(id)
	if !ok {
		return host.ErrNotConnected
	}
	s.conns.Del(id)
	return host.NormalizeError(c.link.Disconnect())
}

func (s *Stack) connection(id string) (*connection, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	c, ok := s.conns.Get(id)
	if !ok {
		return nil, host.ErrNotConnected
	}
	return c, nil
}

func (s *Stack) discover(ctx context.Context, c *connection) ([]gattService, error) {
	services, err := host.Await(ctx, "tinygo-discover", c.link.Discover)
	if err != nil {
		return nil, host.NormalizeError(err)
	}
	c.mu.Lock()
	c.services = services
	c.mu.Unlock()
	return services, nil
}

func (s *Stack) DiscoverAll(ctx context.Context, id string) ([]host.Service, error) {
	c, err := s.connection(id)
	if err != nil {
		return nil, err
	}
	services, err := s.discover(ctx, c)
	if err != nil {
		return nil, err
	}

	out := make([]host.Service, 0, len(services))
	for _, svc := range services {
		hs := host.Service{UUID: gattuuid.NormalizeUUID(svc.uuid)}
		for _, ch := range svc.chars {
			// tinygo does not expose characteristic properties portably
			hs.Characteristics = append(hs.Characteristics, host.Characteristic{UUID: gattuuid.NormalizeUUID(ch.UUID())})
		}
		out = append(out, hs)
	}
	return out, nil
}

func (s *Stack) characteristic(ctx context.Context, c *connection, service, char string) (gattChar, error) {
	services := c.cached()
	if services == nil {
		var err error
		if services, err = s.discover(ctx, c); err != nil {
			return nil, err
		}
	}

	svcUUID := gattuuid.NormalizeUUID(service)
	charUUID := gattuuid.NormalizeUUID(char)
	for _, svc := range services {
		if gattuuid.NormalizeUUID(svc.uuid) != svcUUID {
			continue
		}
		for _, ch := range svc.chars {
			if gattuuid.NormalizeUUID(ch.UUID()) == charUUID {
				return ch, nil
			}
		}
		return nil, &host.NotFoundError{Resource: "characteristic", UUIDs: []string{service, char}}
	}
	return nil, &host.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

func (s *Stack) ReadCharacteristic(ctx context.Context, id, service, characteristic string) ([]byte, error) {
	c, err := s.connection(id)
	if err != nil {
		return nil, err
	}
	ch, err := s.characteristic(ctx, c, service, characteristic)
	if err != nil {
		return nil, err
	}
	return host.Await(ctx, "tinygo-read", func() ([]byte, error) {
		buf := make([]byte, readBufferSize)
		n, err := ch.Read(buf)
		if err != nil {
			return nil, host.NormalizeError(err)
		}
		return buf[:n], nil
	})
}

func (s *Stack) WriteCharacteristic(ctx context.Context, id, service, characteristic string, payload []byte, withResponse bool) error {
	c, err := s.connection(id)
	if err != nil {
		return err
	}
	ch, err := s.characteristic(ctx, c, service, characteristic)
	if err != nil {
		return err
	}
	_, err = host.Await(ctx, "tinygo-write", func() (struct{}, error) {
		return struct{}{}, ch.Write(payload, withResponse)
	})
	return host.NormalizeError(err)
}

// ListConnected lists the links this session opened. A link whose services
// were never discovered is listed regardless of filter.
func (s *Stack) ListConnected(_ context.Context, filter []string) ([]host.Device, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	filter = gattuuid.NormalizeUUIDs(filter)

	var out []host.Device
	s.conns.Range(func(id string, c *connection) bool {
		if services := c.cached(); services != nil && len(filter) > 0 {
			uuids := make([]string, 0, len(services))
			for _, svc := range services {
				uuids = append(uuids, svc.uuid)
			}
			if !gattuuid.ContainsAny(uuids, filter) {
				return true
			}
		}
		out = append(out, host.Device{ID: id, Name: c.name})
		return true
	})
	slices.SortFunc(out, func(a, b host.Device) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var errs []error
	if err := s.StopScan(); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var ids []string
	s.conns.Range(func(id string, _ *connection) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if err := s.Disconnect(id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	s.listeners.Clear()
	return errors.Join(errs...)
}

var _ host.Stack = (*Stack)(nil)
