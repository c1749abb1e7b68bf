package host

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Advertisement is one discovery event delivered by the host stack.
type Advertisement struct {
	ID          string
	Name        string
	RSSI        int
	Payload     []byte   // manufacturer-specific data, opaque
	Services    []string // advertised service UUIDs
	Connectable bool
}

// Device identifies a connected peripheral.
type Device struct {
	ID   string
	Name string
}

// Property is a GATT characteristic property bit set.
type Property uint8

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropSignedWrite
	PropExtended
)

// Has reports whether all bits of q are set.
func (p Property) Has(q Property) bool { return p&q == q }

// Characteristic describes one discovered characteristic.
type Characteristic struct {
	UUID       string
	Properties Property
}

// Service describes one discovered service and its characteristics.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// ScanHandler receives discovery events. Exactly one of adv or err is meaningful:
// a non-nil err means the scan failed and no further events follow.
type ScanHandler func(adv Advertisement, err error)

// Stack is the host BLE stack as seen by one adapter session.
//
// Implementations must make StopScan, Disconnect and Subscription.Remove
// idempotent. Connect must honor ctx cancellation and must not leave a tracked
// connection behind when it returns an error.
type Stack interface {
	// OnStateChange registers cb for adapter state changes. With emitCurrent
	// the current state is delivered immediately.
	OnStateChange(cb func(AdapterState), emitCurrent bool) Subscription

	// RequestCapabilities asks the OS for runtime permissions and reports
	// which were granted.
	RequestCapabilities(ctx context.Context, caps []Capability) (map[Capability]bool, error)

	// StartScan begins continuous discovery. filter limits results to
	// peripherals advertising any of the service UUIDs; nil means unfiltered.
	StartScan(filter []string, handler ScanHandler) error
	StopScan() error

	Connect(ctx context.Context, id string) (Device, error)
	Disconnect(id string) error

	// DiscoverAll enumerates every service and characteristic of a
	// connected peripheral.
	DiscoverAll(ctx context.Context, id string) ([]Service, error)
	ReadCharacteristic(ctx context.Context, id, service, characteristic string) ([]byte, error)
	WriteCharacteristic(ctx context.Context, id, service, characteristic string, payload []byte, withResponse bool) error

	// ListConnected returns peripherals the host considers connected and
	// exposing any of the filter services.
	ListConnected(ctx context.Context, filter []string) ([]Device, error)

	// Close releases the session. Connections may or may not survive,
	// depending on the platform's restore support.
	Close() error
}

// SessionOptions configure a new Stack.
type SessionOptions struct {
	// RestoreID lets the host associate a rebuilt session with a previous one.
	RestoreID string
	Logger    *logrus.Logger
}

// Factory creates a Stack for a new adapter session.
type Factory func(opts SessionOptions) (Stack, error)
