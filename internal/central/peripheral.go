package central

import (
	"bytes"
	"slices"

	"github.com/srg/blecentral/internal/gattuuid"
	"github.com/srg/blecentral/internal/host"
)

// ConnectionState is the lifecycle position of a peripheral.
type ConnectionState int

const (
	Discovered ConnectionState = iota
	Connecting
	Connected
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Peripheral is a BLE device as last seen. Values are replaced wholesale on
// update; a Peripheral obtained from a snapshot never changes.
type Peripheral struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	RSSI          int             `json:"rssi"`
	Advertisement []byte          `json:"advertisement,omitempty"`
	Services      []string        `json:"services,omitempty"`
	Connectable   bool            `json:"connectable"`
	State         ConnectionState `json:"-"`
}

// DisplayName returns the advertised name, falling back to the ID.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.ID
	}
	return p.Name
}

// Equal reports whether two records carry the same data.
func (p Peripheral) Equal(q Peripheral) bool {
	return p.ID == q.ID &&
		p.Name == q.Name &&
		p.RSSI == q.RSSI &&
		p.Connectable == q.Connectable &&
		p.State == q.State &&
		bytes.Equal(p.Advertisement, q.Advertisement) &&
		slices.Equal(p.Services, q.Services)
}

func (p Peripheral) clone() Peripheral {
	p.Advertisement = bytes.Clone(p.Advertisement)
	p.Services = slices.Clone(p.Services)
	return p
}

func peripheralFromAdvertisement(adv host.Advertisement) Peripheral {
	return Peripheral{
		ID:            adv.ID,
		Name:          adv.Name,
		RSSI:          adv.RSSI,
		Advertisement: bytes.Clone(adv.Payload),
		Services:      gattuuid.NormalizeUUIDs(adv.Services),
		Connectable:   adv.Connectable,
		State:         Discovered,
	}
}
