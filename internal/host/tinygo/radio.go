package tinygo

import (
	"encoding/binary"
	"fmt"

	"github.com/cornelk/hashmap"
	"tinygo.org/x/bluetooth"
)

// sighting is one scan result in library-neutral form.
type sighting struct {
	id       string
	name     string
	rssi     int
	payload  []byte
	services []string
}

// gattChar is a discovered characteristic.
type gattChar interface {
	UUID() string
	Read(buf []byte) (int, error)
	Write(p []byte, withResponse bool) error
}

type gattService struct {
	uuid  string
	chars []gattChar
}

// link is an established connection.
type link interface {
	Disconnect() error
	Discover() ([]gattService, error)
}

// radio is the part of the tinygo adapter the stack drives.
type radio interface {
	Enable() error
	Scan(fn func(sighting)) error
	StopScan() error
	Connect(id string) (link, error)
	OnConnectionChange(fn func(id string, connected bool))
}

// newRadio returns the process-wide adapter. Tests override it.
var newRadio = func() radio {
	return &btRadio{
		adapter: bluetooth.DefaultAdapter,
		seen:    hashmap.New[string, bluetooth.Address](),
	}
}

type btRadio struct {
	adapter *bluetooth.Adapter
	// tinygo dials by Address, which only a scan result carries
	seen *hashmap.Map[string, bluetooth.Address]
}

func (r *btRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *btRadio) Scan(fn func(sighting)) error {
	return r.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
		id := res.Address.String()
		r.seen.Set(id, res.Address)

		s := sighting{
			id:   id,
			name: res.LocalName(),
			rssi: int(res.RSSI),
		}
		for _, u := range res.AdvertisementPayload.ServiceUUIDs() {
			s.services = append(s.services, u.String())
		}
		// company id little-endian followed by data, as in the raw AD structure
		if mfg := res.ManufacturerData(); len(mfg) > 0 {
			s.payload = binary.LittleEndian.AppendUint16(nil, mfg[0].CompanyID)
			s.payload = append(s.payload, mfg[0].Data...)
		}
		fn(s)
	})
}

func (r *btRadio) StopScan() error {
	return r.adapter.StopScan()
}

func (r *btRadio) Connect(id string) (link, error) {
	addr, ok := r.seen.Get(id)
	if !ok {
		return nil, fmt.Errorf("address %q was not seen by a scan", id)
	}
	dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &btLink{dev: dev}, nil
}

func (r *btRadio) OnConnectionChange(fn func(id string, connected bool)) {
	r.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		fn(d.Address.String(), connected)
	})
}

type btLink struct {
	dev bluetooth.Device
}

func (l *btLink) Disconnect() error {
	return l.dev.Disconnect()
}

func (l *btLink) Discover() ([]gattService, error) {
	services, err := l.dev.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}
	out := make([]gattService, 0, len(services))
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.UUID().String(), err)
		}
		gs := gattService{uuid: svc.UUID().String()}
		for _, c := range chars {
			gs.chars = append(gs.chars, &btChar{c: c})
		}
		out = append(out, gs)
	}
	return out, nil
}

type btChar struct {
	c bluetooth.DeviceCharacteristic
}

func (c *btChar) UUID() string { return c.c.UUID().String() }

func (c *btChar) Read(buf []byte) (int, error) { return c.c.Read(buf) }

func (c *btChar) Write(p []byte, withResponse bool) error {
	var err error
	if withResponse {
		_, err = c.c.Write(p)
	} else {
		_, err = c.c.WriteWithoutResponse(p)
	}
	return err
}
