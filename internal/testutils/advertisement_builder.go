package testutils

import (
	"github.com/srg/blecentral/internal/host"
)

// AdvertisementBuilder builds host advertisements for tests through a fluent API.
type AdvertisementBuilder struct {
	adv host.Advertisement
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: host.Advertisement{Connectable: true}}
}

// CreateAdvertisement is shorthand for a named advertisement with an RSSI.
func CreateAdvertisement(id, name string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithID(id).WithName(name).WithRSSI(rssi)
}

// WithID sets the platform peripheral ID.
func (b *AdvertisementBuilder) WithID(id string) *AdvertisementBuilder {
	b.adv.ID = id
	return b
}

// WithName sets the advertised local name.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithRSSI sets the received signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSI = rssi
	return b
}

// WithServices sets the advertised service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.Services = append([]string(nil), uuids...)
	return b
}

// WithPayload sets the opaque advertisement payload.
func (b *AdvertisementBuilder) WithPayload(data []byte) *AdvertisementBuilder {
	b.adv.Payload = append([]byte(nil), data...)
	return b
}

// WithConnectable sets the connectable flag.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.Connectable = c
	return b
}

// Build returns a copy of the configured advertisement.
func (b *AdvertisementBuilder) Build() host.Advertisement {
	adv := b.adv
	adv.Services = append([]string(nil), b.adv.Services...)
	adv.Payload = append([]byte(nil), b.adv.Payload...)
	return adv
}
