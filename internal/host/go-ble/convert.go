package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/host"
)

func toAdvertisement(a ble.Advertisement) host.Advertisement {
	adv := host.Advertisement{
		Name:        a.LocalName(),
		RSSI:        a.RSSI(),
		Payload:     a.ManufacturerData(),
		Connectable: a.Connectable(),
	}
	if addr := a.Addr(); addr != nil {
		adv.ID = addr.String()
	}
	for _, u := range a.Services() {
		adv.Services = append(adv.Services, u.String())
	}
	return adv
}

// go-ble property bits use the same layout as host.Property.
func toProperty(p ble.Property) host.Property {
	return host.Property(p)
}

func toServices(profile *ble.Profile) []host.Service {
	if profile == nil {
		return nil
	}
	out := make([]host.Service, 0, len(profile.Services))
	for _, svc := range profile.Services {
		s := host.Service{UUID: svc.UUID.String()}
		for _, c := range svc.Characteristics {
			s.Characteristics = append(s.Characteristics, host.Characteristic{
				UUID:       c.UUID.String(),
				Properties: toProperty(c.Property),
			})
		}
		out = append(out, s)
	}
	return out
}

func toServiceUUIDs(profile *ble.Profile) []string {
	uuids := make([]string, 0, len(profile.Services))
	for _, svc := range profile.Services {
		uuids = append(uuids, svc.UUID.String())
	}
	return uuids
}
