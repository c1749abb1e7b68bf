package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/gattuuid"
	"github.com/srg/blecentral/internal/host"
)

var (
	headerColor  = color.New(color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withName appends the well-known name of a UUID, if there is one.
func withName(uuid, name string) string {
	if name == "" {
		return uuid
	}
	return fmt.Sprintf("%s (%s)", uuid, name)
}

func serviceLabel(uuid string) string {
	return withName(uuid, gattuuid.LookupService(uuid))
}

func characteristicLabel(uuid string) string {
	return withName(uuid, gattuuid.LookupCharacteristic(uuid))
}

var propertyNames = []struct {
	prop host.Property
	name string
}{
	{host.PropBroadcast, "broadcast"},
	{host.PropRead, "read"},
	{host.PropWriteWithoutResponse, "write-without-response"},
	{host.PropWrite, "write"},
	{host.PropNotify, "notify"},
	{host.PropIndicate, "indicate"},
	{host.PropSignedWrite, "signed-write"},
	{host.PropExtended, "extended"},
}

func propertyList(p host.Property) []string {
	var out []string
	for _, pn := range propertyNames {
		if p.Has(pn.prop) {
			out = append(out, pn.name)
		}
	}
	return out
}

func displayPeripheralsTable(w io.Writer, peripherals []central.Peripheral) error {
	if len(peripherals) == 0 {
		_, err := warnColor.Fprintln(w, "No devices found")
		return err
	}

	if _, err := successColor.Fprintf(w, "Found %d device(s):\n\n", len(peripherals)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRSSI\tCONNECTABLE\tSERVICES")
	for _, p := range peripherals {
		services := make([]string, 0, len(p.Services))
		for _, s := range p.Services {
			services = append(services, serviceLabel(s))
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", p.ID, p.Name, p.RSSI, p.Connectable, strings.Join(services, ", "))
	}
	return tw.Flush()
}

type serviceJSON struct {
	UUID            string               `json:"uuid"`
	Name            string               `json:"name,omitempty"`
	Characteristics []characteristicJSON `json:"characteristics"`
}

type characteristicJSON struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

func servicesToJSON(services []host.Service) []serviceJSON {
	out := make([]serviceJSON, 0, len(services))
	for _, s := range services {
		sj := serviceJSON{
			UUID:            s.UUID,
			Name:            gattuuid.LookupService(s.UUID),
			Characteristics: []characteristicJSON{},
		}
		for _, c := range s.Characteristics {
			sj.Characteristics = append(sj.Characteristics, characteristicJSON{
				UUID:       c.UUID,
				Name:       gattuuid.LookupCharacteristic(c.UUID),
				Properties: propertyList(c.Properties),
			})
		}
		out = append(out, sj)
	}
	return out
}

func displayServicesTree(w io.Writer, id string, services []host.Service) error {
	if _, err := headerColor.Fprintf(w, "Device %s: %d service(s)\n", id, len(services)); err != nil {
		return err
	}
	for _, s := range services {
		fmt.Fprintf(w, "  Service %s\n", serviceLabel(s.UUID))
		for _, c := range s.Characteristics {
			line := "    - " + characteristicLabel(c.UUID)
			if props := propertyList(c.Properties); len(props) > 0 {
				line += " [" + strings.Join(props, ", ") + "]"
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

// formatValue renders a characteristic value as hex or, when printable, as text.
func formatValue(data []byte, asHex bool) string {
	if asHex {
		return strings.ToUpper(hex.EncodeToString(data))
	}
	for _, b := range data {
		if b < 0x20 || b > 0x7e {
			return strings.ToUpper(hex.EncodeToString(data))
		}
	}
	return string(data)
}
