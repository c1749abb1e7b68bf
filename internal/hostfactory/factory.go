package hostfactory

import (
	"fmt"
	"slices"
	"strings"

	"github.com/srg/blecentral/internal/host"
	goble "github.com/srg/blecentral/internal/host/go-ble"
	"github.com/srg/blecentral/internal/host/tinygo"
)

const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"

	DefaultBackend = BackendGoBLE
)

// Backends maps a backend name to its stack constructor.
// This is a variable so that it can be overridden in tests.
var Backends = map[string]host.Factory{ //nolint:revive
	BackendGoBLE:  goble.New,
	BackendTinyGo: tinygo.New,
}

// New returns the stack factory for the named backend. An empty name selects
// DefaultBackend.
func New(name string) (host.Factory, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultBackend
	}
	factory, ok := Backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return factory, nil
}

// Names lists the registered backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(Backends))
	for name := range Backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
