package host

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Host stack errors. Backends wrap their library errors with these so the core
// can classify failures without matching strings.
var (
	ErrUnsupported  = errors.New("bluetooth LE is not supported on this platform")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrNotConnected = errors.New("device not connected")
	ErrClosed       = errors.New("adapter session closed")
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// darwin reports "central manager has invalid state: have=4 want=5: is Bluetooth turned on?"
var invalidStateRe = regexp.MustCompile(`invalid state: have=(\d+)`)

// StateFromError derives the adapter state implied by a backend initialization
// error. A nil error means the adapter is usable.
func StateFromError(err error) AdapterState {
	if err == nil {
		return StatePoweredOn
	}
	if errors.Is(err, ErrUnsupported) {
		return StateUnsupported
	}
	if errors.Is(err, ErrBluetoothOff) {
		return StatePoweredOff
	}

	msg := err.Error()
	if m := invalidStateRe.FindStringSubmatch(msg); m != nil {
		if v, convErr := strconv.Atoi(m[1]); convErr == nil {
			return ParseAdapterState(v)
		}
	}
	switch {
	case containsIgnoreCase(msg, "turned off"), containsIgnoreCase(msg, "powered off"):
		return StatePoweredOff
	case containsIgnoreCase(msg, "not supported"), containsIgnoreCase(msg, "no such device"):
		return StateUnsupported
	case containsIgnoreCase(msg, "not authorized"), containsIgnoreCase(msg, "unauthorized"),
		containsIgnoreCase(msg, "permission denied"), containsIgnoreCase(msg, "operation not permitted"):
		return StateUnauthorized
	default:
		return StatePoweredOff
	}
}

// NormalizeError maps known backend error strings to the sentinel errors above.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrBluetoothOff) || errors.Is(err, ErrUnsupported) {
		return err
	}

	msg := err.Error()
	switch {
	case invalidStateRe.MatchString(msg), containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
