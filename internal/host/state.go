package host

import "strconv"

// AdapterState is the power/support state reported by the host stack.
// Numbering follows CoreBluetooth's CBManagerState.
type AdapterState int

const (
	StateUnknown      AdapterState = 0 // not determined yet
	StateResetting    AdapterState = 1 // connection to the system service momentarily lost
	StateUnsupported  AdapterState = 2 // platform has no BLE central support
	StateUnauthorized AdapterState = 3 // app is not allowed to use BLE
	StatePoweredOff   AdapterState = 4
	StatePoweredOn    AdapterState = 5
)

// ParseAdapterState maps a CBManagerState numeric value to an AdapterState.
// Out-of-range values map to StateUnknown.
func ParseAdapterState(v int) AdapterState {
	if v < int(StateUnknown) || v > int(StatePoweredOn) {
		return StateUnknown
	}
	return AdapterState(v)
}

func (s AdapterState) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateResetting:
		return "Resetting"
	case StateUnsupported:
		return "Unsupported"
	case StateUnauthorized:
		return "Unauthorized"
	case StatePoweredOff:
		return "PoweredOff"
	case StatePoweredOn:
		return "PoweredOn"
	default:
		return "AdapterState(" + strconv.Itoa(int(s)) + ")"
	}
}

// Subscription is returned by Stack.OnStateChange. Remove detaches the
// listener; calling it more than once is a no-op.
type Subscription interface {
	Remove()
}
