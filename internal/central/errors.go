package central

import (
	"errors"
	"fmt"

	"github.com/srg/blecentral/internal/host"
)

// PreconditionReason is the specific kind of precondition failure
type PreconditionReason string

const (
	ReasonNotConnected    PreconditionReason = "not_connected"
	ReasonAdapterNotReady PreconditionReason = "adapter_not_ready"
	ReasonStaleSession    PreconditionReason = "stale_session"
	ReasonNoSession       PreconditionReason = "no_session"
	ReasonInvalidArgument PreconditionReason = "invalid_argument"
)

// PreconditionError reports an operation that is invalid in the current state,
// e.g. a write to a peripheral that is not connected. The host stack is never
// contacted when one is returned.
type PreconditionError struct {
	Reason PreconditionReason
	Op     string
	Msg    string
}

func (e *PreconditionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := string(e.Reason)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// Is allows errors.Is to compare PreconditionError values by Reason
func (e *PreconditionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*PreconditionError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Predefined sentinel errors for precondition failures
var (
	ErrNotConnected    = &PreconditionError{Reason: ReasonNotConnected}
	ErrAdapterNotReady = &PreconditionError{Reason: ReasonAdapterNotReady}
	ErrStaleSession    = &PreconditionError{Reason: ReasonStaleSession}
	ErrNoSession       = &PreconditionError{Reason: ReasonNoSession}
	ErrInvalidArgument = &PreconditionError{Reason: ReasonInvalidArgument}
)

func precondition(reason PreconditionReason, op, format string, args ...any) *PreconditionError {
	return &PreconditionError{Reason: reason, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ErrConnectTimeout is wrapped by the AdapterError of a connect that ran out of time.
var ErrConnectTimeout = errors.New("connect timed out")

// AdapterError wraps a failure reported by the host stack.
type AdapterError struct {
	Op           string
	PeripheralID string
	Err          error
}

func (e *AdapterError) Error() string {
	if e.PeripheralID == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.PeripheralID, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// AlreadyConnectedError rejects a connect to a peripheral that is connected or
// has a connect in flight.
type AlreadyConnectedError struct {
	ID      string
	Pending bool
}

func (e *AlreadyConnectedError) Error() string {
	if e.Pending {
		return fmt.Sprintf("already connecting to %s", e.ID)
	}
	return fmt.Sprintf("already connected to %s", e.ID)
}

// Is matches any AlreadyConnectedError.
func (e *AlreadyConnectedError) Is(target error) bool {
	_, ok := target.(*AlreadyConnectedError)
	return ok
}

// ErrAlreadyConnected is a sentinel for errors.Is checks.
var ErrAlreadyConnected = &AlreadyConnectedError{}

// UnsupportedPlatformError reports that BLE central operations are unavailable
// on this platform, either because the OS is unknown or the adapter said so.
type UnsupportedPlatformError struct {
	OS    string
	State host.AdapterState
}

func (e *UnsupportedPlatformError) Error() string {
	if e.State == host.StateUnsupported {
		return fmt.Sprintf("bluetooth LE unsupported on %q", e.OS)
	}
	return fmt.Sprintf("unsupported platform %q", e.OS)
}

// Is matches any UnsupportedPlatformError and host.ErrUnsupported.
func (e *UnsupportedPlatformError) Is(target error) bool {
	if target == host.ErrUnsupported {
		return true
	}
	_, ok := target.(*UnsupportedPlatformError)
	return ok
}

// ErrUnsupportedPlatform is a sentinel for errors.Is checks.
var ErrUnsupportedPlatform = &UnsupportedPlatformError{}

// IsPrecondition reports whether err is a PreconditionError with the given reason
func IsPrecondition(err error, reason PreconditionReason) bool {
	var perr *PreconditionError
	if errors.As(err, &perr) {
		return perr.Reason == reason
	}
	return false
}
