package central

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blecentral/internal/host"
	"github.com/stretchr/testify/assert"
)

func TestPreconditionError(t *testing.T) {
	err := precondition(ReasonNotConnected, "write", "%s is not connected", "AA")

	assert.Equal(t, "write: not_connected: AA is not connected", err.Error())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrStaleSession)
	assert.True(t, IsPrecondition(fmt.Errorf("wrapped: %w", err), ReasonNotConnected))
	assert.False(t, IsPrecondition(errors.New("other"), ReasonNotConnected))
}

func TestAdapterError(t *testing.T) {
	err := &AdapterError{Op: "connect", PeripheralID: "AA", Err: errors.Join(ErrConnectTimeout, host.ErrBluetoothOff)}

	assert.Contains(t, err.Error(), "connect AA failed")
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.ErrorIs(t, err, host.ErrBluetoothOff)
	assert.Equal(t, "scan failed: busy", (&AdapterError{Op: "scan", Err: errors.New("busy")}).Error())
}

func TestAlreadyConnectedError(t *testing.T) {
	assert.Equal(t, "already connected to X", (&AlreadyConnectedError{ID: "X"}).Error())
	assert.Equal(t, "already connecting to X", (&AlreadyConnectedError{ID: "X", Pending: true}).Error())
	assert.ErrorIs(t, &AlreadyConnectedError{ID: "X"}, ErrAlreadyConnected)
}

func TestUnsupportedPlatformError(t *testing.T) {
	err := &UnsupportedPlatformError{OS: "plan9"}
	assert.Equal(t, `unsupported platform "plan9"`, err.Error())
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.ErrorIs(t, err, host.ErrUnsupported)

	ble := &UnsupportedPlatformError{OS: "linux", State: host.StateUnsupported}
	assert.Equal(t, `bluetooth LE unsupported on "linux"`, ble.Error())
}
