package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/host"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "adapter not ready",
			err:      &central.PreconditionError{Reason: central.ReasonAdapterNotReady, Op: "connect", Msg: "adapter is PoweredOff"},
			expected: "Bluetooth adapter is not ready (adapter is PoweredOff); is Bluetooth turned on?",
		},
		{
			name:     "not connected",
			err:      &central.PreconditionError{Reason: central.ReasonNotConnected, Op: "send", Msg: "no connected device"},
			expected: "not connected: no connected device",
		},
		{
			name:     "stale session",
			err:      &central.PreconditionError{Reason: central.ReasonStaleSession, Op: "read", Msg: "x was connected on replaced session y"},
			expected: "connection belongs to a previous adapter session: x was connected on replaced session y",
		},
		{
			name:     "no session keeps raw message",
			err:      &central.PreconditionError{Reason: central.ReasonNoSession, Op: "connect", Msg: "no adapter session"},
			expected: "connect: no_session: no adapter session",
		},
		{
			name:     "connect timeout",
			err:      &central.AdapterError{Op: "connect", PeripheralID: "p1", Err: errors.Join(central.ErrConnectTimeout, context.DeadlineExceeded)},
			expected: "timed out connecting to p1",
		},
		{
			name:     "already connecting",
			err:      &central.AlreadyConnectedError{ID: "p1", Pending: true},
			expected: "already connecting to p1",
		},
		{
			name:     "unsupported adapter",
			err:      &central.UnsupportedPlatformError{OS: "linux", State: host.StateUnsupported},
			expected: `Bluetooth LE is not available: bluetooth LE unsupported on "linux"`,
		},
		{
			name:     "bluetooth off from host",
			err:      fmt.Errorf("scan: %w", host.ErrBluetoothOff),
			expected: "Bluetooth is turned off",
		},
		{
			name:     "plain deadline",
			err:      fmt.Errorf("discover: %w", context.DeadlineExceeded),
			expected: "operation timed out",
		},
		{
			name:     "other errors pass through",
			err:      errors.New("boom"),
			expected: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}
