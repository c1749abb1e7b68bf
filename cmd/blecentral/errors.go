package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/host"
)

// FormatUserError turns a command error into a one-line message for the terminal.
func FormatUserError(err error) string {
	var (
		precondition *central.PreconditionError
		adapterErr   *central.AdapterError
		notFound     *host.NotFoundError
	)

	switch {
	case errors.Is(err, central.ErrUnsupportedPlatform):
		return fmt.Sprintf("Bluetooth LE is not available: %v", err)
	case errors.Is(err, central.ErrConnectTimeout) && errors.As(err, &adapterErr):
		return fmt.Sprintf("timed out connecting to %s", adapterErr.PeripheralID)
	case errors.Is(err, central.ErrAlreadyConnected):
		return err.Error()
	case errors.As(err, &precondition):
		switch precondition.Reason {
		case central.ReasonAdapterNotReady:
			return fmt.Sprintf("Bluetooth adapter is not ready (%s); is Bluetooth turned on?", precondition.Msg)
		case central.ReasonNotConnected:
			return fmt.Sprintf("not connected: %s", precondition.Msg)
		case central.ReasonStaleSession:
			return fmt.Sprintf("connection belongs to a previous adapter session: %s", precondition.Msg)
		case central.ReasonInvalidArgument:
			return fmt.Sprintf("invalid argument: %s", precondition.Msg)
		}
		return precondition.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.Is(err, host.ErrBluetoothOff):
		return "Bluetooth is turned off"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	}
	return err.Error()
}
