//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates the ble.Device behind a session (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	dev, err := darwin.NewDevice(darwin.OptCentralRole())
	if err != nil {
		return nil, err
	}
	return dev, nil
}
