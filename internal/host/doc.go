// Package host defines the capability boundary between the central session core
// and the platform BLE stack.
//
// A Stack is one logical connection to the host stack (an adapter session).
// Implementations live in subpackages (go-ble, tinygo); tests use the fake in
// internal/testutils. All peripheral and UUID identifiers cross this boundary
// as strings; UUIDs are accepted in any form gattuuid.NormalizeUUID understands.
package host
