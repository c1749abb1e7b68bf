// Package central implements a BLE central-role session core.
//
// It owns one adapter session at a time and layers on top of it:
//   - Gate: adapter power/support state and runtime permissions
//   - Registry: deduplicated, debounced set of discovered peripherals
//   - Scanner/ScanSession: cancellable discovery feeding the registry
//   - ConnectionManager: connected handles and GATT read/write/discover
//   - RecoveryCoordinator: drop-and-recreate of the adapter session with a
//     before/after report of host-side connections
//
// Central composes them over a single SessionHolder. Errors are returned, never
// retried internally; retry policy belongs to the caller.
package central
