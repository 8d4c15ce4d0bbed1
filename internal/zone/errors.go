// ABOUTME: Error kinds shared across the control core
// ABOUTME: Callers classify failures with errors.Is against these sentinels
package zone

import "errors"

var (
	// ErrDeviceUnreachable covers timeouts and connection failures while
	// talking to a device. Commands are never retried silently.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrCommandRejected means the device answered and refused the command.
	ErrCommandRejected = errors.New("command rejected")

	// ErrInvalidArgument means the request was malformed before any network
	// traffic happened.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound means a device or group ID does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrStaleGeneration means the caller conditioned a command on a
	// generation that is no longer current.
	ErrStaleGeneration = errors.New("stale generation")
)
