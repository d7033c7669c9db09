package session

import (
	"errors"
	"fmt"
)

// ErrValidation is returned when a hostname is neither a resolvable DNS name
// nor an IP literal. It is raised before any I/O.
var ErrValidation = errors.New("invalid hostname")

// ErrAuthentication is returned when the device rejects the credentials.
var ErrAuthentication = errors.New("authentication failed")

// ErrUnreachable is returned on dial timeouts and network errors.
var ErrUnreachable = errors.New("device unreachable")

// ErrSessionDead is returned when a health probe fails on a pooled session.
var ErrSessionDead = errors.New("session dead")

// ErrOpenFailed is returned for any other session open failure.
var ErrOpenFailed = errors.New("session open failed")

// ErrCredentials is returned when credentials for a device cannot be resolved.
var ErrCredentials = errors.New("credentials unavailable")

// ErrNotFound is returned when a hostname is absent from the registry.
var ErrNotFound = errors.New("device not found")

// ErrNotConnected is returned when a device is registered but has no live
// session in the pool.
var ErrNotConnected = errors.New("device not connected")

// DeviceError ties a failure to the device it happened on.
type DeviceError struct {
	Hostname string
	Kind     error // one of the sentinels above
	Err      error // underlying cause, may be nil
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Hostname, e.Kind)
	}
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s: %v", e.Hostname, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Hostname, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewDeviceError wraps err as a DeviceError of the given kind.
func NewDeviceError(hostname string, kind, err error) *DeviceError {
	return &DeviceError{Hostname: hostname, Kind: kind, Err: err}
}

// KindOf maps an error onto a stable, machine-readable kind name.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrSessionDead):
		return "session_dead"
	case errors.Is(err, ErrCredentials):
		return "credentials"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	default:
		return "open_failed"
	}
}

// Retryable reports whether the next periodic pass is expected to fix err
// without operator action.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrSessionDead)
}
