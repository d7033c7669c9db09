// Package session defines the transport-neutral contract between the
// reconciliation engine and the remote device sessions it pools.
//
// A Factory opens sessions from a DeviceSpec; the engine never looks past the
// Session interface, so SSH, a simulator, or a test fake are interchangeable.
package session

import (
	"context"
	"time"
)

// Credentials are the resolved secrets used to open a session.
type Credentials struct {
	Username string
	Password string
	// Secret is the privileged-mode ("enable") secret. Empty means the
	// password is reused.
	Secret string
}

// IsZero reports whether no credential field is set.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// DeviceSpec carries the connection parameters for one device.
type DeviceSpec struct {
	Hostname    string
	DeviceType  string
	Port        int
	Credentials Credentials
	// CredentialRef names where credentials come from when Credentials is
	// empty: "" or "stored" for secrets sealed on the registry record,
	// "env:NAME" for NAME_USERNAME / NAME_PASSWORD / NAME_SECRET.
	CredentialRef string
}

// HealthResult is the outcome of a health probe.
type HealthResult struct {
	Healthy bool
	Reason  string
	Latency time.Duration
}

// Healthy returns a passing HealthResult.
func Healthy(latency time.Duration) HealthResult {
	return HealthResult{Healthy: true, Latency: latency}
}

// Unhealthy returns a failing HealthResult with the given reason.
func Unhealthy(reason string, latency time.Duration) HealthResult {
	return HealthResult{Reason: reason, Latency: latency}
}

// Session is one live remote session. Implementations need not be safe for
// concurrent use; the pool serializes access per session.
type Session interface {
	// RunCommand executes a command and returns its output.
	RunCommand(ctx context.Context, command string) (string, error)
	// Enable switches subsequent commands to privileged mode.
	Enable(ctx context.Context) error
	// HealthProbe performs a lightweight liveness check. It reports failure
	// through the result, never by panicking.
	HealthProbe(ctx context.Context) HealthResult
	// Close releases the session. Calling it more than once is allowed.
	Close() error
}

// Factory opens sessions. Open must honour ctx cancellation and classify
// failures with the sentinel errors in this package.
type Factory interface {
	Open(ctx context.Context, spec DeviceSpec) (Session, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, spec DeviceSpec) (Session, error)

func (f FactoryFunc) Open(ctx context.Context, spec DeviceSpec) (Session, error) {
	return f(ctx, spec)
}
