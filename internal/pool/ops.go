package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/session"
)

const defaultPort = 22

// AddOrUpdate registers a device and opens its session. The hostname is
// validated before any I/O. Only after the session opens are the credentials
// sealed, the record upserted as connected and the handle installed, replacing
// any previous one. On failure the registry and the pool are left unchanged
// and the error is a *session.DeviceError, except for registry write failures.
//
// When spec.Credentials is empty the credentials are resolved from
// spec.CredentialRef, falling back to secrets already stored for the device.
func (e *Engine) AddOrUpdate(ctx context.Context, spec session.DeviceSpec) (*database.Device, error) {
	host := normalize(spec.Hostname)
	if err := e.validator.Validate(ctx, host); err != nil {
		err = hostnameError(host, err)
		e.reportOpenFailure(host, err)
		return nil, err
	}

	dev := database.Device{
		Hostname:      host,
		DeviceType:    spec.DeviceType,
		Port:          spec.Port,
		Username:      spec.Credentials.Username,
		CredentialRef: spec.CredentialRef,
	}
	if dev.Port == 0 {
		dev.Port = defaultPort
	}

	existing, err := e.registry.FindByHostname(ctx, host)
	switch {
	case errors.Is(err, database.ErrDeviceNotFound):
	case err != nil:
		return nil, fmt.Errorf("look up %s: %w", host, err)
	default:
		if dev.Username == "" {
			dev.Username = existing.Username
		}
		if spec.Credentials.IsZero() && dev.CredentialRef == existing.CredentialRef {
			dev.Password, dev.Secret = existing.Password, existing.Secret
		}
	}

	creds := spec.Credentials
	if creds.IsZero() {
		creds, err = e.creds.Resolve(ctx, dev)
		if err != nil {
			return nil, session.NewDeviceError(host, session.ErrCredentials, err)
		}
	} else if creds.Username == "" {
		creds.Username = dev.Username
	}

	unlock := e.hostLocks.Lock(host)
	defer unlock()

	sess, err := e.open(ctx, session.DeviceSpec{
		Hostname:      host,
		DeviceType:    spec.DeviceType,
		Port:          dev.Port,
		Credentials:   creds,
		CredentialRef: spec.CredentialRef,
	})
	if err != nil {
		e.noteAuthFailure(host, err)
		e.reportOpenFailure(host, err)
		return nil, err
	}
	e.authGuard.reset(host)

	discard := func() {
		h := newHandle(host, dev, sess, 0, e.now())
		e.closeHandle(ctx, h)
	}

	if err := e.creds.Seal(ctx, &dev, creds); err != nil {
		discard()
		return nil, session.NewDeviceError(host, session.ErrCredentials, err)
	}
	now := e.now()
	dev.IsConnected = true
	dev.LastConnected = now
	dev.LastCheck = now
	if err := e.registry.Upsert(ctx, &dev); err != nil {
		discard()
		return nil, fmt.Errorf("register %s: %w", host, err)
	}

	h := newHandle(host, dev, sess, e.generation.Add(1), now)
	if old := e.install(host, h); old != nil {
		e.closeHandle(ctx, old)
		e.emitEvent(host, EventReplaced, "", fmt.Sprintf("session %s replaced", old.ID))
	}
	e.logger.Info().Str("hostname", host).Str("session_id", h.ID.String()).Msg("Device added")
	e.emitEvent(host, EventConnected, "", "added")

	dev.Password, dev.Secret = "", ""
	return &dev, nil
}

// Remove deletes the device record and then closes and evicts its session.
// Removing an unknown device is not an error. If the registry delete fails
// the pool is left untouched.
func (e *Engine) Remove(ctx context.Context, hostname string) error {
	host := normalize(hostname)
	if err := e.registry.Delete(ctx, host); err != nil {
		return fmt.Errorf("remove %s: %w", host, err)
	}

	unlock := e.hostLocks.Lock(host)
	defer unlock()

	e.authGuard.reset(host)
	if h := e.detach(host, nil); h != nil {
		e.closeHandle(ctx, h)
		e.logger.Info().Str("hostname", host).Str("session_id", h.ID.String()).Msg("Device removed")
		e.emitEvent(host, EventRemoved, "", "removed by request")
	}
	return nil
}

// Exec runs command over the pooled session for hostname. It returns a
// DeviceError wrapping session.ErrNotConnected when no session is pooled.
func (e *Engine) Exec(ctx context.Context, hostname, command string, enable bool) (string, error) {
	host := normalize(hostname)
	h, ok := e.Lookup(host)
	if !ok {
		return "", session.NewDeviceError(host, session.ErrNotConnected, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	out, err := h.Run(ctx, command, enable)
	recordCommand(ctx, time.Since(start), err)
	if err != nil {
		e.logger.Warn().Err(err).Str("hostname", host).Msg("Command failed")
	}
	return out, err
}
