package sshsession

import (
	"context"
	"errors"
	"net"
	"strings"

	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gluk-w/devsync/internal/session"
)

// classify maps a dial or handshake failure onto the session error kinds.
func classify(hostname string, err error) error {
	switch {
	case err == nil:
		return nil
	case isAuthError(err):
		return session.NewDeviceError(hostname, session.ErrAuthentication, err)
	case isNetworkError(err):
		return session.NewDeviceError(hostname, session.ErrUnreachable, err)
	default:
		return session.NewDeviceError(hostname, session.ErrOpenFailed, err)
	}
}

func isAuthError(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
