package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

const (
	maxHostnameLen = 253
	maxLabelLen    = 63

	defaultResolveTimeout = 5 * time.Second
)

// NormalizeHostname trims whitespace, lower-cases and strips a trailing dot.
// Pool keys and registry rows always use the normalized form.
func NormalizeHostname(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimSuffix(h, ".")
}

// CheckHostnameSyntax reports whether h is an IP literal or a syntactically
// valid DNS name (RFC 1123 labels). It performs no I/O.
func CheckHostnameSyntax(h string) error {
	if h == "" {
		return fmt.Errorf("%w: empty hostname", ErrValidation)
	}
	if _, err := netip.ParseAddr(h); err == nil {
		return nil
	}
	if len(h) > maxHostnameLen {
		return fmt.Errorf("%w: %q longer than %d characters", ErrValidation, h, maxHostnameLen)
	}
	for _, label := range strings.Split(h, ".") {
		if err := checkLabel(label); err != nil {
			return fmt.Errorf("%w: %q: %s", ErrValidation, h, err)
		}
	}
	return nil
}

func checkLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > maxLabelLen {
		return fmt.Errorf("label %q longer than %d characters", label, maxLabelLen)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q starts or ends with a hyphen", label)
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("label %q contains %q", label, r)
		}
	}
	return nil
}

// HostValidator decides whether a hostname may be handed to a Factory.
type HostValidator interface {
	Validate(ctx context.Context, hostname string) error
}

// SyntaxValidator only checks hostname syntax.
type SyntaxValidator struct{}

func (SyntaxValidator) Validate(_ context.Context, hostname string) error {
	return CheckHostnameSyntax(hostname)
}

// DNSValidator checks syntax and then requires DNS names to resolve.
// IP literals are accepted without a lookup. Resolver failures other than
// "no such host" are reported as ErrUnreachable.
type DNSValidator struct {
	Resolver *net.Resolver
	Timeout  time.Duration
}

func (v DNSValidator) Validate(ctx context.Context, hostname string) error {
	if err := CheckHostnameSyntax(hostname); err != nil {
		return err
	}
	if _, err := netip.ParseAddr(hostname); err == nil {
		return nil
	}

	resolver := v.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := resolver.LookupHost(ctx, hostname)
	if err != nil {
		return lookupError(hostname, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %q resolved to no addresses", ErrValidation, hostname)
	}
	return nil
}

// lookupError classifies a resolver failure. Only a definitive "no such host"
// makes the name invalid; timeouts and server failures are transient.
func lookupError(hostname string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return fmt.Errorf("%w: %q does not resolve: %v", ErrValidation, hostname, err)
	}
	return fmt.Errorf("%w: resolving %q: %v", ErrUnreachable, hostname, err)
}
