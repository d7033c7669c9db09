// Package sshsession opens device sessions over SSH with password or
// keyboard-interactive authentication.
package sshsession

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gluk-w/devsync/internal/session"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 30 * time.Second
)

// Config configures a Factory.
type Config struct {
	// KnownHostsPath enables host key verification against an OpenSSH
	// known_hosts file. Empty accepts any host key.
	KnownHostsPath string
	// PrivateKeyPath is an optional PEM key offered before password auth.
	PrivateKeyPath string
	// DialTimeout caps TCP connect and handshake when ctx has no deadline.
	DialTimeout time.Duration
	Logger      zerolog.Logger
}

// Factory opens SSH sessions. It is safe for concurrent use.
type Factory struct {
	hostKeyCallback ssh.HostKeyCallback
	signer          ssh.Signer
	dialTimeout     time.Duration
	logger          zerolog.Logger
}

// NewFactory builds a Factory from cfg.
func NewFactory(cfg Config) (*Factory, error) {
	f := &Factory{
		hostKeyCallback: ssh.InsecureIgnoreHostKey(),
		dialTimeout:     cfg.DialTimeout,
		logger:          cfg.Logger,
	}
	if f.dialTimeout <= 0 {
		f.dialTimeout = defaultDialTimeout
	}
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHostsPath, err)
		}
		f.hostKeyCallback = cb
	}
	if cfg.PrivateKeyPath != "" {
		signer, err := LoadSigner(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		f.signer = signer
	}
	return f, nil
}

// LoadSigner reads a PEM private key from path.
func LoadSigner(path string) (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

func (f *Factory) authMethods(creds session.Credentials) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if f.signer != nil {
		methods = append(methods, ssh.PublicKeys(f.signer))
	}
	if creds.Password != "" {
		pw := creds.Password
		methods = append(methods,
			ssh.Password(pw),
			// Many network OSes only offer keyboard-interactive.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	return methods
}

// Open dials spec.Hostname and completes the SSH handshake. Failures are
// returned as *session.DeviceError classified as authentication, unreachable
// or open failure.
func (f *Factory) Open(ctx context.Context, spec session.DeviceSpec) (session.Session, error) {
	port := spec.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(spec.Hostname, strconv.Itoa(port))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.dialTimeout)
		defer cancel()
	}

	cfg := &ssh.ClientConfig{
		User:            spec.Credentials.Username,
		Auth:            f.authMethods(spec.Credentials),
		HostKeyCallback: f.hostKeyCallback,
		Timeout:         f.dialTimeout,
	}

	dialer := net.Dialer{Timeout: f.dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(spec.Hostname, fmt.Errorf("dial %s: %w", addr, err))
	}

	// The handshake has no context parameter; bound it by the deadline and
	// abort it on cancellation.
	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { netConn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if !stop() && err == nil {
		sshConn.Close()
		err = ctx.Err()
	}
	if err != nil {
		netConn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, classify(spec.Hostname, fmt.Errorf("ssh handshake with %s: %w", addr, err))
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	profile := ProfileFor(spec.DeviceType)
	f.logger.Debug().
		Str("hostname", spec.Hostname).
		Str("addr", addr).
		Str("profile", profile.Name).
		Msg("SSH session opened")

	return &Session{
		client:   client,
		hostname: spec.Hostname,
		profile:  profile,
		secret:   enableSecret(spec.Credentials),
	}, nil
}

func enableSecret(c session.Credentials) string {
	if c.Secret != "" {
		return c.Secret
	}
	return c.Password
}
