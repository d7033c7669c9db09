package sshsession

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/devsync/internal/session"
)

const keepaliveRequest = "keepalive@openssh.com"

// Session is one SSH client connection to a device. Each command runs on its
// own SSH channel. Callers serialize access.
type Session struct {
	client   *ssh.Client
	hostname string
	profile  Profile
	secret   string

	enabled   bool
	closeOnce sync.Once
	closeErr  error
}

var _ session.Session = (*Session)(nil)

// Profile returns the device profile the session was opened with.
func (s *Session) Profile() Profile { return s.profile }

// RunCommand runs command and returns its combined output. Once Enable has
// been called, commands run through an interactive shell in privileged mode.
func (s *Session) RunCommand(ctx context.Context, command string) (string, error) {
	if s.enabled {
		return s.runShell(ctx, command)
	}
	return s.runExec(ctx, command)
}

// Enable switches later commands to privileged mode. Platforms without an
// enable command are left as they are.
func (s *Session) Enable(_ context.Context) error {
	if s.profile.EnableCommand == "" {
		return nil
	}
	s.enabled = true
	return nil
}

func (s *Session) runExec(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create session on %s: %w", s.hostname, err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return string(r.out), fmt.Errorf("command %q on %s: %w", command, s.hostname, r.err)
		}
		return string(r.out), nil
	case <-ctx.Done():
		sess.Close()
		return "", fmt.Errorf("command %q on %s: %w", command, s.hostname, ctx.Err())
	}
}

func (s *Session) runShell(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create session on %s: %w", s.hostname, err)
	}
	defer sess.Close()

	modes := ssh.TerminalModes{ssh.ECHO: 0}
	if err := sess.RequestPty("vt100", 0, 511, modes); err != nil {
		return "", fmt.Errorf("request pty on %s: %w", s.hostname, err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe on %s: %w", s.hostname, err)
	}
	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out
	if err := sess.Shell(); err != nil {
		return "", fmt.Errorf("start shell on %s: %w", s.hostname, err)
	}

	var script strings.Builder
	for _, line := range s.shellScript(command) {
		script.WriteString(line)
		script.WriteString("\n")
	}

	done := make(chan error, 1)
	go func() {
		if _, err := stdin.Write([]byte(script.String())); err != nil {
			done <- err
			return
		}
		done <- sess.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return out.String(), fmt.Errorf("command %q on %s: %w", command, s.hostname, err)
		}
		return out.String(), nil
	case <-ctx.Done():
		sess.Close()
		return "", fmt.Errorf("command %q on %s: %w", command, s.hostname, ctx.Err())
	}
}

func (s *Session) shellScript(command string) []string {
	var lines []string
	if s.profile.EnableCommand != "" {
		lines = append(lines, s.profile.EnableCommand, s.secret)
	}
	if s.profile.PagingCommand != "" {
		lines = append(lines, s.profile.PagingCommand)
	}
	lines = append(lines, command, s.profile.ExitCommand)
	return lines
}

// HealthProbe sends a transport keepalive and then runs the profile probe
// command. Both must succeed within ctx.
func (s *Session) HealthProbe(ctx context.Context) session.HealthResult {
	start := time.Now()

	done := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest(keepaliveRequest, true, nil)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return session.Unhealthy(fmt.Sprintf("keepalive failed: %v", err), time.Since(start))
		}
	case <-ctx.Done():
		return session.Unhealthy("keepalive timed out", time.Since(start))
	}

	if s.profile.ProbeCommand == "" {
		return session.Healthy(time.Since(start))
	}
	if _, err := s.runExec(ctx, s.profile.ProbeCommand); err != nil {
		return session.Unhealthy(fmt.Sprintf("probe command failed: %v", err), time.Since(start))
	}
	return session.Healthy(time.Since(start))
}

// Close closes the SSH connection. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
