package sshsession

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gluk-w/devsync/internal/session"
)

const (
	testUser     = "admin"
	testPassword = "pw"
)

// testServer tracks an in-process SSH server's state.
type testServer struct {
	addr    string
	hostKey ssh.PublicKey
	cleanup func()

	mu       sync.Mutex
	netConns []net.Conn
	commands []string
}

// closeAllConns forcefully closes all accepted TCP connections.
func (ts *testServer) closeAllConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.netConns {
		c.Close()
	}
	ts.netConns = nil
}

func (ts *testServer) recordCommand(cmd string) {
	ts.mu.Lock()
	ts.commands = append(ts.commands, cmd)
	ts.mu.Unlock()
}

func (ts *testServer) host(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ts.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// testSSHServer starts an in-process SSH server that accepts password auth
// for testUser and answers a handful of device commands.
func testSSHServer(t *testing.T) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return &ssh.Permissions{}, nil
			}
			return nil, assert.AnError
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{addr: listener.Addr().String(), hostKey: hostSigner.PublicKey()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.netConns = append(ts.netConns, netConn)
			ts.mu.Unlock()
			go ts.handleConnection(netConn, config)
		}
	}()

	ts.cleanup = func() {
		listener.Close()
		ts.closeAllConns()
		<-done
	}
	t.Cleanup(ts.cleanup)
	return ts
}

func (ts *testServer) handleConnection(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go ts.handleChannel(ch, requests)
	}
}

func exitStatus(ch ssh.Channel, code uint32) {
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
}

func (ts *testServer) handleChannel(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			ssh.Unmarshal(req.Payload, &payload)
			if req.WantReply {
				req.Reply(true, nil)
			}
			ts.recordCommand(payload.Command)
			switch payload.Command {
			case "show version":
				ch.Write([]byte("TestOS 1.0\n"))
				exitStatus(ch, 0)
			case "true":
				exitStatus(ch, 0)
			case "fail":
				ch.Write([]byte("% Invalid input\n"))
				exitStatus(ch, 1)
			case "hang":
				time.Sleep(2 * time.Second)
				exitStatus(ch, 0)
			default:
				ch.Write([]byte("out:" + payload.Command + "\n"))
				exitStatus(ch, 0)
			}
			return
		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			scanner := bufio.NewScanner(ch)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				ts.recordCommand("shell:" + line)
				if line == "exit" {
					exitStatus(ch, 0)
					return
				}
				ch.Write([]byte("# " + line + "\n"))
			}
			return
		default:
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}
}

func newTestFactory(t *testing.T, cfg Config) *Factory {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	f, err := NewFactory(cfg)
	require.NoError(t, err)
	return f
}

func openTestSession(t *testing.T, ts *testServer, deviceType string) *Session {
	t.Helper()
	host, port := ts.host(t)
	f := newTestFactory(t, Config{})
	sess, err := f.Open(context.Background(), session.DeviceSpec{
		Hostname:    host,
		Port:        port,
		DeviceType:  deviceType,
		Credentials: session.Credentials{Username: testUser, Password: testPassword, Secret: "en"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess.(*Session)
}

func TestOpen_RunCommand(t *testing.T) {
	ts := testSSHServer(t)
	sess := openTestSession(t, ts, "cisco_ios")

	out, err := sess.RunCommand(context.Background(), "show ip int brief")
	require.NoError(t, err)
	assert.Equal(t, "out:show ip int brief\n", out)
	assert.Equal(t, "cisco_ios", sess.Profile().Name)
}

func TestRunCommand_NonZeroExit(t *testing.T) {
	ts := testSSHServer(t)
	sess := openTestSession(t, ts, "cisco_ios")

	out, err := sess.RunCommand(context.Background(), "fail")
	require.Error(t, err)
	assert.Contains(t, out, "Invalid input")
	var exitErr *ssh.ExitError
	assert.ErrorAs(t, err, &exitErr)
}

func TestRunCommand_ContextTimeout(t *testing.T) {
	ts := testSSHServer(t)
	sess := openTestSession(t, ts, "cisco_ios")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := sess.RunCommand(ctx, "hang")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnable_RunsThroughShell(t *testing.T) {
	ts := testSSHServer(t)
	sess := openTestSession(t, ts, "cisco_ios")

	require.NoError(t, sess.Enable(context.Background()))
	out, err := sess.RunCommand(context.Background(), "show running-config")
	require.NoError(t, err)
	assert.Contains(t, out, "# show running-config")

	ts.mu.Lock()
	defer ts.mu.Unlock()
	assert.Equal(t, []string{
		"shell:enable",
		"shell:en",
		"shell:terminal length 0",
		"shell:show running-config",
		"shell:exit",
	}, ts.commands)
}

func TestEnable_NoopWithoutEnableCommand(t *testing.T) {
	ts := testSSHServer(t)
	sess := openTestSession(t, ts, "linux")

	require.NoError(t, sess.Enable(context.Background()))
	out, err := sess.RunCommand(context.Background(), "uptime")
	require.NoError(t, err)
	assert.Equal(t, "out:uptime\n", out)
}

func TestHealthProbe(t *testing.T) {
	ts := testSSHServer(t)
	sess := openTestSession(t, ts, "arista_eos")

	res := sess.HealthProbe(context.Background())
	assert.True(t, res.Healthy, res.Reason)

	ts.mu.Lock()
	assert.Contains(t, ts.commands, "show version")
	ts.mu.Unlock()

	ts.closeAllConns()
	// Give the client a moment to observe the closed transport.
	require.Eventually(t, func() bool {
		return !sess.HealthProbe(context.Background()).Healthy
	}, 2*time.Second, 50*time.Millisecond)
}

func TestClose_Idempotent(t *testing.T) {
	ts := testSSHServer(t)
	sess := openTestSession(t, ts, "cisco_ios")

	first := sess.Close()
	assert.NoError(t, first)
	assert.Equal(t, first, sess.Close())
}

func TestOpen_AuthenticationFailure(t *testing.T) {
	ts := testSSHServer(t)
	host, port := ts.host(t)
	f := newTestFactory(t, Config{})

	_, err := f.Open(context.Background(), session.DeviceSpec{
		Hostname:    host,
		Port:        port,
		DeviceType:  "cisco_ios",
		Credentials: session.Credentials{Username: testUser, Password: "wrong"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrAuthentication)
	assert.Equal(t, "authentication", session.KindOf(err))
}

func TestOpen_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	l.Close()

	f := newTestFactory(t, Config{})
	_, err = f.Open(context.Background(), session.DeviceSpec{
		Hostname:    "127.0.0.1",
		Port:        addr.Port,
		Credentials: session.Credentials{Username: testUser, Password: testPassword},
	})
	assert.ErrorIs(t, err, session.ErrUnreachable)
}

func TestOpen_CancelledContext(t *testing.T) {
	ts := testSSHServer(t)
	host, port := ts.host(t)
	f := newTestFactory(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Open(ctx, session.DeviceSpec{
		Hostname:    host,
		Port:        port,
		Credentials: session.Credentials{Username: testUser, Password: testPassword},
	})
	assert.ErrorIs(t, err, session.ErrUnreachable)
}

func writeKnownHosts(t *testing.T, addr string, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{addr}, key)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0600))
	return path
}

func TestOpen_KnownHosts(t *testing.T) {
	ts := testSSHServer(t)
	host, port := ts.host(t)
	spec := session.DeviceSpec{
		Hostname:    host,
		Port:        port,
		Credentials: session.Credentials{Username: testUser, Password: testPassword},
	}

	good := newTestFactory(t, Config{KnownHostsPath: writeKnownHosts(t, ts.addr, ts.hostKey)})
	sess, err := good.Open(context.Background(), spec)
	require.NoError(t, err)
	sess.Close()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherKey, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	bad := newTestFactory(t, Config{KnownHostsPath: writeKnownHosts(t, ts.addr, otherKey)})
	_, err = bad.Open(context.Background(), spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrOpenFailed)
	assert.NotErrorIs(t, err, session.ErrAuthentication)
}

func TestNewFactory_MissingFiles(t *testing.T) {
	_, err := NewFactory(Config{KnownHostsPath: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)

	_, err = NewFactory(Config{PrivateKeyPath: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, "cisco_ios", ProfileFor(" Cisco_IOS ").Name)
	assert.Equal(t, "generic", ProfileFor("unknown_os").Name)
	assert.Equal(t, "show version", ProfileFor("unknown_os").ProbeCommand)
	assert.True(t, KnownDeviceType("juniper_junos"))
	assert.False(t, KnownDeviceType("unknown_os"))
}
