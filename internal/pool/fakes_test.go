package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/session"
)

// fakeSession is an in-memory session.Session.
type fakeSession struct {
	host       string
	healthy    atomic.Bool
	closeCount atomic.Int32
	enabled    atomic.Bool
	closeBlock chan struct{}

	mu       sync.Mutex
	commands []string
}

func newFakeSession(host string) *fakeSession {
	s := &fakeSession{host: host}
	s.healthy.Store(true)
	return s
}

func (s *fakeSession) RunCommand(_ context.Context, command string) (string, error) {
	if s.closeCount.Load() > 0 {
		return "", errors.New("session closed")
	}
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()
	prefix := ""
	if s.enabled.Load() {
		prefix = "#"
	}
	return prefix + s.host + ":" + command, nil
}

func (s *fakeSession) Enable(context.Context) error {
	s.enabled.Store(true)
	return nil
}

func (s *fakeSession) HealthProbe(context.Context) session.HealthResult {
	if s.closeCount.Load() > 0 || !s.healthy.Load() {
		return session.Unhealthy("probe failed", time.Millisecond)
	}
	return session.Healthy(time.Millisecond)
}

func (s *fakeSession) Close() error {
	if s.closeBlock != nil {
		<-s.closeBlock
	}
	s.closeCount.Add(1)
	return nil
}

// fakeFactory opens fakeSessions. Per-host errors and gates control the
// outcome and timing of each open.
type fakeFactory struct {
	mu       sync.Mutex
	errs     map[string]error
	gates    map[string]chan struct{}
	sessions map[string][]*fakeSession
	opened   []string
	entered  chan string

	opens atomic.Int32
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		errs:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		sessions: make(map[string][]*fakeSession),
		entered:  make(chan string, 64),
	}
}

func (f *fakeFactory) failWith(host string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[host] = err
}

// gate makes opens for host block until the returned function is called.
func (f *fakeFactory) gate(host string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[host] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeFactory) Open(ctx context.Context, spec session.DeviceSpec) (session.Session, error) {
	f.opens.Add(1)
	f.mu.Lock()
	f.opened = append(f.opened, spec.Hostname)
	gate := f.gates[spec.Hostname]
	err := f.errs[spec.Hostname]
	f.mu.Unlock()

	select {
	case f.entered <- spec.Hostname:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, session.NewDeviceError(spec.Hostname, session.ErrUnreachable, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}

	s := newFakeSession(spec.Hostname)
	f.mu.Lock()
	f.sessions[spec.Hostname] = append(f.sessions[spec.Hostname], s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeFactory) latest(host string) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	ss := f.sessions[host]
	if len(ss) == 0 {
		return nil
	}
	return ss[len(ss)-1]
}

func (f *fakeFactory) openedHosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// waitEntered blocks until an open for host has started.
func (f *fakeFactory) waitEntered(t *testing.T, host string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case h := <-f.entered:
			if h == host {
				return
			}
		case <-timeout:
			t.Fatalf("open for %s never started", host)
		}
	}
}

// outageValidator behaves like a syntax check until down is set, then fails
// every lookup the way an unreachable resolver does.
type outageValidator struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (v *outageValidator) Validate(_ context.Context, host string) error {
	v.calls.Add(1)
	if err := session.CheckHostnameSyntax(host); err != nil {
		return err
	}
	if v.down.Load() {
		return fmt.Errorf("%w: resolving %q: i/o timeout", session.ErrUnreachable, host)
	}
	return nil
}

// memRegistry is an in-memory Registry.
type memRegistry struct {
	mu        sync.Mutex
	devices   map[string]database.Device
	nextID    uint
	listCalls int
	// listErr, when set, decides the error for the n-th ListAll call (1-based).
	listErr func(call int) error
}

func newMemRegistry(hosts ...string) *memRegistry {
	r := &memRegistry{devices: make(map[string]database.Device)}
	for _, h := range hosts {
		r.put(database.Device{Hostname: h, DeviceType: "cisco_ios", Port: 22})
	}
	return r
}

func (r *memRegistry) put(d database.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d.ID = r.nextID
	r.devices[d.Hostname] = d
}

func (r *memRegistry) get(host string) (database.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[host]
	return d, ok
}

func (r *memRegistry) drop(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, host)
}

func (r *memRegistry) ListAll(context.Context) ([]database.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		if err := r.listErr(r.listCalls); err != nil {
			return nil, err
		}
	}
	out := make([]database.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (r *memRegistry) FindByHostname(_ context.Context, host string) (*database.Device, error) {
	d, ok := r.get(host)
	if !ok {
		return nil, database.ErrDeviceNotFound
	}
	return &d, nil
}

func (r *memRegistry) Upsert(_ context.Context, d *database.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.devices[d.Hostname]; ok {
		d.ID = existing.ID
	} else {
		r.nextID++
		d.ID = r.nextID
	}
	r.devices[d.Hostname] = *d
	return nil
}

func (r *memRegistry) Delete(_ context.Context, host string) error {
	r.drop(host)
	return nil
}

func (r *memRegistry) UpdateConnectionStatus(_ context.Context, host string, connected bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[host]
	if !ok {
		return nil
	}
	d.IsConnected = connected
	d.LastCheck = at
	if connected {
		d.LastConnected = at
	}
	r.devices[host] = d
	return nil
}

// fakeCreds hands out fixed credentials and records sealing in plain text.
type fakeCreds struct {
	err error
}

func (c fakeCreds) Resolve(_ context.Context, d database.Device) (session.Credentials, error) {
	if c.err != nil {
		return session.Credentials{}, c.err
	}
	if d.Password != "" {
		return session.Credentials{Username: d.Username, Password: d.Password}, nil
	}
	return session.Credentials{Username: "netops", Password: "pw"}, nil
}

func (c fakeCreds) Seal(_ context.Context, d *database.Device, creds session.Credentials) error {
	d.Username = creds.Username
	d.Password = creds.Password
	d.Secret = creds.Secret
	return nil
}

func newTestEngine(reg Registry, factory session.Factory) *Engine {
	return New(Config{
		Registry:     reg,
		Credentials:  fakeCreds{},
		Factory:      factory,
		Logger:       zerolog.Nop(),
		Workers:      4,
		CloseTimeout: time.Second,
	})
}

func addDevice(t *testing.T, e *Engine, host string) *database.Device {
	t.Helper()
	d, err := e.AddOrUpdate(context.Background(), session.DeviceSpec{
		Hostname:    host,
		DeviceType:  "cisco_ios",
		Credentials: session.Credentials{Username: "netops", Password: "pw"},
	})
	if err != nil {
		t.Fatalf("AddOrUpdate(%s): %v", host, err)
	}
	return d
}
