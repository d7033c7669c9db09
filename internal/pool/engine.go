package pool

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/session"
)

const (
	DefaultWorkers        = 10
	DefaultOpenTimeout    = 30 * time.Second
	DefaultProbeTimeout   = 10 * time.Second
	DefaultCloseTimeout   = 5 * time.Second
	DefaultCommandTimeout = 60 * time.Second
)

// Registry is the durable desired state the engine reconciles against.
//
//go:generate mockgen -destination=mock_registry_test.go -package=pool github.com/gluk-w/devsync/internal/pool Registry
type Registry interface {
	ListAll(ctx context.Context) ([]database.Device, error)
	FindByHostname(ctx context.Context, hostname string) (*database.Device, error)
	Upsert(ctx context.Context, d *database.Device) error
	Delete(ctx context.Context, hostname string) error
	UpdateConnectionStatus(ctx context.Context, hostname string, connected bool, at time.Time) error
}

// CredentialSource resolves the secrets for a registry record and seals
// operator-supplied secrets onto one.
type CredentialSource interface {
	Resolve(ctx context.Context, d database.Device) (session.Credentials, error)
	Seal(ctx context.Context, d *database.Device, creds session.Credentials) error
}

// Config configures an Engine. Registry, Credentials and Factory are
// required; zero durations and worker counts take the defaults above.
type Config struct {
	Registry    Registry
	Credentials CredentialSource
	Factory     session.Factory
	// Validator defaults to syntax-only hostname checks.
	Validator session.HostValidator
	Logger    zerolog.Logger

	Workers int
	// AuthFailureThreshold defaults to DefaultAuthFailureThreshold.
	AuthFailureThreshold int

	OpenTimeout    time.Duration
	ProbeTimeout   time.Duration
	CloseTimeout   time.Duration
	CommandTimeout time.Duration
}

// Engine owns the session pool.
type Engine struct {
	cfg       Config
	registry  Registry
	creds     CredentialSource
	factory   session.Factory
	validator session.HostValidator
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	handles map[string]*Handle

	hostLocks  *keyedMutex
	authGuard  *authGuard
	passMu     sync.Mutex
	generation atomic.Uint64

	lastMu sync.RWMutex
	last   *Summary

	events      *eventLog
	listenersMu sync.RWMutex
	listeners   []EventListener
	subscribers map[int]chan Event
	nextSubID   int
}

// New returns an Engine with an empty pool.
func New(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.AuthFailureThreshold <= 0 {
		cfg.AuthFailureThreshold = DefaultAuthFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	validator := cfg.Validator
	if validator == nil {
		validator = session.SyntaxValidator{}
	}

	return &Engine{
		cfg:         cfg,
		registry:    cfg.Registry,
		creds:       cfg.Credentials,
		factory:     cfg.Factory,
		validator:   validator,
		logger:      cfg.Logger.With().Str("component", "pool").Logger(),
		now:         time.Now,
		handles:     make(map[string]*Handle),
		hostLocks:   newKeyedMutex(),
		authGuard:   newAuthGuard(cfg.AuthFailureThreshold),
		events:      newEventLog(),
		subscribers: make(map[int]chan Event),
	}
}

func normalize(hostname string) string {
	return session.NormalizeHostname(hostname)
}

// Lookup returns the pooled handle for hostname.
func (e *Engine) Lookup(hostname string) (*Handle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handles[normalize(hostname)]
	return h, ok
}

// LookupByPartialMatch returns the pooled handles whose hostname contains
// substr, compared case-insensitively, sorted by hostname. An empty substr
// matches nothing. It only sees pooled devices; the fanout endpoint matches
// against the registry instead so disconnected devices report not_connected.
func (e *Engine) LookupByPartialMatch(substr string) []*Handle {
	substr = strings.ToLower(strings.TrimSpace(substr))
	if substr == "" {
		return nil
	}

	e.mu.RLock()
	var matches []*Handle
	for host, h := range e.handles {
		if strings.Contains(host, substr) {
			matches = append(matches, h)
		}
	}
	e.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Hostname < matches[j].Hostname })
	return matches
}

// Size returns the number of pooled sessions.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handles)
}

// PoolStatus describes the pool's view of one hostname.
type PoolStatus struct {
	Pooled bool        `json:"pooled"`
	Handle *HandleInfo `json:"session,omitempty"`
	// DeferredUntil is set while passes skip the device after repeated
	// authentication failures.
	DeferredUntil *time.Time `json:"deferred_until,omitempty"`
}

// Status returns the pool status for hostname.
func (e *Engine) Status(hostname string) PoolStatus {
	var st PoolStatus
	if until := e.authGuard.until(normalize(hostname), e.now()); !until.IsZero() {
		st.DeferredUntil = &until
	}
	h, ok := e.Lookup(hostname)
	if !ok {
		return st
	}
	info := h.Info()
	st.Pooled = true
	st.Handle = &info
	return st
}

// Snapshot returns info for every pooled handle sorted by hostname.
func (e *Engine) Snapshot() []HandleInfo {
	e.mu.RLock()
	infos := make([]HandleInfo, 0, len(e.handles))
	handles := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.RUnlock()

	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Hostname < infos[j].Hostname })
	return infos
}

// capture copies the pool map.
func (e *Engine) capture() map[string]*Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*Handle, len(e.handles))
	for k, v := range e.handles {
		out[k] = v
	}
	return out
}

// install stores h under host and returns the handle it replaced. The caller
// holds the host lock and closes the returned handle.
func (e *Engine) install(host string, h *Handle) *Handle {
	e.mu.Lock()
	old := e.handles[host]
	e.handles[host] = h
	e.mu.Unlock()

	if old == nil {
		recordPoolDelta(context.Background(), 1)
	}
	return old
}

// detach removes host from the pool if it still maps to want (any handle when
// want is nil) and returns the removed handle. The caller holds the host lock.
func (e *Engine) detach(host string, want *Handle) *Handle {
	e.mu.Lock()
	h, ok := e.handles[host]
	if !ok || (want != nil && h != want) {
		e.mu.Unlock()
		return nil
	}
	delete(e.handles, host)
	e.mu.Unlock()

	recordPoolDelta(context.Background(), -1)
	return h
}

// closeHandle closes h outside the map lock. Errors are logged and reported
// as events, never propagated into a pass.
func (e *Engine) closeHandle(ctx context.Context, h *Handle) error {
	err := h.close(e.cfg.CloseTimeout)
	if err != nil {
		e.logger.Warn().Err(err).Str("hostname", h.Hostname).Str("session_id", h.ID.String()).Msg("Session close failed")
		e.emitEvent(h.Hostname, EventCloseFailed, "", err.Error())
		recordSessionOp(ctx, "close", "close_failed")
		return err
	}
	recordSessionOp(ctx, "close", "")
	return nil
}

// open calls the factory under the open timeout and classifies unexpected
// errors as open failures.
func (e *Engine) open(ctx context.Context, spec session.DeviceSpec) (session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OpenTimeout)
	defer cancel()

	sess, err := e.factory.Open(ctx, spec)
	if err != nil {
		var de *session.DeviceError
		if !errors.As(err, &de) {
			kind := session.ErrOpenFailed
			if errors.Is(err, context.DeadlineExceeded) {
				kind = session.ErrUnreachable
			}
			err = session.NewDeviceError(spec.Hostname, kind, err)
		}
		recordSessionOp(ctx, "open", session.KindOf(err))
		return nil, err
	}
	recordSessionOp(ctx, "open", "")
	return sess, nil
}

// hostnameError wraps a validator failure. A resolver outage stays
// unreachable so the next pass retries it.
func hostnameError(host string, err error) error {
	if errors.Is(err, session.ErrUnreachable) {
		return session.NewDeviceError(host, session.ErrUnreachable, err)
	}
	return session.NewDeviceError(host, session.ErrValidation, err)
}

// reportOpenFailure logs and emits an event for a failed open.
func (e *Engine) reportOpenFailure(host string, err error) {
	kind := session.KindOf(err)
	switch {
	case errors.Is(err, session.ErrAuthentication):
		e.logger.Warn().Err(err).Str("hostname", host).Msg("Device rejected credentials")
		e.emitEvent(host, EventAuthFailed, kind, err.Error())
	case errors.Is(err, session.ErrValidation):
		e.logger.Warn().Err(err).Str("hostname", host).Msg("Invalid hostname")
		e.emitEvent(host, EventValidationFailed, kind, err.Error())
	default:
		e.logger.Warn().Err(err).Str("hostname", host).Str("kind", kind).Msg("Session open failed")
		e.emitEvent(host, EventOpenFailed, kind, err.Error())
	}
}

// CloseAll evicts and closes every pooled session. It is used on shutdown.
func (e *Engine) CloseAll(ctx context.Context) error {
	e.mu.Lock()
	handles := e.handles
	e.handles = make(map[string]*Handle)
	e.mu.Unlock()
	recordPoolDelta(ctx, -int64(len(handles)))

	var (
		errMu sync.Mutex
		errs  []error
	)
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for _, h := range handles {
		g.Go(func() error {
			if err := e.closeHandle(ctx, h); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	e.logger.Info().Int("sessions", len(handles)).Msg("Closed all pooled sessions")
	return errors.Join(errs...)
}
