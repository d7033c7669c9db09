package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/session"
)

// HealthState is the last known health of a pooled session.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthClosed    HealthState = "closed"
)

// ErrCloseTimeout is returned when a session does not close in time. The close
// keeps running in the background.
var ErrCloseTimeout = errors.New("session close timed out")

// Handle is one pooled session plus the metadata the engine tracks for it.
// All use of the underlying session goes through the handle, which
// serializes it.
type Handle struct {
	ID        uuid.UUID
	Hostname  string
	Device    database.Device
	CreatedAt time.Time

	generation uint64

	mu              sync.Mutex // held while the session is in use
	sess            session.Session
	health          HealthState
	lastHealthCheck time.Time
	lastLatency     time.Duration

	closing   atomic.Bool
	closeOnce sync.Once
	closeDone chan struct{}
	closeErr  error
}

// HandleInfo is a point-in-time view of a Handle.
type HandleInfo struct {
	SessionID       string      `json:"session_id"`
	Hostname        string      `json:"hostname"`
	DeviceType      string      `json:"device_type"`
	CreatedAt       time.Time   `json:"created_at"`
	LastHealthCheck *time.Time  `json:"last_health_check,omitempty"`
	Health          HealthState `json:"health"`
	LatencyMillis   int64       `json:"latency_ms"`
}

func newHandle(hostname string, dev database.Device, sess session.Session, generation uint64, now time.Time) *Handle {
	// Sealed secrets stay in the registry.
	dev.Password, dev.Secret = "", ""
	return &Handle{
		ID:         uuid.New(),
		Hostname:   hostname,
		Device:     dev,
		CreatedAt:  now,
		generation: generation,
		sess:       sess,
		health:     HealthUnknown,
		closeDone:  make(chan struct{}),
	}
}

// Generation orders handles by installation time.
func (h *Handle) Generation() uint64 { return h.generation }

// Info returns a snapshot of the handle's metadata. It does not wait for an
// in-flight command.
func (h *Handle) Info() HandleInfo {
	info := HandleInfo{
		SessionID:  h.ID.String(),
		Hostname:   h.Hostname,
		DeviceType: h.Device.DeviceType,
		CreatedAt:  h.CreatedAt,
		Health:     HealthUnknown,
	}
	if h.closing.Load() {
		info.Health = HealthClosed
	}
	if h.mu.TryLock() {
		if info.Health != HealthClosed {
			info.Health = h.health
		}
		if !h.lastHealthCheck.IsZero() {
			t := h.lastHealthCheck
			info.LastHealthCheck = &t
		}
		info.LatencyMillis = h.lastLatency.Milliseconds()
		h.mu.Unlock()
	}
	return info
}

// probeBusyReason marks a probe that found a command in flight. The session
// is in use, so it is reported healthy without touching it.
const probeBusyReason = "busy"

// probe runs a health probe and records its outcome. It waits for a running
// command only until ctx ends.
func (h *Handle) probe(ctx context.Context, now time.Time) session.HealthResult {
	if !h.lockCtx(ctx) {
		return session.HealthResult{Healthy: true, Reason: probeBusyReason}
	}
	defer h.mu.Unlock()

	if h.closing.Load() {
		return session.Unhealthy("handle closed", 0)
	}
	res := h.sess.HealthProbe(ctx)
	h.lastHealthCheck = now
	h.lastLatency = res.Latency
	if res.Healthy {
		h.health = HealthHealthy
	} else {
		h.health = HealthUnhealthy
	}
	return res
}

// lockCtx acquires h.mu, polling so that ctx can cut the wait short.
func (h *Handle) lockCtx(ctx context.Context) bool {
	if h.mu.TryLock() {
		return true
	}
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			if h.mu.TryLock() {
				return true
			}
		}
	}
}

// Run executes command on the session, entering privileged mode first when
// enable is set.
func (h *Handle) Run(ctx context.Context, command string, enable bool) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing.Load() {
		return "", session.NewDeviceError(h.Hostname, session.ErrSessionDead, errors.New("handle closed"))
	}
	if enable {
		if err := h.sess.Enable(ctx); err != nil {
			return "", err
		}
	}
	return h.sess.RunCommand(ctx, command)
}

// close closes the session exactly once, waiting at most timeout. A close
// waits for any in-flight command to finish first.
func (h *Handle) close(timeout time.Duration) error {
	h.closing.Store(true)
	h.closeOnce.Do(func() {
		go func() {
			h.mu.Lock()
			h.closeErr = h.sess.Close()
			h.health = HealthClosed
			h.mu.Unlock()
			close(h.closeDone)
		}()
	})

	if timeout <= 0 {
		<-h.closeDone
		return h.closeErr
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.closeDone:
		return h.closeErr
	case <-timer.C:
		return ErrCloseTimeout
	}
}
