package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/session"
)

// Outcome is what a pass did for one device.
type Outcome string

const (
	OutcomeKept   Outcome = "kept"
	OutcomeOpened Outcome = "opened"
	OutcomeFailed Outcome = "failed"
)

// DeviceResult is the per-device part of a Summary.
type DeviceResult struct {
	Hostname string  `json:"hostname"`
	Outcome  Outcome `json:"outcome"`
	Kind     string  `json:"kind,omitempty"`
	Error    string  `json:"error,omitempty"`
	// Replaced is set when a dead session was closed before reopening.
	Replaced bool `json:"replaced,omitempty"`
	// Deferred is set when no open was attempted because of repeated
	// authentication failures.
	Deferred bool `json:"deferred,omitempty"`
	// StatusError is set when the registry status commit failed.
	StatusError string `json:"status_error,omitempty"`
}

// Summary reports one reconciliation pass.
type Summary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Skipped is set when the pass was dropped because another was running.
	Skipped bool `json:"skipped"`
	// Error is set when the registry could not be read; the pool was not
	// touched.
	Error string `json:"error,omitempty"`

	Desired     int `json:"desired"`
	Connected   int `json:"connected"`
	Kept        int `json:"kept"`
	Opened      int `json:"opened"`
	Failed      int `json:"failed"`
	Evicted     int `json:"evicted"`
	CloseErrors int `json:"close_errors"`

	Devices []DeviceResult `json:"devices,omitempty"`
}

// Duration returns how long the pass took.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// LastSummary returns the summary of the most recent completed pass.
func (e *Engine) LastSummary() (Summary, bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	if e.last == nil {
		return Summary{}, false
	}
	return *e.last, true
}

func (e *Engine) setLast(s Summary) {
	e.lastMu.Lock()
	e.last = &s
	e.lastMu.Unlock()
}

// Reconcile runs one pass. It never fails outright: per-device failures and
// registry errors are reported in the returned Summary. If a pass is already
// running the call returns immediately with Skipped set.
func (e *Engine) Reconcile(ctx context.Context) Summary {
	if !e.passMu.TryLock() {
		e.logger.Debug().Msg("Reconcile pass already running, skipping")
		recordPass(ctx, "skipped", 0)
		now := e.now()
		return Summary{StartedAt: now, FinishedAt: now, Skipped: true}
	}
	defer e.passMu.Unlock()

	passGen := e.generation.Load()
	sum := Summary{StartedAt: e.now()}

	devices, err := e.registry.ListAll(ctx)
	if err != nil {
		sum.FinishedAt = e.now()
		sum.Error = err.Error()
		e.logger.Error().Err(err).Msg("Reconcile pass aborted: registry unavailable")
		recordPass(ctx, "registry_error", sum.Duration())
		e.setLast(sum)
		return sum
	}

	results := make([]DeviceResult, len(devices))
	closeErrs := make([]int, len(devices))

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, d := range devices {
		g.Go(func() error {
			results[i], closeErrs[i] = e.reconcileDevice(ctx, d)
			return nil
		})
	}
	g.Wait()

	evicted, evictCloseErrs := e.evictOrphans(ctx, devices, passGen)

	sum.Desired = len(devices)
	sum.Devices = results
	sum.Evicted = evicted
	sum.CloseErrors = evictCloseErrs
	for i, r := range results {
		sum.CloseErrors += closeErrs[i]
		switch r.Outcome {
		case OutcomeKept:
			sum.Kept++
			sum.Connected++
		case OutcomeOpened:
			sum.Opened++
			sum.Connected++
		case OutcomeFailed:
			sum.Failed++
		}
	}
	sum.FinishedAt = e.now()

	e.logger.Info().
		Int("desired", sum.Desired).
		Int("connected", sum.Connected).
		Int("opened", sum.Opened).
		Int("failed", sum.Failed).
		Int("evicted", sum.Evicted).
		Dur("duration", sum.Duration()).
		Msg("Reconcile pass complete")
	recordPass(ctx, "completed", sum.Duration())
	e.setLast(sum)
	return sum
}

// reconcileDevice brings one device's pool entry in line with its record.
// It holds the host lock throughout and commits the registry status only
// once the outcome is known. The second result counts failed closes.
func (e *Engine) reconcileDevice(ctx context.Context, d database.Device) (DeviceResult, int) {
	host := normalize(d.Hostname)
	res := DeviceResult{Hostname: host}
	closeErrs := 0

	unlock := e.hostLocks.Lock(host)
	defer unlock()

	fail := func(err error) (DeviceResult, int) {
		e.reportOpenFailure(host, err)
		res.Outcome = OutcomeFailed
		res.Kind = session.KindOf(err)
		res.Error = err.Error()
		res.StatusError = e.commitStatus(ctx, d.Hostname, false)
		return res, closeErrs
	}

	// A pooled session is judged by its probe; only new opens go through
	// the configured validator, which may need the resolver.
	_, pooled := e.Lookup(host)
	var verr error
	if pooled {
		verr = session.CheckHostnameSyntax(host)
	} else {
		verr = e.validator.Validate(ctx, host)
	}
	if verr != nil {
		if h := e.detach(host, nil); h != nil {
			if e.closeHandle(ctx, h) != nil {
				closeErrs++
			}
		}
		return fail(hostnameError(host, verr))
	}

	if h, ok := e.Lookup(host); ok {
		pctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
		hr := h.probe(pctx, e.now())
		cancel()
		if hr.Healthy {
			recordSessionOp(ctx, "probe", "")
			res.Outcome = OutcomeKept
			res.StatusError = e.commitStatus(ctx, d.Hostname, true)
			return res, closeErrs
		}

		recordSessionOp(ctx, "probe", "session_dead")
		e.logger.Warn().Str("hostname", host).Str("reason", hr.Reason).Msg("Pooled session failed health probe")
		e.emitEvent(host, EventSessionDead, "session_dead", hr.Reason)
		if old := e.detach(host, h); old != nil {
			if e.closeHandle(ctx, old) != nil {
				closeErrs++
			}
		}
		res.Replaced = true
	}

	if wait, n := e.authGuard.blocked(host, e.now()); wait > 0 {
		res.Outcome = OutcomeFailed
		res.Kind = session.KindOf(session.ErrAuthentication)
		res.Error = fmt.Sprintf("deferred after %d consecutive authentication failures, retry in %s", n, wait.Round(time.Second))
		res.Deferred = true
		res.StatusError = e.commitStatus(ctx, d.Hostname, false)
		return res, closeErrs
	}

	creds, err := e.creds.Resolve(ctx, d)
	if err != nil {
		return fail(session.NewDeviceError(host, session.ErrCredentials, err))
	}

	sess, err := e.open(ctx, session.DeviceSpec{
		Hostname:      host,
		DeviceType:    d.DeviceType,
		Port:          d.Port,
		Credentials:   creds,
		CredentialRef: d.CredentialRef,
	})
	if err != nil {
		e.noteAuthFailure(host, err)
		return fail(err)
	}
	e.authGuard.reset(host)

	h := newHandle(host, d, sess, e.generation.Add(1), e.now())
	if old := e.install(host, h); old != nil {
		if e.closeHandle(ctx, old) != nil {
			closeErrs++
		}
	}
	e.logger.Info().Str("hostname", host).Str("session_id", h.ID.String()).Msg("Session opened")
	e.emitEvent(host, EventConnected, "", "opened by reconcile pass")

	res.Outcome = OutcomeOpened
	res.StatusError = e.commitStatus(ctx, d.Hostname, true)
	return res, closeErrs
}

// noteAuthFailure feeds authentication failures to the guard and logs when
// the device starts being deferred.
func (e *Engine) noteAuthFailure(host string, err error) {
	if !errors.Is(err, session.ErrAuthentication) {
		return
	}
	if d := e.authGuard.recordFailure(host, e.now()); d > 0 {
		e.logger.Warn().Str("hostname", host).Dur("retry_in", d).Msg("Deferring device after repeated authentication failures")
	}
}

// commitStatus writes the connection outcome to the registry and returns the
// failure message, if any.
func (e *Engine) commitStatus(ctx context.Context, hostname string, connected bool) string {
	if err := e.registry.UpdateConnectionStatus(ctx, hostname, connected, e.now()); err != nil {
		e.logger.Error().Err(err).Str("hostname", hostname).Msg("Failed to record connection status")
		return err.Error()
	}
	return ""
}

// evictOrphans removes handles whose hostname is no longer desired. The pool
// is captured first and the registry read afterwards, so any handle installed
// by AddOrUpdate before the capture has its record visible to the read. If
// the read fails the pass-start device list is used instead and handles
// installed after the pass began are left alone.
func (e *Engine) evictOrphans(ctx context.Context, passStart []database.Device, passGen uint64) (evicted, closeErrs int) {
	captured := e.capture()

	devices, err := e.registry.ListAll(ctx)
	fallback := err != nil
	if fallback {
		e.logger.Warn().Err(err).Msg("Registry re-read failed, evicting against pass-start snapshot")
		devices = passStart
	}

	desired := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		desired[normalize(d.Hostname)] = struct{}{}
	}

	for host, h := range captured {
		if _, ok := desired[host]; ok {
			continue
		}
		if fallback && h.generation > passGen {
			continue
		}

		unlock := e.hostLocks.Lock(host)
		if old := e.detach(host, h); old != nil {
			e.logger.Info().Str("hostname", host).Str("session_id", old.ID.String()).Msg("Evicting orphaned session")
			if e.closeHandle(ctx, old) != nil {
				closeErrs++
			}
			e.emitEvent(host, EventEvicted, "", "no longer in registry")
			recordSessionOp(ctx, "evict", "")
			evicted++
		}
		unlock()
	}
	return evicted, closeErrs
}
