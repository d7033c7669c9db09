// Package scheduler triggers periodic reconciliation passes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/gluk-w/devsync/internal/pool"
)

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context) pool.Summary
}

// Scheduler runs a pass at start and then every interval. A tick that fires
// while the previous pass is still running is skipped.
type Scheduler struct {
	cron     *cron.Cron
	r        Reconciler
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a stopped Scheduler.
func New(r Reconciler, interval time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("reconcile interval %s is below one second", interval)
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		r:        r,
		interval: interval,
		logger:   logger,
	}
	if _, err := s.cron.AddFunc("@every "+interval.String(), s.run); err != nil {
		return nil, fmt.Errorf("schedule reconcile: %w", err)
	}
	return s, nil
}

// Start runs the startup pass in the background and starts the ticker.
// Passes use a context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
	s.cron.Start()
	s.logger.Info().Dur("interval", s.interval).Msg("Reconcile scheduler started")
}

// Stop stops the ticker, cancels any running pass and waits for it to
// return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-done.Done()
	s.wg.Wait()
	s.logger.Info().Msg("Reconcile scheduler stopped")
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	sum := s.r.Reconcile(ctx)
	if sum.Skipped {
		s.logger.Debug().Msg("Scheduled pass skipped, another pass is running")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
