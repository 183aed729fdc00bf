// Package scheduler decides when pipeline runs may start. It allows one run
// at a time, enforces a minimum interval between run starts, and drives the
// periodic auto-run loop.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/opsloop/internal/cache"
	"github.com/kiranshivaraju/opsloop/internal/config"
	"github.com/kiranshivaraju/opsloop/internal/metrics"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTick     = 10 * time.Second

	lastRunTTL = 24 * time.Hour
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// TooSoonError is returned when the minimum interval has not elapsed.
type TooSoonError struct {
	Wait time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("last run started recently, retry in %d seconds", e.WaitSeconds())
}

// WaitSeconds is Wait rounded up to whole seconds.
func (e *TooSoonError) WaitSeconds() int {
	secs := int(e.Wait / time.Second)
	if e.Wait%time.Second != 0 {
		secs++
	}
	return secs
}

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) models.RunResponse
}

// Status is a snapshot of the run state.
type Status struct {
	Running         bool       `json:"running"`
	ActiveRuns      int        `json:"active_runs"`
	LastRunStart    *time.Time `json:"last_run_start,omitempty"`
	IntervalSeconds float64    `json:"run_interval_seconds"`
	AutoRun         bool       `json:"auto_run_enabled"`
}

// Scheduler owns the run state. TryBeginRun and EndRun are its only
// mutation points for the running flag and last start time.
type Scheduler struct {
	mu        sync.Mutex
	active    int
	lastStart time.Time
	autoRun   bool
	last      *models.RunResponse

	runner   Runner
	cache    cache.Cache
	interval time.Duration
	tick     time.Duration
	now      func() time.Time
	logger   *slog.Logger

	background sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithCache stores the last run response in c so it survives restarts
// and is shared between replicas.
func WithCache(c cache.Cache) Option {
	return func(s *Scheduler) { s.cache = c }
}

// New creates a Scheduler for runner.
func New(runner Runner, cfg config.SchedulerConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: cfg.Interval,
		tick:     cfg.Tick,
		autoRun:  cfg.AutoRun,
		now:      time.Now,
		logger:   slog.Default(),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.tick <= 0 {
		s.tick = DefaultTick
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// TryBeginRun marks a run as started. Without force it fails with
// ErrRunInProgress or *TooSoonError. Forced runs may overlap an active run.
func (s *Scheduler) TryBeginRun(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !force {
		if s.active > 0 {
			return ErrRunInProgress
		}
		if !s.lastStart.IsZero() {
			if elapsed := now.Sub(s.lastStart); elapsed < s.interval {
				return &TooSoonError{Wait: s.interval - elapsed}
			}
		}
	} else if s.active > 0 {
		s.logger.Warn("forced run overlaps an active run", "active_runs", s.active)
	}

	s.active++
	s.lastStart = now
	return nil
}

// EndRun marks a run as finished.
func (s *Scheduler) EndRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
}

// RunOnce runs the pipeline synchronously. The run is detached from ctx
// cancellation so it always reaches its report.
func (s *Scheduler) RunOnce(ctx context.Context, force bool) (models.RunResponse, error) {
	if err := s.TryBeginRun(force); err != nil {
		s.rejected(err)
		return models.RunResponse{}, err
	}
	defer s.EndRun()
	return s.execute(context.WithoutCancel(ctx)), nil
}

// Trigger starts a run in the background and returns once it has begun.
func (s *Scheduler) Trigger(ctx context.Context, force bool) error {
	if err := s.TryBeginRun(force); err != nil {
		s.rejected(err)
		return err
	}
	runCtx := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer s.EndRun()
		s.execute(runCtx)
	}()
	return nil
}

// Wait blocks until background runs started by Trigger have finished.
func (s *Scheduler) Wait() {
	s.background.Wait()
}

// Loop attempts a run every tick while auto-run is enabled. Runs happen on
// the loop goroutine. Loop returns when ctx is cancelled.
func (s *Scheduler) Loop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval, "tick", s.tick)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tryAutoRun(ctx)
		}
	}
}

func (s *Scheduler) tryAutoRun(ctx context.Context) {
	if !s.AutoRun() {
		return
	}
	if err := s.TryBeginRun(false); err != nil {
		// not yet due, or a triggered run is active
		return
	}
	defer s.EndRun()
	s.logger.Info("auto-run starting")
	s.execute(context.WithoutCancel(ctx))
}

func (s *Scheduler) execute(ctx context.Context) models.RunResponse {
	resp := s.runner.Run(ctx)
	s.storeLast(ctx, resp)
	return resp
}

func (s *Scheduler) rejected(err error) {
	var tooSoon *TooSoonError
	switch {
	case errors.Is(err, ErrRunInProgress):
		metrics.RunRejected("in_progress")
	case errors.As(err, &tooSoon):
		metrics.RunRejected("too_soon")
	}
	s.logger.Info("run rejected", "reason", err.Error())
}

func (s *Scheduler) storeLast(ctx context.Context, resp models.RunResponse) {
	s.mu.Lock()
	s.last = &resp
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encoding run response", "error", err)
		return
	}
	if err := s.cache.Set(ctx, cache.LastRunKey(), data, lastRunTTL); err != nil {
		s.logger.Warn("caching run response failed", "error", err)
	}
}

// LastResponse returns the most recent run response, preferring the cache.
func (s *Scheduler) LastResponse(ctx context.Context) (models.RunResponse, bool) {
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, cache.LastRunKey())
		if err != nil {
			s.logger.Warn("reading cached run response failed", "error", err)
		} else if ok {
			var resp models.RunResponse
			if err := json.Unmarshal(data, &resp); err == nil {
				return resp, true
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return models.RunResponse{}, false
	}
	return *s.last, true
}

// SetAutoRun enables or disables the background loop's runs.
func (s *Scheduler) SetAutoRun(enabled bool) {
	s.mu.Lock()
	s.autoRun = enabled
	s.mu.Unlock()
	s.logger.Info("auto-run updated", "enabled", enabled)
}

func (s *Scheduler) AutoRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoRun
}

// Status returns a snapshot of the run state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:         s.active > 0,
		ActiveRuns:      s.active,
		IntervalSeconds: s.interval.Seconds(),
		AutoRun:         s.autoRun,
	}
	if !s.lastStart.IsZero() {
		t := s.lastStart
		st.LastRunStart = &t
	}
	return st
}
