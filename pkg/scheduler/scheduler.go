// Package scheduler drives periodic catalog syncs and turns each successful
// sync into install requests for the plugins that should auto-update.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
)

const (
	// DefaultInterval is the production sync cadence.
	DefaultInterval = 15 * time.Minute
	// DevelopmentInterval is the sync cadence in development.
	DevelopmentInterval = 30 * time.Second
	// DefaultStartupDelay postpones the first tick after Start.
	DefaultStartupDelay = 30 * time.Second
)

// Syncer refreshes the catalog from the registry.
type Syncer interface {
	Sync(ctx context.Context) ([]catalog.PluginRecord, error)
}

// Finder computes the update-eligible set.
type Finder interface {
	FindUpdatable(ctx context.Context) ([]catalog.PluginRecord, error)
}

// Notifier delivers one install request to the lifecycle manager.
type Notifier interface {
	RequestInstall(ctx context.Context, rec catalog.PluginRecord) error
}

// Config controls the scheduler cadence.
type Config struct {
	Interval     time.Duration // Time between ticks. Default 15m.
	StartupDelay time.Duration // Time before the first tick. Default 30s.
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		StartupDelay: DefaultStartupDelay,
	}
}

// TickResult summarises one tick.
type TickResult struct {
	Synced   int
	Eligible []string
	Notified int
	Failed   int
	Duration time.Duration
}

// Scheduler runs ticks one at a time on its own goroutine. A tick that
// overruns the interval causes the missed fire to be dropped.
type Scheduler struct {
	syncer   Syncer
	finder   Finder
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. Non-positive durations fall back to the defaults.
func New(syncer Syncer, finder Finder, notifier Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = DefaultStartupDelay
	}
	return &Scheduler{
		syncer:   syncer,
		finder:   finder,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start begins the tick loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("update scheduler starting",
		"interval", s.cfg.Interval.String(),
		"startupDelay", s.cfg.StartupDelay.String())

	go s.loop(ctx, s.done)
}

// Stop cancels future ticks and waits for an in-flight tick to finish.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("update scheduler stopped")
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.cfg.StartupDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx)
		}
	}
}

// tick runs one tick to completion even if the scheduler is stopped midway.
func (s *Scheduler) tick(ctx context.Context) {
	_, _ = s.RunOnce(context.WithoutCancel(ctx))
}

// RunOnce performs one tick: sync, compute the eligible set, and emit one
// install request per eligible plugin in order. A sync failure ends the
// tick without notifications. Notification failures are logged and do not
// stop the remaining notifications.
func (s *Scheduler) RunOnce(ctx context.Context) (*TickResult, error) {
	start := time.Now()
	result := &TickResult{}

	synced, err := s.syncer.Sync(ctx)
	if err != nil {
		result.Duration = time.Since(start)
		s.logger.Error("scheduled sync failed", "error", err)
		return result, err
	}
	result.Synced = len(synced)

	eligible, err := s.finder.FindUpdatable(ctx)
	if err != nil {
		if errors.Is(err, catalog.ErrPersistence) {
			result.Duration = time.Since(start)
			s.logger.Error("failed to compute update-eligible plugins", "error", err)
			return result, err
		}
		s.logger.Warn("plugins skipped for malformed versions", "error", err)
	}

	for _, rec := range eligible {
		result.Eligible = append(result.Eligible, rec.ID)
		if err := s.notifier.RequestInstall(ctx, rec); err != nil {
			result.Failed++
			s.logger.Error("install request failed", "id", rec.ID, "version", rec.Version, "error", err)
			continue
		}
		result.Notified++
	}

	result.Duration = time.Since(start)
	s.logger.Info("update tick complete",
		"synced", result.Synced,
		"eligible", len(result.Eligible),
		"notified", result.Notified,
		"failed", result.Failed,
		"duration", result.Duration.String())
	return result, nil
}
