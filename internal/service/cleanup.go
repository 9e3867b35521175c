package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"magicart-access-api/internal/repository"
)

// CleanupConfig holds configuration for the ban history cleanup.
type CleanupConfig struct {
	// Retention is how long an expired ban record is kept as history.
	Retention time.Duration

	// Interval is how often the cleanup runs.
	Interval time.Duration
}

// DefaultCleanupConfig keeps expired bans for 90 days and checks hourly.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Retention: 90 * 24 * time.Hour,
		Interval:  time.Hour,
	}
}

// CleanupScheduler periodically prunes ban records that expired longer ago
// than the retention. Active records are never touched.
type CleanupScheduler struct {
	bans   repository.BanRepository
	config CleanupConfig
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
}

// NewCleanupScheduler creates a new cleanup scheduler.
func NewCleanupScheduler(bans repository.BanRepository, config CleanupConfig, now func() time.Time, logger *slog.Logger) *CleanupScheduler {
	defaults := DefaultCleanupConfig()
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CleanupScheduler{
		bans:   bans,
		config: config,
		now:    now,
		logger: logger.With(slog.String("component", "cleanup")),
		stopCh: make(chan struct{}),
	}
}

// Start begins the cleanup loop. It runs once immediately.
func (s *CleanupScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.logger.Info("cleanup scheduler started",
		slog.Duration("interval", s.config.Interval),
		slog.Duration("retention", s.config.Retention),
	)

	go s.run()
}

func (s *CleanupScheduler) run() {
	s.runCleanup()
	for {
		select {
		case <-s.ticker.C:
			s.runCleanup()
		case <-s.stopCh:
			s.logger.Info("cleanup scheduler stopped")
			return
		}
	}
}

func (s *CleanupScheduler) runCleanup() {
	deleted, err := s.RunNow(context.Background())
	if err != nil {
		s.logger.Error("ban cleanup failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		s.logger.Info("pruned expired ban records", slog.Int64("deleted", deleted))
	}
}

// Stop stops the cleanup scheduler.
func (s *CleanupScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow deletes records that expired before now minus the retention.
func (s *CleanupScheduler) RunNow(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.config.Retention)
	return s.bans.DeleteExpiredBefore(ctx, cutoff)
}
