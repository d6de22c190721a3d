package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
	"github.com/meridian-search/meridian-core/internal/core/ports/driving"
)

const (
	schedulerLockName = "scheduler"

	defaultSchedulerPollInterval  = 60 * time.Second
	defaultSchedulerLockTTL       = 2 * time.Minute
	defaultStaleDetectionInterval = 5
)

// Scheduler periodically triggers due sources and sweeps stale sync runs.
// In multi-instance deployments a DistributedLock (Redis, falling back to a
// Postgres advisory lock) keeps only one instance polling at a time.
type Scheduler struct {
	orchestrator driving.SyncOrchestrator
	lock         driven.DistributedLock
	logger       *slog.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	pollInterval time.Duration
	lockTTL      time.Duration
	lockRequired bool

	tickCount int
}

// SchedulerConfig holds dependencies for the Scheduler.
type SchedulerConfig struct {
	Orchestrator driving.SyncOrchestrator
	Lock         driven.DistributedLock // optional; nil runs single-instance
	Logger       *slog.Logger
	PollInterval time.Duration
	LockTTL      time.Duration
	LockRequired bool
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultSchedulerPollInterval
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultSchedulerLockTTL
	}

	lockRequired := cfg.LockRequired
	if cfg.Lock != nil && !cfg.LockRequired {
		lockRequired = true
	}

	return &Scheduler{
		orchestrator: cfg.Orchestrator,
		lock:         cfg.Lock,
		logger:       logger,
		pollInterval: pollInterval,
		lockTTL:      lockTTL,
		lockRequired: lockRequired,
	}
}

// Start begins the scheduler loop. It runs until Stop is called or ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "poll_interval", s.pollInterval)
	go s.run(ctx)
	return nil
}

// Stop gracefully stops the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one scheduling cycle: triggering due sources every cycle, and
// sweeping stale runs every defaultStaleDetectionInterval cycles so the
// sweep doesn't compete with trigger throughput on a tight poll interval.
func (s *Scheduler) tick(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, schedulerLockName, s.lockTTL)
		if err != nil {
			s.logger.Warn("failed to acquire scheduler lock", "error", err)
			if s.lockRequired {
				return
			}
		} else if !acquired {
			s.logger.Debug("scheduler lock held by another instance, skipping cycle")
			return
		} else {
			defer func() {
				if err := s.lock.Release(ctx, schedulerLockName); err != nil {
					s.logger.Warn("failed to release scheduler lock", "error", err)
				}
			}()
		}
	}

	results, err := s.orchestrator.RunDueSources(ctx)
	if err != nil {
		s.logger.Error("failed to run due sources", "error", err)
	} else if len(results) > 0 {
		s.logger.Info("triggered due sources", "count", len(results))
	}

	s.tickCount++
	if s.tickCount%defaultStaleDetectionInterval != 0 {
		return
	}

	stale, err := s.orchestrator.RunStaleDetection(ctx)
	if err != nil {
		s.logger.Error("failed to run stale detection", "error", err)
		return
	}
	if len(stale) > 0 {
		s.logger.Info("failed stale sync runs", "count", len(stale), "sync_run_ids", stale)
	}
}
