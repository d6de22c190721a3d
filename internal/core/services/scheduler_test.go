package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/ports/driving"
)

type mockOrchestratorForScheduler struct {
	mu                  sync.Mutex
	dueCalls            int
	staleCalls          int
	dueResult           []*driving.TriggerResult
	dueErr              error
	staleResult         []string
	staleErr            error
	driving.SyncOrchestrator
}

func (m *mockOrchestratorForScheduler) RunDueSources(ctx context.Context) ([]*driving.TriggerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dueCalls++
	return m.dueResult, m.dueErr
}

func (m *mockOrchestratorForScheduler) RunStaleDetection(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleCalls++
	return m.staleResult, m.staleErr
}

type mockLock struct {
	mu       sync.Mutex
	held     map[string]bool
	acquireErr error
	alwaysFail bool
}

func newMockLock() *mockLock {
	return &mockLock{held: make(map[string]bool)}
}

func (m *mockLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return false, m.acquireErr
	}
	if m.alwaysFail || m.held[name] {
		return false, nil
	}
	m.held[name] = true
	return true, nil
}

func (m *mockLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, name)
	return nil
}

func (m *mockLock) Extend(ctx context.Context, name string, ttl time.Duration) error { return nil }
func (m *mockLock) Ping(ctx context.Context) error                                   { return nil }

func TestScheduler_Tick_TriggersDueSources(t *testing.T) {
	orchestrator := &mockOrchestratorForScheduler{
		dueResult: []*driving.TriggerResult{{SyncRunID: "run-1"}},
	}
	sched := NewScheduler(SchedulerConfig{Orchestrator: orchestrator})

	sched.tick(context.Background())

	if orchestrator.dueCalls != 1 {
		t.Errorf("expected RunDueSources to be called once, got %d", orchestrator.dueCalls)
	}
}

func TestScheduler_Tick_StaleDetectionEveryFifthTick(t *testing.T) {
	orchestrator := &mockOrchestratorForScheduler{}
	sched := NewScheduler(SchedulerConfig{Orchestrator: orchestrator})

	for i := 0; i < defaultStaleDetectionInterval; i++ {
		sched.tick(context.Background())
	}

	if orchestrator.staleCalls != 1 {
		t.Errorf("expected stale detection to run once after %d ticks, got %d calls", defaultStaleDetectionInterval, orchestrator.staleCalls)
	}
	if orchestrator.dueCalls != defaultStaleDetectionInterval {
		t.Errorf("expected due-sources to run every tick, got %d calls for %d ticks", orchestrator.dueCalls, defaultStaleDetectionInterval)
	}
}

func TestScheduler_Tick_SkipsWhenLockHeldElsewhere(t *testing.T) {
	orchestrator := &mockOrchestratorForScheduler{}
	lock := newMockLock()
	lock.alwaysFail = true
	sched := NewScheduler(SchedulerConfig{Orchestrator: orchestrator, Lock: lock})

	sched.tick(context.Background())

	if orchestrator.dueCalls != 0 {
		t.Errorf("expected no work when lock is held elsewhere, got %d due calls", orchestrator.dueCalls)
	}
}

func TestScheduler_Tick_RunsWhenLockAcquired(t *testing.T) {
	orchestrator := &mockOrchestratorForScheduler{}
	lock := newMockLock()
	sched := NewScheduler(SchedulerConfig{Orchestrator: orchestrator, Lock: lock})

	sched.tick(context.Background())

	if orchestrator.dueCalls != 1 {
		t.Errorf("expected work to run once lock is acquired, got %d due calls", orchestrator.dueCalls)
	}
	if lock.held["scheduler"] {
		t.Error("expected lock to be released after the tick completes")
	}
}

func TestScheduler_Tick_LockErrorSkipsWhenRequired(t *testing.T) {
	orchestrator := &mockOrchestratorForScheduler{}
	lock := newMockLock()
	lock.acquireErr = errors.New("redis unavailable")
	sched := NewScheduler(SchedulerConfig{Orchestrator: orchestrator, Lock: lock, LockRequired: true})

	sched.tick(context.Background())

	if orchestrator.dueCalls != 0 {
		t.Errorf("expected no work when lock acquisition errors and lock is required, got %d due calls", orchestrator.dueCalls)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	orchestrator := &mockOrchestratorForScheduler{}
	sched := NewScheduler(SchedulerConfig{Orchestrator: orchestrator, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	sched.Stop()

	orchestrator.mu.Lock()
	calls := orchestrator.dueCalls
	orchestrator.mu.Unlock()
	if calls == 0 {
		t.Error("expected at least one tick to have run")
	}
}
