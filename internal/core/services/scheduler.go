package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// Scheduler runs sync cycles on a fixed interval and on demand.
// It is a pure core service with no external control API beyond Trigger.
type Scheduler struct {
	interval time.Duration
	syncOrch driving.SyncOrchestrator

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	done     chan struct{}
	triggers chan string
	watchers map[string]driven.Watcher
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler that runs a cycle every interval.
func NewScheduler(interval time.Duration, syncOrch driving.SyncOrchestrator) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		interval: interval,
		syncOrch: syncOrch,
		triggers: make(chan string, 64),
		watchers: make(map[string]driven.Watcher),
	}
}

// AddWatcher turns a source's change notifications into on-demand syncs.
// Must be called before Start.
func (s *Scheduler) AddWatcher(source string, w driven.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers[source] = w
}

// Trigger requests an on-demand sync. Requests are dropped when the
// queue is full.
func (s *Scheduler) Trigger(source string) {
	select {
	case s.triggers <- source:
	default:
		logger.Debug("scheduler: trigger queue full, dropping request for %s", source)
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called
// or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	stop := make(chan struct{})
	s.stopCh = stop
	s.done = make(chan struct{})
	watchers := make(map[string]driven.Watcher, len(s.watchers))
	for name, w := range s.watchers {
		watchers[name] = w
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	for name, w := range watchers {
		s.watch(ctx, name, w)
	}

	err := s.run(ctx, stop)

	// Watchers close their channels once ctx is done.
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	close(s.done)
	s.mu.Unlock()
	return err
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running || s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.stopCh = nil
	done := s.done
	s.mu.Unlock()

	// Wait for the loop and running tasks to complete
	<-done
	return nil
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}) error {
	// Run a cycle immediately on startup
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		case source := <-s.triggers:
			s.runSource(ctx, source)
		}
	}
}

// runCycle starts a cycle in the background. Sources still syncing from
// a previous cycle are left out of it.
func (s *Scheduler) runCycle(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		results, err := s.syncOrch.RunCycle(ctx)
		if err != nil {
			logger.Warn("scheduler: cycle failed: %v", err)
			return
		}
		failed := 0
		for _, r := range results {
			if !r.Succeeded() {
				failed++
			}
		}
		logger.Info("scheduler: cycle synced %d sources, %d not successful", len(results), failed)
	}()
}

// runSource runs one on-demand sync.
func (s *Scheduler) runSource(ctx context.Context, source string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.syncOrch.SyncSource(ctx, source); err != nil {
			logger.Debug("scheduler: on-demand sync of %s: %v", source, err)
		}
	}()
}

// watch forwards change notifications into the trigger queue.
func (s *Scheduler) watch(ctx context.Context, source string, w driven.Watcher) {
	events, err := w.Watch(ctx)
	if err != nil {
		logger.Warn("scheduler: watch %s: %v", source, err)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for range events {
			s.Trigger(source)
		}
	}()
}
