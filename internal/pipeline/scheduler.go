package pipeline

import (
	"context"
	"sync"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Executor runs a single decision run to completion.
type Executor interface {
	Execute(ctx context.Context, runID string, snap *domain.Snapshot) error
}

// Scheduler runs submitted decision runs in the background, at most
// maxConcurrent at a time, and keeps a cancel handle per active run.
type Scheduler struct {
	exec   Executor
	sem    *semaphore.Weighted
	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(exec Executor, maxConcurrent int64) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		exec:   exec,
		sem:    semaphore.NewWeighted(maxConcurrent),
		base:   base,
		stop:   stop,
		active: make(map[string]context.CancelFunc),
	}
}

// Submit enqueues a run and returns immediately.
func (s *Scheduler) Submit(runID string, snap *domain.Snapshot) {
	ctx, cancel := context.WithCancel(s.base)

	s.mu.Lock()
	s.active[runID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(runID)

		// A run cancelled while queued still executes so it is recorded as failed.
		if err := s.sem.Acquire(ctx, 1); err == nil {
			defer s.sem.Release(1)
		}
		if err := s.exec.Execute(ctx, runID, snap); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("decision run ended with error")
		}
	}()
}

// Cancel signals an active run. It reports false when the run is not active.
func (s *Scheduler) Cancel(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active reports whether a run is queued or executing.
func (s *Scheduler) Active(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	return ok
}

// Wait blocks until every submitted run has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all runs and waits for them until ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.active[runID]; ok {
		cancel()
		delete(s.active, runID)
	}
}
