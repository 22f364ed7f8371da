// Package scheduler implements the Foreground Scheduler (the "FF Queue"):
// the component that turns durable queued Tasks into in-flight Executor
// invocations under a bounded concurrency and per-file mutual-exclusion
// policy.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/pkg/logger"
)

var log = logger.Get("FgSched")

// Executor runs a single task end to end. Implemented by
// internal/executor.Executor; declared here as an interface so the
// scheduler's tests can supply a fake.
type Executor interface {
	Run(ctx context.Context, task store.Task) error
}

// ForegroundScheduler polls the Work Store for queued tasks, enforces
// MAX_CONCURRENT_TASKS and per-file serialization, and cascades failures.
type ForegroundScheduler struct {
	db       database.Manager
	store    *store.Store
	executor Executor

	maxConcurrent int
	pollInterval  time.Duration

	mu          sync.Mutex
	activeTasks map[int64]struct{}
	activeFiles map[string]struct{}

	wg sync.WaitGroup
}

func New(db database.Manager, st *store.Store, exec Executor, maxConcurrent int, pollInterval time.Duration) *ForegroundScheduler {
	return &ForegroundScheduler{
		db:            db,
		store:         st,
		executor:      exec,
		maxConcurrent: maxConcurrent,
		pollInterval:  pollInterval,
		activeTasks:   make(map[int64]struct{}),
		activeFiles:   make(map[string]struct{}),
	}
}

// Run blocks, polling at the configured cadence, until ctx is cancelled. On
// cancellation it waits for in-flight tasks to finish before returning.
func (s *ForegroundScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	log.Emit(logger.NEW, "Foreground scheduler started (max_concurrent=%d, poll=%s)\n", s.maxConcurrent, s.pollInterval)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			log.Emit(logger.STOP, "Foreground scheduler shutting down, waiting for in-flight tasks\n")
			s.wg.Wait()
			return nil
		}
	}
}

func (s *ForegroundScheduler) tick(ctx context.Context) {
	s.mu.Lock()
	availableSlots := s.maxConcurrent - len(s.activeTasks)
	if availableSlots <= 0 {
		s.mu.Unlock()
		return
	}

	excludeFileIDs := make([]string, 0, len(s.activeFiles))
	for f := range s.activeFiles {
		excludeFileIDs = append(excludeFileIDs, f)
	}
	s.mu.Unlock()

	tasks, err := s.store.NextQueuedTasks(s.db.GetSqlxDB(), excludeFileIDs, availableSlots)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to fetch next queued tasks: %v\n", err)
		return
	}

	for _, t := range tasks {
		s.claimAndRun(ctx, t)
	}
}

// claimAndRun claims a single task for execution, enforcing per-file mutual
// exclusion against both tasks already in flight and tasks claimed earlier
// in the same tick. NextQueuedTasks only excludes files active as of the
// start of the tick, so a chain or bulk fan-out can hand back several
// queued tasks sharing one file_id in the same batch; without this check
// the second would be dispatched alongside the first, violating the
// ≤1-processing-per-file invariant.
func (s *ForegroundScheduler) claimAndRun(ctx context.Context, task *store.Task) {
	s.mu.Lock()
	if _, busy := s.activeFiles[task.FileID]; busy {
		s.mu.Unlock()
		return
	}
	s.activeTasks[task.ID] = struct{}{}
	s.activeFiles[task.FileID] = struct{}{}
	s.mu.Unlock()

	if err := s.store.MarkProcessing(s.db.GetSqlxDB(), task.ID, 0); err != nil {
		log.Emit(logger.ERROR, "Failed to mark task %d processing: %v\n", task.ID, err)
		s.release(task.ID, task.FileID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(task.ID, task.FileID)

		log.Emit(logger.INFO, "Dispatching task %d (%s) for file %s\n", task.ID, task.Operation, task.FileID)
		if err := s.executor.Run(ctx, *task); err != nil {
			log.Emit(logger.WARNING, "Task %d failed: %v\n", task.ID, err)
			if cascadeErr := s.store.MarkQueuedAsUnreachable(s.db.GetSqlxDB(), task.FileID); cascadeErr != nil {
				log.Emit(logger.ERROR, "Failed to cascade unreachable for file %s: %v\n", task.FileID, cascadeErr)
			}
			return
		}

		log.Emit(logger.SUCCESS, "Task %d completed\n", task.ID)
	}()
}

func (s *ForegroundScheduler) release(taskID int64, fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeTasks, taskID)
	delete(s.activeFiles, fileID)
}
