// Package bgqueue implements the Background Scheduler (the "BG Queue"): an
// in-memory FIFO of deferred closures - primarily cleanup and remote
// deletions - executed under its own concurrency cap so the foreground
// Executor never blocks on them.
package bgqueue

import (
	"sync"
	"time"

	"github.com/hbomb79/theapipe/pkg/logger"
	"github.com/hbomb79/theapipe/pkg/worker"
)

var log = logger.Get("BgSched")

// Job is one unit of best-effort background work. Errors are logged and
// dropped - never retried.
type Job func() error

// BackgroundScheduler wraps a pkg/worker.WorkerPool whose workers pull
// closures off a shared FIFO.
type BackgroundScheduler struct {
	pool *worker.WorkerPool

	mu      sync.Mutex
	pending []Job
}

// New constructs a BackgroundScheduler with the given worker concurrency
// and idle-poll cadence.
func New(concurrency int, pollInterval time.Duration) *BackgroundScheduler {
	s := &BackgroundScheduler{pool: worker.NewWorkerPool()}

	for i := 0; i < concurrency; i++ {
		wakeup := make(worker.WorkerWakeupChan)
		w := worker.NewWorker(
			"bg-cleanup",
			&drainTask{sched: s, pollInterval: pollInterval},
			0,
			wakeup,
		)
		s.pool.PushWorker(w) //nolint:errcheck
	}

	return s
}

// Start launches the worker pool; it does not block.
func (s *BackgroundScheduler) Start() error {
	return s.pool.Start()
}

// Stop closes all workers, waiting for in-flight jobs to finish. Any
// remaining pending jobs are dropped - durable state has already been
// committed by the Executor, so this is safe.
func (s *BackgroundScheduler) Stop() {
	s.pool.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.pending); n > 0 {
		log.Emit(logger.WARNING, "Dropping %d pending background job(s) on shutdown\n", n)
	}
	s.pending = nil
}

// Enqueue appends job to the FIFO and calls WakeupWorkers. That call only
// signals workers whose status is Sleeping, and drainTask workers report
// Working while they idle-poll, so a job is picked up on a worker's next
// poll tick rather than immediately.
func (s *BackgroundScheduler) Enqueue(job Job) {
	s.mu.Lock()
	s.pending = append(s.pending, job)
	s.mu.Unlock()

	if err := s.pool.WakeupWorkers(); err != nil {
		log.Emit(logger.DEBUG, "Wakeup skipped (pool not yet started): %v\n", err)
	}
}

func (s *BackgroundScheduler) pop() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil, false
	}

	job := s.pending[0]
	s.pending = s.pending[1:]
	return job, true
}

// drainTask is the WorkerTaskMeta every background worker runs: drain the
// FIFO, then idle-poll (matching worker/pollingWorker.go's ticker shape)
// until the next tick, or return once the wakeup channel is closed on
// shutdown.
type drainTask struct {
	sched        *BackgroundScheduler
	pollInterval time.Duration
}

func (t *drainTask) Execute(w worker.Worker) error {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		for {
			job, ok := t.sched.pop()
			if !ok {
				break
			}
			if err := job(); err != nil {
				log.Emit(logger.WARNING, "Background job failed (dropped): %v\n", err)
			}
		}

		select {
		case <-ticker.C:
			continue
		case _, alive := <-w.WakeupChan():
			if !alive {
				return nil
			}
			continue
		}
	}
}
