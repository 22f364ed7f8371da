package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hbomb79/theapipe/internal/config"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/scheduler"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/internal/testsupport"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres-backed test in -short mode")
	}
	db, teardown := testsupport.RequirePostgres(context.Background(), t)
	t.Cleanup(teardown)
	testsupport.Truncate(t, db)
	return db
}

// blockingExecutor records every run and blocks on a gate channel, letting
// tests assert on concurrency/exclusion behaviour mid-flight.
type blockingExecutor struct {
	gate chan struct{}

	mu   sync.Mutex
	runs []store.Task

	fail atomic.Bool
}

func (e *blockingExecutor) Run(ctx context.Context, task store.Task) error {
	e.mu.Lock()
	e.runs = append(e.runs, task)
	e.mu.Unlock()

	<-e.gate

	if e.fail.Load() {
		return assert.AnError
	}
	return nil
}

func (e *blockingExecutor) runCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

func seedQueuedTask(t *testing.T, db *sqlx.DB, s *store.Store, fileID string, code string) int64 {
	t.Helper()
	if _, err := s.GetFile(db, fileID); err != nil {
		require.NoError(t, s.CreateFile(db, &store.File{ID: fileID, FileName: fileID + ".mp4", FilePath: fileID + ".mp4"}))
	}
	id, err := s.CreateTask(db, &store.Task{
		Code: code, FileID: fileID, Operation: store.OpTranscode,
		Args: database.NewJSONColumn(store.TaskArgs{Mode: store.ModeReplace, Fields: map[string]any{"video_format": "mp4"}}),
	})
	require.NoError(t, err)
	return id
}

func TestSchedulerRespectsMaxConcurrency(t *testing.T) {
	db := newTestDB(t)
	s := store.New()

	seedQueuedTask(t, db, s, "file-a", "aaa1")
	seedQueuedTask(t, db, s, "file-b", "bbb1")
	seedQueuedTask(t, db, s, "file-c", "ccc1")

	exec := &blockingExecutor{gate: make(chan struct{})}
	fg := scheduler.New(directManager{db}, s, exec, 2, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fg.Run(ctx)

	require.Eventually(t, func() bool { return exec.runCount() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, exec.runCount(), "a third task must not dispatch while two slots are already in flight")

	close(exec.gate)
}

func TestSchedulerCascadesUnreachableOnFailure(t *testing.T) {
	db := newTestDB(t)
	s := store.New()

	seedQueuedTask(t, db, s, "file-x", "xxx1")
	secondID := seedQueuedTask(t, db, s, "file-x", "xxx2")

	exec := &blockingExecutor{gate: make(chan struct{})}
	exec.fail.Store(true)
	close(exec.gate)

	fg := scheduler.New(directManager{db}, s, exec, 4, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fg.Run(ctx)

	require.Eventually(t, func() bool {
		task, err := s.GetTask(db, secondID)
		return err == nil && task.Status == store.StatusUnreachable
	}, time.Second, 5*time.Millisecond, "sibling queued task on the same file must cascade to unreachable")
}

type directManager struct{ db *sqlx.DB }

func (m directManager) Connect(config.DatabaseConfig) error { return nil }
func (m directManager) GetSqlxDB() *sqlx.DB                 { return m.db }
func (m directManager) WrapTx(f func(tx *sqlx.Tx) error) error {
	return database.WrapTx(m.db, f)
}
