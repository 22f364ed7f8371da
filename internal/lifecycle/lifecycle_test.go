package lifecycle_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hbomb79/theapipe/internal/bgqueue"
	"github.com/hbomb79/theapipe/internal/config"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/lifecycle"
	"github.com/hbomb79/theapipe/internal/scheduler"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/internal/testsupport"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopExecutor struct{}

func (noopExecutor) Run(ctx context.Context, task store.Task) error { return nil }

// fakeManager satisfies database.Manager for tests that already have a
// provisioned *sqlx.DB and never need Connect/WrapTx.
type fakeManager struct{ db *sqlx.DB }

func (m fakeManager) Connect(config.DatabaseConfig) error { return nil }
func (m fakeManager) GetSqlxDB() *sqlx.DB                 { return m.db }
func (m fakeManager) WrapTx(f func(tx *sqlx.Tx) error) error {
	return database.WrapTx(m.db, f)
}

func newManager(t *testing.T) database.Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres-backed test in -short mode")
	}

	db, teardown := testsupport.RequirePostgres(context.Background(), t)
	t.Cleanup(teardown)
	testsupport.Truncate(t, db)

	return fakeManager{db: db}
}

func TestStartResetsWorkingDirectories(t *testing.T) {
	mgr := newManager(t)
	s := store.New()

	tempDir := filepath.Join(t.TempDir(), "work")
	metaDir := filepath.Join(t.TempDir(), "meta")
	require.NoError(t, os.MkdirAll(tempDir, 0o755))
	stale := filepath.Join(tempDir, "stale.bin")
	require.NoError(t, os.WriteFile(stale, []byte("leftover"), 0o644))

	bg := bgqueue.New(1, 10*time.Millisecond)
	fg := scheduler.New(mgr, s, noopExecutor{}, 1, 10*time.Millisecond)
	c := lifecycle.New(mgr, s, tempDir, metaDir, fg, bg)

	require.NoError(t, c.Start(context.Background()))
	defer bg.Stop()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "expected stale temp file to be wiped on startup")

	info, err := os.Stat(metaDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStartRestoresOrphanedProcessingTasks(t *testing.T) {
	mgr := newManager(t)
	s := store.New()
	db := mgr.GetSqlxDB()

	require.NoError(t, s.CreateFile(db, &store.File{ID: "orphan-file", FileName: "a.mp4", FilePath: "a.mp4"}))
	taskID, err := s.CreateTask(db, &store.Task{Code: "zzz", FileID: "orphan-file", Operation: store.OpTranscode, Args: database.NewJSONColumn(store.TaskArgs{Mode: store.ModeReplace})})
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessing(db, taskID, 42))

	tempDir := filepath.Join(t.TempDir(), "work")
	metaDir := filepath.Join(t.TempDir(), "meta")

	bg := bgqueue.New(1, 10*time.Millisecond)
	fg := scheduler.New(mgr, s, noopExecutor{}, 1, 10*time.Millisecond)
	c := lifecycle.New(mgr, s, tempDir, metaDir, fg, bg)

	require.NoError(t, c.Start(context.Background()))
	defer bg.Stop()

	task, err := s.GetTask(db, taskID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, task.Status)
	assert.Nil(t, task.PID)
}
