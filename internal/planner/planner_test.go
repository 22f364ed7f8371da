package planner_test

import (
	"context"
	"testing"

	"github.com/hbomb79/theapipe/internal/planner"
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

func seedFile(t *testing.T, db *sqlx.DB, s *store.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateFile(db, &store.File{ID: id, FileName: id + ".mp4", FilePath: id + ".mp4"}))
}

func TestPlanChainReplaceReusesRootFileID(t *testing.T) {
	db := newTestDB(t)
	s := store.New()
	seedFile(t, db, s, "root-1")

	p := planner.New(s)
	tasks, err := p.PlanChain(db, "root-1", []planner.OperationRequest{
		{Operation: store.OpTrim, Mode: store.ModeReplace, Fields: map[string]any{"start": 1.0}},
		{Operation: store.OpResizeVideo, Mode: store.ModeReplace, Fields: map[string]any{"width": 1280.0}},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	for _, task := range tasks {
		assert.Equal(t, "root-1", task.FileID)
		args := task.Args.Get()
		require.NotNil(t, args)
		assert.Empty(t, args.Parent)
	}
}

func TestPlanChainAppendLinksParent(t *testing.T) {
	db := newTestDB(t)
	s := store.New()
	seedFile(t, db, s, "root-2")

	p := planner.New(s)
	tasks, err := p.PlanChain(db, "root-2", []planner.OperationRequest{
		{Operation: store.OpAddAudio, Mode: store.ModeAppend, Fields: map[string]any{"audio_file_id": "aux-1"}},
		{Operation: store.OpTrim, Mode: store.ModeReplace, Fields: map[string]any{"start": 0.0}},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	firstArgs := tasks[0].Args.Get()
	require.NotNil(t, firstArgs)
	assert.Empty(t, firstArgs.Parent, "first step in a chain has no parent")

	secondArgs := tasks[1].Args.Get()
	require.NotNil(t, secondArgs)
	assert.NotEmpty(t, secondArgs.Parent, "second step must resolve against the first step's append output")
	assert.Equal(t, "root-2", tasks[1].FileID, "the second task stays on the root file id; its input is resolved through parent")
}

func TestPlanChainRejectsEmpty(t *testing.T) {
	db := newTestDB(t)
	s := store.New()

	p := planner.New(s)
	_, err := p.PlanChain(db, "root-3", nil)
	assert.Error(t, err)
}

func TestPlanBulkCreatesOneTaskPerFile(t *testing.T) {
	db := newTestDB(t)
	s := store.New()
	seedFile(t, db, s, "bulk-1")
	seedFile(t, db, s, "bulk-2")
	seedFile(t, db, s, "bulk-3")

	p := planner.New(s)
	tasks, err := p.PlanBulk(db, []string{"bulk-1", "bulk-2", "bulk-3"}, planner.OperationRequest{
		Operation: store.OpExtractThumbnail,
		Fields:    map[string]any{"timestamp": 2.0},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	seen := map[string]bool{}
	for _, task := range tasks {
		seen[task.FileID] = true
		assert.Equal(t, store.ModeReplace, task.Args.Get().Mode, "bulk requests default to replace mode when unspecified")
	}
	assert.True(t, seen["bulk-1"] && seen["bulk-2"] && seen["bulk-3"])
}

func TestPlanSingleCreatesOneTask(t *testing.T) {
	db := newTestDB(t)
	s := store.New()
	seedFile(t, db, s, "single-1")

	p := planner.New(s)
	task, err := p.PlanSingle(db, "single-1", planner.OperationRequest{Operation: store.OpRemoveAudio})
	require.NoError(t, err)
	assert.Equal(t, "single-1", task.FileID)
	assert.Equal(t, store.OpRemoveAudio, task.Operation)
}
