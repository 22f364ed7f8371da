package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hbomb79/theapipe/internal/blobstore"
	"github.com/hbomb79/theapipe/internal/config"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/httpapi"
	"github.com/hbomb79/theapipe/internal/planner"
	"github.com/hbomb79/theapipe/internal/probe"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/internal/testsupport"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct{ db *sqlx.DB }

func (m fakeManager) Connect(config.DatabaseConfig) error { return nil }
func (m fakeManager) GetSqlxDB() *sqlx.DB                 { return m.db }
func (m fakeManager) WrapTx(f func(tx *sqlx.Tx) error) error {
	return database.WrapTx(m.db, f)
}

// newTestServer wires a Server against a real Postgres-backed store but a
// nil Blob Store/Prober - safe here since none of the routes under test
// touch blob storage or metadata probing.
func newTestServer(t *testing.T) (*httpapi.Server, *sqlx.DB, *store.Store) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres-backed test in -short mode")
	}

	db, teardown := testsupport.RequirePostgres(context.Background(), t)
	t.Cleanup(teardown)
	testsupport.Truncate(t, db)

	mgr := fakeManager{db: db}
	st := store.New()
	pl := planner.New(st)

	srv := httpapi.New(config.HTTPConfig{UploadMaxByte: 1 << 20}, mgr, st, (*blobstore.Store)(nil), (*probe.Prober)(nil), pl)
	return srv, db, st
}

func do(t *testing.T, srv *httpapi.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func seedFile(t *testing.T, db *sqlx.DB, s *store.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateFile(db, &store.File{ID: id, FileName: id + ".mp4", FilePath: id + ".mp4"}))
}

func TestHandleGetFileNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/files/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetFileReturnsFile(t *testing.T) {
	srv, db, st := newTestServer(t)
	seedFile(t, db, st, "file-1")

	rec := do(t, srv, http.MethodGet, "/files/file-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got store.File
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "file-1", got.ID)
}

func TestHandleListFiles(t *testing.T) {
	srv, db, st := newTestServer(t)
	seedFile(t, db, st, "file-a")
	seedFile(t, db, st, "file-b")

	rec := do(t, srv, http.MethodGet, "/files", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*store.File
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestHandleStatusUnknownFile(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/status/ghost", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not-found")
}

func TestHandleStatusCompletedWhenNoTasks(t *testing.T) {
	srv, db, st := newTestServer(t)
	seedFile(t, db, st, "file-1")

	rec := do(t, srv, http.MethodGet, "/status/file-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "completed")
}

func TestHandleTranscodeCreatesQueuedTask(t *testing.T) {
	srv, db, st := newTestServer(t)
	seedFile(t, db, st, "file-1")

	rec := do(t, srv, http.MethodPost, "/transcode", `{"file_id":"file-1","video_format":"mp4"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tasks, err := st.GetTasksForFile(db, "file-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.OpTranscode, tasks[0].Operation)
	assert.Equal(t, store.StatusQueued, tasks[0].Status)
}

func TestHandleTranscodeRejectsInvalidVideoFormat(t *testing.T) {
	srv, db, st := newTestServer(t)
	seedFile(t, db, st, "file-1")

	rec := do(t, srv, http.MethodPost, "/transcode", `{"file_id":"file-1","video_format":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTranscodeRejectsMissingFileID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/transcode", `{"video_format":"mp4"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAddAudioForcesAppendModeRegardlessOfBody(t *testing.T) {
	srv, db, st := newTestServer(t)
	seedFile(t, db, st, "file-1")
	seedFile(t, db, st, "file-2")

	rec := do(t, srv, http.MethodPost, "/add-audio", `{"file_id":"file-1","audio_file_id":"file-2","video_format":"mp4","mode":"replace"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tasks, err := st.GetTasksForFile(db, "file-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.ModeAppend, tasks[0].Args.Get().Mode, "add-audio must force append mode even if the request body asked for replace")
}

func TestHandleChainKeepsEveryStepOnRootFile(t *testing.T) {
	srv, db, st := newTestServer(t)
	seedFile(t, db, st, "file-1")

	body := `{
		"file_id": "file-1",
		"operations": [
			{"operation": "transcode", "mode": "replace", "fields": {"video_format": "mp4"}},
			{"operation": "extract-thumbnail", "mode": "append", "fields": {"timestamp": 1.5}}
		]
	}`
	rec := do(t, srv, http.MethodPost, "/chain", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tasks, err := st.GetTasksForFile(db, "file-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2, "every chain step stays against the root file id")
}

func TestHandleBulkAppliesOperationToEveryFile(t *testing.T) {
	srv, db, st := newTestServer(t)
	seedFile(t, db, st, "file-a")
	seedFile(t, db, st, "file-b")

	body := `{"file_ids": ["file-a", "file-b"], "operation": {"operation": "remove-audio", "mode": "replace"}}`
	rec := do(t, srv, http.MethodPost, "/bulk", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tasksA, err := st.GetTasksForFile(db, "file-a")
	require.NoError(t, err)
	tasksB, err := st.GetTasksForFile(db, "file-b")
	require.NoError(t, err)
	assert.Len(t, tasksA, 1)
	assert.Len(t, tasksB, 1)
}
