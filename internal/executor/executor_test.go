package executor_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hbomb79/theapipe/internal/apierr"
	"github.com/hbomb79/theapipe/internal/catalog"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/executor"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutor() *executor.Executor {
	return executor.New(nil, store.New(), nil, nil, nil, "/tmp/theapipe-work", "ffmpeg", "ffprobe")
}

func taskWithFields(op store.Operation, mode store.Mode, fields map[string]any) store.Task {
	return store.Task{
		ID: 1, Code: "abcd1234", FileID: "file-1", Operation: op,
		Args: database.NewJSONColumn(store.TaskArgs{Mode: mode, Fields: fields}),
	}
}

func TestOutputExtensionPerOperation(t *testing.T) {
	e := newExecutor()
	primary := &store.File{ID: "file-1", FileName: "movie.mkv", FilePath: "movie.mkv"}

	cases := []struct {
		op   store.Operation
		args map[string]any
		want string
	}{
		{store.OpExtractThumbnail, nil, "jpg"},
		{store.OpExtractAudio, map[string]any{"audio_format": "flac"}, "flac"},
		{store.OpExtractAudio, nil, "mp3"},
		{store.OpASRNormalize, nil, "wav"},
		{store.OpASRAnalyze, nil, "json"},
		{store.OpVisionAnalyze, nil, "json"},
		{store.OpDash, nil, "mpd"},
		{store.OpTranscode, map[string]any{"video_format": "mp4"}, "mp4"},
		{store.OpTranscode, nil, "mkv"},
	}

	for _, c := range cases {
		task := taskWithFields(c.op, store.ModeReplace, c.args)
		assert.Equal(t, c.want, e.TestOutputExtension(task, primary), "operation %s", c.op)
	}
}

func TestOutputBasenameReplaceUsesTaskCode(t *testing.T) {
	e := newExecutor()
	primary := &store.File{ID: "file-1", FileName: "movie.mkv", FilePath: "movie.mkv"}
	task := taskWithFields(store.OpTranscode, store.ModeReplace, map[string]any{"video_format": "mp4"})

	assert.Equal(t, "abcd1234.mp4", e.TestOutputBasename(task, primary, store.ModeReplace))
}

func TestOutputBasenameAppendIsRandomAndDistinct(t *testing.T) {
	e := newExecutor()
	primary := &store.File{ID: "file-1", FileName: "movie.mkv", FilePath: "movie.mkv"}
	task := taskWithFields(store.OpExtractThumbnail, store.ModeAppend, nil)

	a := e.TestOutputBasename(task, primary, store.ModeAppend)
	b := e.TestOutputBasename(task, primary, store.ModeAppend)
	assert.NotEqual(t, a, b, "append-mode basenames must not collide across invocations")
	assert.NotContains(t, a, "abcd1234", "append mode must not reuse the task code as the basename")
}

func TestUploadKeyNamespacesDashAndASRUnderFileID(t *testing.T) {
	e := newExecutor()
	primary := &store.File{ID: "file-1", FileName: "movie.mkv", FilePath: "movie.mkv"}

	dashTask := taskWithFields(store.OpDash, store.ModeAppend, nil)
	dashTask.FileID = "file-1"
	assert.Equal(t, "file-1/dash/out.mpd", e.TestUploadKey(dashTask, primary, "out.mpd", store.ModeAppend))

	asrNormalizeTask := taskWithFields(store.OpASRNormalize, store.ModeAppend, nil)
	asrNormalizeTask.FileID = "file-1"
	assert.Equal(t, "file-1/asr/normalized.wav", e.TestUploadKey(asrNormalizeTask, primary, "out.wav", store.ModeAppend),
		"asr-normalize must always upload to the fixed normalized.wav basename regardless of the local output name")

	asrAnalyzeTask := taskWithFields(store.OpASRAnalyze, store.ModeAppend, nil)
	asrAnalyzeTask.FileID = "file-1"
	assert.Equal(t, "file-1/asr/analysis.json", e.TestUploadKey(asrAnalyzeTask, primary, "abcd1234.json", store.ModeAppend))

	visionAnalyzeTask := taskWithFields(store.OpVisionAnalyze, store.ModeAppend, nil)
	visionAnalyzeTask.FileID = "file-1"
	assert.Equal(t, "file-1/vision/analysis.json", e.TestUploadKey(visionAnalyzeTask, primary, "abcd1234.json", store.ModeAppend))

	transcodeTask := taskWithFields(store.OpTranscode, store.ModeReplace, nil)
	assert.Equal(t, "out.mp4", e.TestUploadKey(transcodeTask, primary, "out.mp4", store.ModeReplace))
}

func TestIsPublicOperation(t *testing.T) {
	assert.True(t, executor.IsPublicOperation(store.OpDash))
	assert.True(t, executor.IsPublicOperation(store.OpASRSegment))
	assert.False(t, executor.IsPublicOperation(store.OpTranscode))
}

func TestCheckPreconditionsSkipsWhenMetadataAbsent(t *testing.T) {
	e := newExecutor()
	primary := &store.File{ID: "file-1"}
	task := taskWithFields(store.OpExtractAudio, store.ModeReplace, nil)

	assert.NoError(t, e.TestCheckPreconditions(task, primary))
}

func TestCheckPreconditionsRejectsMissingAudioStream(t *testing.T) {
	e := newExecutor()
	primary := &store.File{ID: "file-1", Metadata: database.NewJSONColumn(store.ProbeMetadata{HasVideo: true, HasAudio: false})}
	task := taskWithFields(store.OpExtractAudio, store.ModeReplace, nil)

	err := e.TestCheckPreconditions(task, primary)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.PreconditionFailed, apiErr.Kind)
}

func TestCheckPreconditionsAllowsSatisfiedStreams(t *testing.T) {
	e := newExecutor()
	primary := &store.File{ID: "file-1", Metadata: database.NewJSONColumn(store.ProbeMetadata{HasVideo: true, HasAudio: true})}
	task := taskWithFields(store.OpExtractAudio, store.ModeReplace, nil)

	assert.NoError(t, e.TestCheckPreconditions(task, primary))
}

func TestBuildOperationArgsTranscode(t *testing.T) {
	e := newExecutor()
	task := taskWithFields(store.OpTranscode, store.ModeReplace, map[string]any{
		"video_format": "mp4", "video_codec": "h264", "audio_codec": "aac",
	})

	args, err := e.TestBuildOperationArgs(task, []string{"in.mkv"})
	require.NoError(t, err)
	transcodeArgs, ok := args.(catalog.TranscodeArgs)
	require.True(t, ok)
	assert.Equal(t, "h264", transcodeArgs.VideoCodec)
	assert.Equal(t, "aac", transcodeArgs.AudioCodec)
}

func TestBuildOperationArgsRejectsSegmentOperations(t *testing.T) {
	e := newExecutor()
	task := taskWithFields(store.OpASRSegment, store.ModeAppend, map[string]any{"segments": []any{}})

	_, err := e.TestBuildOperationArgs(task, []string{"in.wav"})
	assert.Error(t, err, "asr-segment must never reach the single-invocation argv builder")
}

func TestReadJSONPlanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"segments":[{"start":0,"duration":5.5},{"start":5.5,"duration":3.25}]}`), 0o644))

	segments, err := executor.ReadJSONPlan(path)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, 0.0, segments[0].Start)
	assert.Equal(t, 5.5, segments[0].Duration)
	assert.Equal(t, 5.5, segments[1].Start)
}

func TestReadJSONPlanMissingFileErrors(t *testing.T) {
	_, err := executor.ReadJSONPlan(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestBundlePrefixPerOperation(t *testing.T) {
	prefix, err := executor.BundlePrefix("file-1", store.OpASRSegment)
	require.NoError(t, err)
	assert.Equal(t, "file-1/asr", prefix)

	prefix, err = executor.BundlePrefix("file-1", store.OpVisionSegment)
	require.NoError(t, err)
	assert.Equal(t, "file-1/vision", prefix)

	_, err = executor.BundlePrefix("file-1", store.OpTranscode)
	assert.Error(t, err)
}

func TestDiagnosticTruncatesToLast2000Bytes(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	long[2999] = 'Z'

	got := executor.Diagnostic(string(long))
	assert.Len(t, got, 2000)
	assert.Equal(t, byte('Z'), got[len(got)-1])
}

func TestBasenameWithoutExtAndExtOf(t *testing.T) {
	assert.Equal(t, "clip_001", executor.BasenameWithoutExt("clip_001.mp4"))
	assert.Equal(t, "mp4", executor.ExtOf("clip_001.mp4"))
	assert.Equal(t, "", executor.ExtOf("no-extension"))
}
