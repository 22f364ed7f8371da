// Package executor implements the Executor: given one Task, it downloads
// the resolved inputs, asks the Operation Catalog for an argv, spawns
// ffmpeg, uploads the result, applies the swap/append state-mutation
// policy, and schedules background cleanup.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/theapipe/internal/apierr"
	"github.com/hbomb79/theapipe/internal/bgqueue"
	"github.com/hbomb79/theapipe/internal/blobstore"
	"github.com/hbomb79/theapipe/internal/catalog"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/probe"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/pkg/logger"
)

var log = logger.Get("Executor")

const (
	taskTimeout  = 15 * time.Minute
	threadPrefix = "-threads"
)

type Executor struct {
	db     database.Manager
	store  *store.Store
	blob   *blobstore.Store
	prober *probe.Prober
	bg     *bgqueue.BackgroundScheduler

	tempDir    string
	ffmpegBin  string
	ffprobeBin string
}

func New(db database.Manager, st *store.Store, blob *blobstore.Store, prober *probe.Prober, bg *bgqueue.BackgroundScheduler, tempDir, ffmpegBin, ffprobeBin string) *Executor {
	return &Executor{
		db: db, store: st, blob: blob, prober: prober, bg: bg,
		tempDir: tempDir, ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin,
	}
}

// Run performs task end to end, per §4.3. Any error returned here has
// already caused the task row to be marked `failed`, except a failure to
// record the task as `completed`, which is returned as is; the caller
// (Foreground Scheduler) is responsible for cascading sibling tasks to
// `unreachable`.
func (e *Executor) Run(ctx context.Context, task store.Task) error {
	db := e.db.GetSqlxDB()

	primary, err := e.resolvePrimaryFile(db, task)
	if err != nil {
		return e.fail(db, task, fmt.Errorf("failed to resolve primary input: %w", err))
	}

	inputPaths, cleanupInputs, err := e.downloadInputs(ctx, db, task, primary)
	if err != nil {
		return e.fail(db, task, apierr.Wrap(apierr.DownloadFailed, err))
	}

	if err := e.checkPreconditions(task, primary); err != nil {
		e.scheduleCleanup(cleanupInputs)
		return e.fail(db, task, err)
	}

	if task.Operation == store.OpASRSegment || task.Operation == store.OpVisionSegment {
		if err := e.runSegmentTask(ctx, db, task, inputPaths[0]); err != nil {
			e.scheduleCleanup(cleanupInputs)
			return e.fail(db, task, err)
		}
		e.scheduleCleanup(cleanupInputs)
		if err := e.store.CompleteTask(db, task.ID); err != nil {
			return fmt.Errorf("failed to mark task %d completed: %w", task.ID, err)
		}
		return nil
	}

	mode := store.ModeReplace
	if args := task.Args.Get(); args != nil && args.Mode != "" {
		mode = args.Mode
	}

	outputFile := e.outputBasename(task, primary, mode)

	// DASH writes a manifest plus a handful of segment files into the same
	// directory; give it a dedicated scratch directory so those sibling
	// files can be discovered and uploaded as one bundle, and so they never
	// collide with another task's output in the shared tempDir.
	var dashDir string
	var outputPath string
	if task.Operation == store.OpDash {
		dashDir = filepath.Join(e.tempDir, "dash-"+randomBasename())
		if err := os.MkdirAll(dashDir, 0o755); err != nil {
			e.scheduleCleanup(cleanupInputs)
			return e.fail(db, task, fmt.Errorf("failed to create dash working directory: %w", err))
		}
		outputPath = filepath.Join(dashDir, outputFile)
	} else {
		outputPath = filepath.Join(e.tempDir, outputFile)
	}

	argv, err := e.buildArgv(task, inputPaths, outputPath)
	if err != nil {
		e.scheduleCleanup(cleanupInputs)
		kind := apierr.InvalidArgument
		if task.Operation == store.OpTrimEnd {
			// trim-end's argv depends on the probed input duration, so a
			// failure here is a precondition of the input, not a bad argument.
			kind = apierr.PreconditionFailed
		}
		return e.fail(db, task, apierr.Wrap(kind, err))
	}

	stderr, err := e.spawn(ctx, db, task.ID, argv)
	if err != nil {
		e.scheduleCleanup(append(cleanupInputs, outputPath))
		return e.fail(db, task, apierr.Wrap(apierr.ProcessFailed, fmt.Errorf("%w: %s", err, diagnostic(stderr))))
	}

	if err := e.handleSpecialOutputs(task, inputPaths, outputPath, stderr); err != nil {
		e.scheduleCleanup(append(cleanupInputs, outputPath))
		return e.fail(db, task, err)
	}

	uploadKey := e.uploadKey(task, primary, outputFile, mode)
	acl := blobstore.ACLPrivate
	if isPublicOperation(task.Operation) {
		acl = blobstore.ACLPublicRead
	}

	if task.Operation == store.OpDash {
		if err := e.uploadDashBundle(ctx, task, dashDir); err != nil {
			e.scheduleDirCleanup(dashDir)
			e.scheduleCleanup(cleanupInputs)
			return e.fail(db, task, apierr.Wrap(apierr.UploadFailed, err))
		}
	} else if err := e.blob.PutFromDisk(ctx, uploadKey, outputPath, acl); err != nil {
		e.scheduleCleanup(append(cleanupInputs, outputPath))
		return e.fail(db, task, apierr.Wrap(apierr.UploadFailed, err))
	}

	probedMeta, probeErr := e.prober.Probe(outputPath)
	if probeErr != nil {
		log.Emit(logger.WARNING, "Metadata probe failed for task %d output (non-fatal): %v\n", task.ID, probeErr)
		probedMeta = nil
	}

	if mode == store.ModeReplace {
		oldKey := primary.FilePath
		if err := e.applySwap(db, primary, outputFile, uploadKey, probedMeta); err != nil {
			return e.fail(db, task, err)
		}
		if oldKey != uploadKey {
			e.scheduleBlobCleanup(oldKey)
		}
	} else {
		if err := e.applyAppend(db, task, primary, outputFile, uploadKey, probedMeta); err != nil {
			return e.fail(db, task, err)
		}
	}

	e.scheduleCleanup(cleanupInputs)
	if task.Operation == store.OpDash {
		e.scheduleDirCleanup(dashDir)
	} else {
		e.scheduleCleanup([]string{outputPath})
	}

	if err := e.store.CompleteTask(db, task.ID); err != nil {
		return fmt.Errorf("failed to mark task %d completed: %w", task.ID, err)
	}

	return nil
}

// checkPreconditions rejects operations whose stream requirements the
// primary input's persisted probe metadata doesn't satisfy. A primary
// input with no metadata yet (probe never ran, or ran and failed) is let
// through - the ffmpeg invocation itself will fail loudly instead.
func (e *Executor) checkPreconditions(task store.Task, primary *store.File) error {
	meta := primary.Metadata.Get()
	if meta == nil {
		return nil
	}

	opTag := string(task.Operation)
	if catalog.RequiresVideoStream(opTag) && !meta.HasVideo {
		return apierr.New(apierr.PreconditionFailed, "operation %q requires a video stream but file %s has none", task.Operation, primary.ID)
	}
	if catalog.RequiresAudioStream(opTag) && !meta.HasAudio {
		return apierr.New(apierr.PreconditionFailed, "operation %q requires an audio stream but file %s has none", task.Operation, primary.ID)
	}
	return nil
}

func (e *Executor) resolvePrimaryFile(db database.Queryable, task store.Task) (*store.File, error) {
	args := task.Args.Get()
	if args != nil && args.Parent != "" {
		return e.store.GetFile(db, args.Parent)
	}
	return e.store.GetFile(db, task.FileID)
}

func (e *Executor) downloadInputs(ctx context.Context, db database.Queryable, task store.Task, primary *store.File) ([]string, []string, error) {
	localPrimary := filepath.Join(e.tempDir, primary.FilePath)
	if err := e.blob.GetToDisk(ctx, primary.FilePath, localPrimary); err != nil {
		return nil, nil, fmt.Errorf("failed to download primary input %s: %w", primary.FilePath, err)
	}

	paths := []string{localPrimary}
	cleanup := []string{localPrimary}

	for _, fid := range secondaryFileIDs(task) {
		f, err := e.store.GetFile(db, fid)
		if err != nil {
			e.scheduleCleanup(cleanup)
			return nil, nil, fmt.Errorf("failed to resolve secondary input %s: %w", fid, err)
		}

		local := filepath.Join(e.tempDir, f.FilePath)
		if err := e.blob.GetToDisk(ctx, f.FilePath, local); err != nil {
			e.scheduleCleanup(cleanup)
			return nil, nil, fmt.Errorf("failed to download secondary input %s: %w", f.FilePath, err)
		}

		paths = append(paths, local)
		cleanup = append(cleanup, local)
	}

	return paths, cleanup, nil
}

// outputBasename implements §4.3 step 2: a stable basename for replace
// mode so re-runs after crash recovery overwrite deterministically, or a
// random one for append mode so the source File's key is untouched.
func (e *Executor) outputBasename(task store.Task, primary *store.File, mode store.Mode) string {
	ext := e.outputExtension(task, primary)
	if mode == store.ModeReplace {
		return fmt.Sprintf("%s.%s", task.Code, ext)
	}
	return fmt.Sprintf("%s.%s", randomBasename(), ext)
}

func (e *Executor) outputExtension(task store.Task, primary *store.File) string {
	args := task.Args.Get()
	if args != nil {
		if ext := fieldString(args.Fields, "output_extension"); ext != "" {
			return ext
		}
	}

	switch task.Operation {
	case store.OpTranscode, store.OpAddAudio:
		if args != nil {
			if format := fieldString(args.Fields, "video_format"); format != "" {
				return format
			}
		}
		return extOf(primary.FilePath)
	case store.OpExtractThumbnail:
		return "jpg"
	case store.OpExtractAudio:
		if args != nil {
			if codec := fieldString(args.Fields, "audio_format"); codec != "" {
				return codec
			}
		}
		return "mp3"
	case store.OpASRNormalize:
		return "wav"
	case store.OpASRAnalyze, store.OpVisionAnalyze:
		return "json"
	case store.OpDash:
		return "mpd"
	default:
		return extOf(primary.FilePath)
	}
}

// uploadKey maps a task's local output onto its Blob Store key. Most
// operations upload under the plain local basename, but the ASR/vision
// analysis bundle uses spec-fixed basenames ("normalized.wav",
// "analysis.json") regardless of the task's own code/random local name, so
// a downstream asr-segment/vision-segment task always knows where to find
// them without having to look the producing task up.
func (e *Executor) uploadKey(task store.Task, primary *store.File, outputFile string, mode store.Mode) string {
	switch task.Operation {
	case store.OpDash:
		return fmt.Sprintf("%s/dash/%s", task.FileID, outputFile)
	case store.OpASRNormalize:
		return fmt.Sprintf("%s/asr/normalized.wav", task.FileID)
	case store.OpASRAnalyze:
		return fmt.Sprintf("%s/asr/analysis.json", task.FileID)
	case store.OpVisionAnalyze:
		return fmt.Sprintf("%s/vision/analysis.json", task.FileID)
	default:
		return outputFile
	}
}

func isPublicOperation(op store.Operation) bool {
	switch op {
	case store.OpDash, store.OpASRNormalize, store.OpASRAnalyze, store.OpASRSegment, store.OpVisionSegment:
		return true
	default:
		return false
	}
}

func (e *Executor) buildArgv(task store.Task, inputs []string, output string) ([]string, error) {
	catalogArgs, err := e.buildOperationArgs(task, inputs)
	if err != nil {
		return nil, err
	}

	argv, err := catalog.Build(catalogArgs, inputs, output)
	if err != nil {
		return nil, err
	}

	return argv, nil
}

// buildOperationArgs maps a Task's persisted, untyped args onto the
// Operation Catalog's typed descriptors, probing the primary input where
// the operation needs resolution data (container/codec, resolution,
// duration) that isn't supplied by the caller.
func (e *Executor) buildOperationArgs(task store.Task, inputs []string) (catalog.OperationArgs, error) {
	args := task.Args.Get()
	fields := map[string]any{}
	if args != nil {
		fields = args.Fields
	}

	switch task.Operation {
	case store.OpTranscode:
		container := catalog.ContainerFromExtension(fieldString(fields, "video_format"))
		return catalog.TranscodeArgs{
			Container:  container,
			VideoCodec: fieldString(fields, "video_codec"),
			AudioCodec: fieldString(fields, "audio_codec"),
		}, nil
	case store.OpResizeVideo:
		return catalog.ResizeVideoArgs{
			Width:  fieldInt(fields, "width", 0),
			Height: fieldInt(fields, "height", 0),
		}, nil
	case store.OpTrim:
		return catalog.TrimArgs{
			Start:    fieldFloat(fields, "start", 0),
			Duration: fieldFloat(fields, "duration", 0),
			Exact:    fieldBool(fields, "exact"),
		}, nil
	case store.OpTrimEnd:
		meta, err := e.prober.Probe(inputs[0])
		if err != nil {
			return nil, fmt.Errorf("trim-end requires a successful probe of the input: %w", err)
		}
		return catalog.TrimEndArgs{
			Cut:           fieldFloat(fields, "cut", 0),
			TotalDuration: meta.DurationSecs,
		}, nil
	case store.OpExtractAudio:
		return catalog.ExtractAudioArgs{Codec: catalog.AudioCodec(fieldString(fields, "audio_format"))}, nil
	case store.OpRemoveAudio:
		return catalog.RemoveAudioArgs{}, nil
	case store.OpAddAudio:
		meta, err := e.prober.Probe(inputs[1])
		if err != nil {
			return nil, fmt.Errorf("add-audio requires a probe of the audio source: %w", err)
		}
		container := catalog.ContainerFromExtension(fieldString(fields, "video_format"))
		return catalog.AddAudioArgs{Container: container, SourceAudioCodec: meta.AudioCodec}, nil
	case store.OpMergeMedia:
		meta, err := e.prober.Probe(inputs[0])
		if err != nil {
			return nil, fmt.Errorf("merge-media requires a probe of the first input: %w", err)
		}
		return catalog.MergeMediaArgs{Width: meta.Width, Height: meta.Height}, nil
	case store.OpExtractThumbnail:
		return catalog.ExtractThumbnailArgs{Timestamp: fieldFloat(fields, "timestamp", 0)}, nil
	case store.OpDash:
		return catalog.DashArgs{SegDuration: fieldInt(fields, "seg_duration", 4)}, nil
	case store.OpASRNormalize:
		return catalog.ASRNormalizeArgs{}, nil
	case store.OpASRAnalyze:
		return catalog.ASRAnalyzeArgs{
			SilenceThresholdDB: fieldFloat(fields, "silence_threshold_db", -30),
			SilenceMinDuration: fieldFloat(fields, "silence_min_duration", 0.5),
			MaxChunk:           fieldFloat(fields, "max_chunk", 30),
			MinChunk:           fieldFloat(fields, "min_chunk", 5),
		}, nil
	case store.OpVisionAnalyze:
		return catalog.VisionAnalyzeArgs{SceneThreshold: fieldFloat(fields, "scene_threshold", 0.4)}, nil
	default:
		return nil, fmt.Errorf("executor: operation %q is not handled by the single-invocation path (asr-segment/vision-segment run their own loop)", task.Operation)
	}
}

// spawn runs argv with the shared thread-budget prefix flags and a 15
// minute timeout, returning captured stderr regardless of outcome. The
// child's pid is persisted against taskID as soon as it is known, so a
// crash mid-task leaves an accurate record of what was running.
func (e *Executor) spawn(ctx context.Context, db database.Queryable, taskID int64, argv []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	full := append([]string{threadPrefix, "0", "-thread_queue_size", "256"}, argv...)
	cmd := exec.CommandContext(ctx, e.ffmpegBin, full...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = os.Stdout

	if err := cmd.Start(); err != nil {
		return stderr.String(), fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	if err := e.store.UpdatePID(db, taskID, cmd.Process.Pid); err != nil {
		log.Emit(logger.WARNING, "Failed to record pid for task %d (non-fatal): %v\n", taskID, err)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return stderr.String(), fmt.Errorf("ffmpeg invocation timed out after %s: %w", taskTimeout, ctx.Err())
		}
		return stderr.String(), fmt.Errorf("ffmpeg exited with error: %w", err)
	}

	return stderr.String(), nil
}

// handleSpecialOutputs deals with the operations whose "output" isn't the
// file ffmpeg wrote: asr-analyze/vision-analyze parse stderr and persist a
// plan instead of a media file. asr-segment/vision-segment never reach it
// (Run hands them to runSegmentTask). Every other operation is a no-op here.
func (e *Executor) handleSpecialOutputs(task store.Task, inputs []string, outputPath, stderr string) error {
	switch task.Operation {
	case store.OpASRAnalyze, store.OpVisionAnalyze:
		// The primary ffmpeg invocation wrote to a null muxer; replace the
		// (empty) outputPath with the analysis we parsed from stderr.
		return e.writeAnalysisPlan(task, inputs, outputPath, stderr)
	default:
		return nil
	}
}

// writeAnalysisPlan probes the primary input for its duration rather than
// trusting a caller-supplied field - callers have no reliable way to know
// it up front, and a missing/wrong value silently degenerates PlanChunks /
// BuildSceneSegments into an empty plan.
func (e *Executor) writeAnalysisPlan(task store.Task, inputs []string, outputPath, stderr string) error {
	args := task.Args.Get()
	fields := map[string]any{}
	if args != nil {
		fields = args.Fields
	}

	meta, err := e.prober.Probe(inputs[0])
	if err != nil {
		return apierr.Wrap(apierr.MetadataProbeFailed, fmt.Errorf("failed to probe duration for task %d: %w", task.ID, err))
	}
	duration := meta.DurationSecs

	var segments []catalog.Segment

	switch task.Operation {
	case store.OpASRAnalyze:
		starts := catalog.ParseSilenceEvents(stderr)
		segments = catalog.PlanChunks(duration,
			fieldFloat(fields, "max_chunk", 30),
			fieldFloat(fields, "min_chunk", 5),
			starts,
		)
	case store.OpVisionAnalyze:
		times := catalog.ParseSceneEvents(stderr)
		segments, err = catalog.BuildSceneSegments(duration, times)
		if err != nil {
			return apierr.Wrap(apierr.InvalidArgument, err)
		}
	}

	return writeJSONPlan(outputPath, segments)
}

// writeJSONPlan persists the planned segments (an asr-analyze or
// vision-analyze result) to outputPath as JSON, so it uploads through the
// same put-from-disk path as every other task output.
func writeJSONPlan(outputPath string, segments []catalog.Segment) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create analysis plan file %s: %w", outputPath, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(struct {
		Segments []catalog.Segment `json:"segments"`
	}{Segments: segments}); err != nil {
		return fmt.Errorf("failed to write analysis plan to %s: %w", outputPath, err)
	}
	return nil
}

// bundlePrefix returns the {file_id}/asr or {file_id}/vision keyspace a
// segment task's analyze step published its analysis.json under.
func bundlePrefix(fileID string, op store.Operation) (string, error) {
	switch op {
	case store.OpASRSegment:
		return fmt.Sprintf("%s/asr", fileID), nil
	case store.OpVisionSegment:
		return fmt.Sprintf("%s/vision", fileID), nil
	default:
		return "", fmt.Errorf("operation %q has no bundle prefix", op)
	}
}

// runSegmentTask handles asr-segment/vision-segment: it downloads the
// analysis.json the corresponding analyze task published, cuts one clip per
// planned segment, uploads each under the same bundle prefix, and finally
// publishes a manifest.json listing every clip. It never swaps the primary
// input.
func (e *Executor) runSegmentTask(ctx context.Context, db database.Queryable, task store.Task, input string) error {
	prefix, err := bundlePrefix(task.FileID, task.Operation)
	if err != nil {
		return apierr.Wrap(apierr.InvalidArgument, err)
	}

	analysisKey := prefix + "/analysis.json"
	analysisPath := filepath.Join(e.tempDir, "analysis-"+randomBasename()+".json")
	if err := e.blob.GetToDisk(ctx, analysisKey, analysisPath); err != nil {
		return apierr.Wrap(apierr.DownloadFailed, fmt.Errorf("failed to download analysis plan %s: %w", analysisKey, err))
	}
	defer e.scheduleCleanup([]string{analysisPath})

	segments, err := readJSONPlan(analysisPath)
	if err != nil {
		return apierr.Wrap(apierr.InvalidArgument, err)
	}
	if len(segments) == 0 {
		return apierr.New(apierr.InvalidArgument, "task %d's analysis plan has no segments to cut", task.ID)
	}

	ext := extOf(input)
	acl := blobstore.ACLPrivate
	if isPublicOperation(task.Operation) {
		acl = blobstore.ACLPublicRead
	}

	clipKeys := make([]string, 0, len(segments))
	for i, seg := range segments {
		clipFile := fmt.Sprintf("seg_%03d.%s", i, ext)
		clipPath := filepath.Join(e.tempDir, randomBasename()+"-"+clipFile)
		clipKey := fmt.Sprintf("%s/%s", prefix, clipFile)

		argv := catalog.BuildSegmentClip(input, seg, clipPath)
		if _, err := e.spawn(ctx, db, task.ID, argv); err != nil {
			e.scheduleCleanup([]string{clipPath})
			return apierr.Wrap(apierr.ProcessFailed, fmt.Errorf("segment %d: %w", i, err))
		}

		if err := e.blob.PutFromDisk(ctx, clipKey, clipPath, acl); err != nil {
			e.scheduleCleanup([]string{clipPath})
			return apierr.Wrap(apierr.UploadFailed, fmt.Errorf("segment %d: %w", i, err))
		}

		meta, probeErr := e.prober.Probe(clipPath)
		if probeErr != nil {
			log.Emit(logger.WARNING, "Metadata probe failed for segment %d of task %d (non-fatal): %v\n", i, task.ID, probeErr)
			meta = nil
		}

		f := &store.File{ID: basenameWithoutExt(clipFile) + "-" + randomBasename(), FileName: clipFile, FilePath: clipKey}
		if meta != nil {
			f.MimeType = meta.MimeType
			f.Metadata = database.NewJSONColumn(*meta)
		}
		if err := e.store.CreateFile(db, f); err != nil {
			e.scheduleCleanup([]string{clipPath})
			return fmt.Errorf("failed to create file row for segment %d: %w", i, err)
		}

		e.scheduleCleanup([]string{clipPath})
		clipKeys = append(clipKeys, clipKey)
	}

	if err := e.uploadSegmentManifest(ctx, prefix, clipKeys, acl); err != nil {
		return apierr.Wrap(apierr.UploadFailed, err)
	}

	return nil
}

// readJSONPlan loads the {"segments": [...]} document an analyze task
// published, as downloaded to a local path.
func readJSONPlan(path string) ([]catalog.Segment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis plan %s: %w", path, err)
	}

	var doc struct {
		Segments []catalog.Segment `json:"segments"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode analysis plan %s: %w", path, err)
	}
	return doc.Segments, nil
}

// uploadSegmentManifest publishes the manifest.json listing every clip key
// produced by a segment task, alongside the clips themselves.
func (e *Executor) uploadSegmentManifest(ctx context.Context, prefix string, clipKeys []string, acl blobstore.ACL) error {
	manifestPath := filepath.Join(e.tempDir, "manifest-"+randomBasename()+".json")
	f, err := os.Create(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to create manifest file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(struct {
		Clips []string `json:"clips"`
	}{Clips: clipKeys}); err != nil {
		f.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	f.Close()
	defer e.scheduleCleanup([]string{manifestPath})

	if err := e.blob.PutFromDisk(ctx, prefix+"/manifest.json", manifestPath, acl); err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}
	return nil
}

// applySwap mutates the primary File row in place. The new name/extension
// is derived from outputFile, the unique local basename the Executor
// produced (task-code or random-8 based) - never from uploadedKey, which
// for the ASR/vision/DASH bundles is a fixed basename shared by every task
// of that kind and would otherwise collide.
func (e *Executor) applySwap(db database.Queryable, primary *store.File, outputFile, uploadedKey string, meta *store.ProbeMetadata) error {
	newName := basenameWithoutExt(primary.FileName) + "." + extOf(outputFile)
	mimeType := primary.MimeType
	if meta != nil {
		mimeType = meta.MimeType
	}

	if err := e.store.UpdateFileSwap(db, primary.ID, newName, uploadedKey, mimeType, meta); err != nil {
		return fmt.Errorf("failed to apply swap policy to file %s: %w", primary.ID, err)
	}
	return nil
}

// applyAppend creates a new File row alongside the primary. Its id is
// derived from outputFile (see applySwap's comment); its FilePath is the
// actual uploaded key, which may carry an operation-specific subpath/fixed
// basename distinct from outputFile.
func (e *Executor) applyAppend(db database.Queryable, task store.Task, primary *store.File, outputFile, uploadedKey string, meta *store.ProbeMetadata) error {
	newID := basenameWithoutExt(outputFile)
	newName := basenameWithoutExt(primary.FileName) + "." + extOf(outputFile)

	mimeType := ""
	if meta != nil {
		mimeType = meta.MimeType
	}

	f := &store.File{
		ID:       newID,
		FileName: newName,
		FilePath: uploadedKey,
		MimeType: mimeType,
	}
	if meta != nil {
		f.Metadata = database.NewJSONColumn(*meta)
	}

	if err := e.store.CreateFile(db, f); err != nil {
		return fmt.Errorf("failed to create append-mode file for task %d: %w", task.ID, err)
	}
	return nil
}

func (e *Executor) scheduleCleanup(localPaths []string) {
	for _, p := range localPaths {
		path := p
		e.bg.Enqueue(func() error {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to remove local temp file %s: %w", path, err)
			}
			return nil
		})
	}
}

// uploadDashBundle uploads every file the DASH muxer wrote into dir - the
// manifest plus its init-stream*.m4s/chunk-stream*.m4s segments - under
// {file_id}/dash/, since the published manifest references them by name
// and they all have to exist at the same prefix for playback to work.
func (e *Executor) uploadDashBundle(ctx context.Context, task store.Task, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to scan dash working directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key := fmt.Sprintf("%s/dash/%s", task.FileID, entry.Name())
		path := filepath.Join(dir, entry.Name())
		if err := e.blob.PutFromDisk(ctx, key, path, blobstore.ACLPublicRead); err != nil {
			return fmt.Errorf("failed to upload dash bundle file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// scheduleDirCleanup removes a scratch directory (and everything in it)
// via the background scheduler, tolerating concurrent/prior removal.
func (e *Executor) scheduleDirCleanup(dir string) {
	d := dir
	e.bg.Enqueue(func() error {
		if err := os.RemoveAll(d); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove dash working directory %s: %w", d, err)
		}
		return nil
	})
}

func (e *Executor) scheduleBlobCleanup(key string) {
	k := key
	e.bg.Enqueue(func() error {
		return e.blob.Delete(context.Background(), k)
	})
}

func (e *Executor) fail(db database.Queryable, task store.Task, cause error) error {
	msg := cause.Error()
	if err := e.store.FailTask(db, task.ID, msg); err != nil {
		log.Emit(logger.ERROR, "Failed to record failure for task %d: %v\n", task.ID, err)
	}
	return cause
}

func diagnostic(stderr string) string {
	trimmed := strings.TrimSpace(stderr)
	if len(trimmed) > 2000 {
		trimmed = trimmed[len(trimmed)-2000:]
	}
	return trimmed
}

func basenameWithoutExt(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func extOf(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimPrefix(ext, ".")
}

func randomBasename() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
