package httpapi

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hbomb79/theapipe/internal/apierr"
	"github.com/hbomb79/theapipe/internal/blobstore"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/planner"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/pkg/logger"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apierr.Wrap(apierr.InvalidArgument, fmt.Errorf("missing multipart field \"file\": %w", err))
	}
	if fh.Size > s.cfg.UploadMaxByte {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("upload of %d bytes exceeds limit of %d bytes", fh.Size, s.cfg.UploadMaxByte))
	}

	id := uuid.New().String()
	key := id + filepath.Ext(fh.Filename)

	tmp, err := saveMultipartToTemp(fh)
	if err != nil {
		return fmt.Errorf("failed to stage uploaded file: %w", err)
	}
	defer os.Remove(tmp)

	if err := s.blob.PutFromDisk(c.Request().Context(), key, tmp, blobstore.ACLPrivate); err != nil {
		return apierr.Wrap(apierr.UploadFailed, err)
	}

	meta, probeErr := s.prober.Probe(tmp)
	if probeErr != nil {
		log.Emit(logger.WARNING, "Metadata probe failed for upload %s (non-fatal): %v\n", id, probeErr)
	}

	f := &store.File{ID: id, FileName: fh.Filename, FilePath: key}
	if meta != nil {
		f.MimeType = meta.MimeType
		f.Metadata = database.NewJSONColumn(*meta)
	}

	db := s.db.GetSqlxDB()
	if err := s.store.CreateFile(db, f); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"fileId": id})
}

func saveMultipartToTemp(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "theapipe-upload-*")
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return dst.Name(), nil
}

func (s *Server) handleListFiles(c echo.Context) error {
	files, err := s.store.GetAllFiles(s.db.GetSqlxDB())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, files)
}

func (s *Server) handleGetFile(c echo.Context) error {
	f, err := s.store.GetFile(s.db.GetSqlxDB(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

func (s *Server) handleListTasks(c echo.Context) error {
	tasks, err := s.store.GetAllTasks(s.db.GetSqlxDB())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleMeta(c echo.Context) error {
	f, err := s.store.GetFile(s.db.GetSqlxDB(), c.Param("id"))
	if err != nil {
		return err
	}

	meta := f.Metadata.Get()
	if meta == nil {
		return c.JSON(http.StatusOK, map[string]any{"fileId": f.ID, "mimeType": f.MimeType})
	}
	return c.JSON(http.StatusOK, meta)
}

func (s *Server) handleStatus(c echo.Context) error {
	id := c.Param("id")
	db := s.db.GetSqlxDB()

	if _, err := s.store.GetFile(db, id); err != nil {
		return c.JSON(http.StatusOK, map[string]string{"fileId": id, "status": "not-found"})
	}

	tasks, err := s.store.GetTasksForFile(db, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"fileId": id, "status": aggregateStatus(tasks)})
}

func aggregateStatus(tasks []*store.Task) string {
	if len(tasks) == 0 {
		return "completed"
	}

	sawFailure := false
	for _, t := range tasks {
		switch t.Status {
		case store.StatusQueued, store.StatusProcessing:
			return "pending"
		case store.StatusFailed, store.StatusUnreachable:
			sawFailure = true
		}
	}
	if sawFailure {
		return "failed"
	}
	return "completed"
}

func (s *Server) handleOutput(c echo.Context) error {
	return s.streamFile(c, c.Param("id"), false)
}

func (s *Server) handleDownload(c echo.Context) error {
	return s.streamFile(c, c.Param("id"), true)
}

func (s *Server) streamFile(c echo.Context, id string, deleteAfter bool) error {
	db := s.db.GetSqlxDB()
	f, err := s.store.GetFile(db, id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "theapipe-output-*")
	if err != nil {
		return fmt.Errorf("failed to stage output for streaming: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := s.blob.GetToDisk(c.Request().Context(), f.FilePath, tmp.Name()); err != nil {
		return apierr.Wrap(apierr.DownloadFailed, err)
	}

	if deleteAfter {
		if err := c.Attachment(tmp.Name(), f.FileName); err != nil {
			return err
		}
		if err := s.store.DeleteTasksForFile(db, id); err != nil {
			log.Emit(logger.ERROR, "Failed to delete tasks for file %s after download: %v\n", id, err)
		}
		if _, err := s.store.DeleteFile(db, id); err != nil {
			log.Emit(logger.ERROR, "Failed to delete file row %s after download: %v\n", id, err)
			return nil
		}
		if err := s.blob.Delete(c.Request().Context(), f.FilePath); err != nil {
			log.Emit(logger.ERROR, "Failed to delete blob %s after download: %v\n", f.FilePath, err)
		}
		return nil
	}

	return c.Inline(tmp.Name(), f.FileName)
}

func (s *Server) handleDelete(c echo.Context) error {
	id := c.Param("id")
	db := s.db.GetSqlxDB()

	f, err := s.store.GetFile(db, id)
	if err != nil {
		return err
	}

	if err := s.store.DeleteTasksForFile(db, id); err != nil {
		return err
	}
	if _, err := s.store.DeleteFile(db, id); err != nil {
		return err
	}
	if err := s.blob.Delete(c.Request().Context(), f.FilePath); err != nil {
		return apierr.Wrap(apierr.UploadFailed, err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// handleOperation builds a single-task-creation route handler for one
// operation tag. forceMode, if given, overrides whatever the request body
// specified (used for operations that are inherently append-only).
func (s *Server) handleOperation(op store.Operation, decode func(echo.Context) (decodedOp, error), forceMode ...store.Mode) echo.HandlerFunc {
	return func(c echo.Context) error {
		decoded, err := decode(c)
		if err != nil {
			return err
		}

		mode := store.Mode(decoded.Mode)
		if len(forceMode) > 0 {
			mode = forceMode[0]
		} else if mode == "" {
			mode = store.ModeReplace
		}

		task, err := s.planner.PlanSingle(s.db.GetSqlxDB(), decoded.FileID, planner.OperationRequest{
			Operation: op, Mode: mode, Fields: decoded.Fields,
		})
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, map[string]any{"success": true, "taskId": task.ID})
	}
}

func (s *Server) handleChain(c echo.Context) error {
	var body chainRequestBody
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}

	ops := make([]planner.OperationRequest, len(body.Operations))
	for i, o := range body.Operations {
		mode := store.Mode(o.Mode)
		if mode == "" {
			mode = store.ModeReplace
		}
		ops[i] = planner.OperationRequest{Operation: store.Operation(o.Operation), Mode: mode, Fields: o.Fields}
	}

	tasks, err := s.planner.PlanChain(s.db.GetSqlxDB(), body.FileID, ops)
	if err != nil {
		return apierr.Wrap(apierr.InvalidArgument, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"success": true, "taskIds": taskIDs(tasks)})
}

func (s *Server) handleBulk(c echo.Context) error {
	var body bulkRequestBody
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}

	mode := store.Mode(body.Operation.Mode)
	if mode == "" {
		mode = store.ModeReplace
	}

	tasks, err := s.planner.PlanBulk(s.db.GetSqlxDB(), body.FileIDs, planner.OperationRequest{
		Operation: store.Operation(body.Operation.Operation), Mode: mode, Fields: body.Operation.Fields,
	})
	if err != nil {
		return apierr.Wrap(apierr.InvalidArgument, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"success": true, "taskIds": taskIDs(tasks)})
}

func taskIDs(tasks []*store.Task) []int64 {
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
