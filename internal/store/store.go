package store

import (
	"fmt"

	"github.com/hbomb79/theapipe/internal/apierr"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/pkg/logger"
	"github.com/jmoiron/sqlx"
)

var log = logger.Get("Store")

// Store is the Work Store: a persistent record of Files and Tasks, exposing
// the exact operations the schedulers and HTTP adapter require.
type Store struct{}

func New() *Store { return &Store{} }

// -- File operations --

func (s *Store) CreateFile(db database.Queryable, f *File) error {
	if _, err := db.Exec(`
		INSERT INTO files (id, file_name, file_path, mime_type, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.FileName, f.FilePath, f.MimeType, f.Metadata,
	); err != nil {
		return fmt.Errorf("failed to create file row: %w", err)
	}

	log.Emit(logger.SUCCESS, "Created file %s (%s)\n", f.ID, f.FilePath)
	return nil
}

func (s *Store) GetFile(db database.Queryable, id string) (*File, error) {
	dest := &File{}
	if err := db.Get(dest, `SELECT * FROM files WHERE id=$1`, id); err != nil {
		return nil, apierr.Wrap(apierr.NotFound, fmt.Errorf("file %s not found: %w", id, err))
	}
	return dest, nil
}

func (s *Store) GetAllFiles(db database.Queryable) ([]*File, error) {
	var dest []*File
	if err := db.Select(&dest, `SELECT * FROM files ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("failed to select all files: %w", err)
	}
	return dest, nil
}

// UpdateFileSwap implements the swap-policy File mutation: file_name,
// file_path are always updated; mime_type/metadata only when metadata is
// non-nil (a nil metadata leaves both columns untouched, mimeType argument
// included, per the advisory-probe design decision).
func (s *Store) UpdateFileSwap(db database.Queryable, id, fileName, filePath string, mimeType string, metadata *ProbeMetadata) error {
	if metadata != nil {
		col := database.NewJSONColumn(*metadata)
		if _, err := db.Exec(`
			UPDATE files SET file_name=$1, file_path=$2, mime_type=$3, metadata=$4, updated_at=now()
			WHERE id=$5`,
			fileName, filePath, mimeType, col, id,
		); err != nil {
			return fmt.Errorf("failed to update file %s (with metadata): %w", id, err)
		}
		return nil
	}

	if _, err := db.Exec(`
		UPDATE files SET file_name=$1, file_path=$2, updated_at=now()
		WHERE id=$3`,
		fileName, filePath, id,
	); err != nil {
		return fmt.Errorf("failed to update file %s: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteFile(db database.Queryable, id string) (string, error) {
	var path string
	if err := db.Get(&path, `DELETE FROM files WHERE id=$1 RETURNING file_path`, id); err != nil {
		return "", fmt.Errorf("failed to delete file %s: %w", id, err)
	}
	return path, nil
}

// -- Task operations --

func (s *Store) CreateTask(db database.Queryable, t *Task) (int64, error) {
	var id int64
	if err := db.Get(&id, `
		INSERT INTO tasks (code, file_id, operation, args, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		t.Code, t.FileID, t.Operation, t.Args, StatusQueued,
	); err != nil {
		return 0, fmt.Errorf("failed to create task for file %s: %w", t.FileID, err)
	}

	log.Emit(logger.SUCCESS, "Created task %d (%s) for file %s\n", id, t.Operation, t.FileID)
	return id, nil
}

// BulkCreateTasks inserts the tasks one after another on db, returning
// their assigned ids in the same order. It is atomic only when db is a
// transaction (e.g. from database.WrapTx); on a plain connection an error
// leaves the earlier rows inserted.
func (s *Store) BulkCreateTasks(db database.Queryable, tasks []*Task) ([]int64, error) {
	ids := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		id, err := s.CreateTask(db, t)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) GetTask(db database.Queryable, id int64) (*Task, error) {
	dest := &Task{}
	if err := db.Get(dest, `SELECT * FROM tasks WHERE id=$1`, id); err != nil {
		return nil, apierr.Wrap(apierr.NotFound, fmt.Errorf("task %d not found: %w", id, err))
	}
	return dest, nil
}

func (s *Store) GetTasksForFile(db database.Queryable, fileID string) ([]*Task, error) {
	var dest []*Task
	if err := db.Select(&dest, `SELECT * FROM tasks WHERE file_id=$1 ORDER BY id`, fileID); err != nil {
		return nil, fmt.Errorf("failed to select tasks for file %s: %w", fileID, err)
	}
	return dest, nil
}

func (s *Store) GetAllTasks(db database.Queryable) ([]*Task, error) {
	var dest []*Task
	if err := db.Select(&dest, `SELECT * FROM tasks ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to select all tasks: %w", err)
	}
	return dest, nil
}

// NextQueuedTasks returns up to `limit` queued tasks whose file_id is not in
// excludeFileIDs, ordered by ascending id.
func (s *Store) NextQueuedTasks(db database.Queryable, excludeFileIDs []string, limit int) ([]*Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	if len(excludeFileIDs) == 0 {
		var dest []*Task
		if err := db.Select(&dest, `
			SELECT * FROM tasks WHERE status=$1 ORDER BY id LIMIT $2`,
			StatusQueued, limit,
		); err != nil {
			return nil, fmt.Errorf("failed to fetch next queued tasks: %w", err)
		}
		return dest, nil
	}

	query, args, err := sqlx.In(`
		SELECT * FROM tasks
		WHERE status = ? AND file_id NOT IN (?)
		ORDER BY id
		LIMIT ?`,
		StatusQueued, excludeFileIDs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build next-queued-tasks query: %w", err)
	}

	var dest []*Task
	if err := db.Select(&dest, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch next queued tasks: %w", err)
	}
	return dest, nil
}

// MarkProcessing transitions a task from queued to processing, recording
// the child pid.
func (s *Store) MarkProcessing(db database.Queryable, taskID int64, pid int) error {
	if _, err := db.Exec(`
		UPDATE tasks SET status=$1, pid=$2, updated_at=now() WHERE id=$3`,
		StatusProcessing, pid, taskID,
	); err != nil {
		return fmt.Errorf("failed to mark task %d processing: %w", taskID, err)
	}
	return nil
}

// UpdatePID records the real child pid once the external process has
// actually been started, replacing the placeholder pid written when the
// task was claimed.
func (s *Store) UpdatePID(db database.Queryable, taskID int64, pid int) error {
	if _, err := db.Exec(`
		UPDATE tasks SET pid=$1, updated_at=now() WHERE id=$2`,
		pid, taskID,
	); err != nil {
		return fmt.Errorf("failed to update pid for task %d: %w", taskID, err)
	}
	return nil
}

// CompleteTask transitions a task to completed, clearing pid.
func (s *Store) CompleteTask(db database.Queryable, taskID int64) error {
	if _, err := db.Exec(`
		UPDATE tasks SET status=$1, pid=NULL, error=NULL, updated_at=now() WHERE id=$2`,
		StatusCompleted, taskID,
	); err != nil {
		return fmt.Errorf("failed to complete task %d: %w", taskID, err)
	}
	return nil
}

// FailTask transitions a task to failed, recording the diagnostic message.
func (s *Store) FailTask(db database.Queryable, taskID int64, errMsg string) error {
	if _, err := db.Exec(`
		UPDATE tasks SET status=$1, pid=NULL, error=$2, updated_at=now() WHERE id=$3`,
		StatusFailed, errMsg, taskID,
	); err != nil {
		return fmt.Errorf("failed to fail task %d: %w", taskID, err)
	}
	return nil
}

// MarkQueuedAsUnreachable drives every still-queued sibling task for
// fileID to the terminal unreachable state. processing/completed tasks are
// untouched.
func (s *Store) MarkQueuedAsUnreachable(db database.Queryable, fileID string) error {
	if _, err := db.Exec(`
		UPDATE tasks SET status=$1, updated_at=now() WHERE file_id=$2 AND status=$3`,
		StatusUnreachable, fileID, StatusQueued,
	); err != nil {
		return fmt.Errorf("failed to cascade unreachable for file %s: %w", fileID, err)
	}

	log.Emit(logger.WARNING, "Cascaded queued tasks for file %s to unreachable\n", fileID)
	return nil
}

// RestoreProcessingToQueued is the crash-recovery step: any task left
// `processing` from a prior, now-dead process is re-enqueued.
func (s *Store) RestoreProcessingToQueued(db database.Queryable) (int64, error) {
	res, err := db.Exec(`
		UPDATE tasks SET status=$1, pid=NULL, updated_at=now() WHERE status=$2`,
		StatusQueued, StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to restore processing tasks to queued: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		log.Emit(logger.WARNING, "Restored %d processing task(s) to queued after restart\n", n)
	}
	return n, nil
}

func (s *Store) DeleteTasksForFile(db database.Queryable, fileID string) error {
	if _, err := db.Exec(`DELETE FROM tasks WHERE file_id=$1`, fileID); err != nil {
		return fmt.Errorf("failed to delete tasks for file %s: %w", fileID, err)
	}
	return nil
}
