// Package lifecycle owns process startup and shutdown: wiping the working
// directories, restoring crashed tasks to queued, and starting/stopping
// both schedulers together.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hbomb79/theapipe/internal/bgqueue"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/scheduler"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/pkg/logger"
)

var log = logger.Get("Lifecycle")

// Controller sequences startup (directory reset, crash recovery, scheduler
// start) and shutdown (scheduler stop, in that order: foreground first so
// no new Executors launch while background cleanup drains).
type Controller struct {
	db    database.Manager
	store *store.Store

	tempDir string
	metaDir string

	fg *scheduler.ForegroundScheduler
	bg *bgqueue.BackgroundScheduler
}

func New(db database.Manager, st *store.Store, tempDir, metaDir string, fg *scheduler.ForegroundScheduler, bg *bgqueue.BackgroundScheduler) *Controller {
	return &Controller{db: db, store: st, tempDir: tempDir, metaDir: metaDir, fg: fg, bg: bg}
}

// Start resets the working directories, restores any tasks orphaned by a
// prior crash back to `queued`, and starts the background scheduler. It
// does not start the foreground scheduler's poll loop - the caller is
// expected to run that via Run(ctx) on its own goroutine once Start
// returns, mirroring how the teacher's main.go separates "prepare" from
// "serve forever".
func (c *Controller) Start(ctx context.Context) error {
	if err := resetDir(c.tempDir); err != nil {
		return fmt.Errorf("lifecycle: failed to reset temp dir: %w", err)
	}
	if err := resetDir(c.metaDir); err != nil {
		return fmt.Errorf("lifecycle: failed to reset meta dir: %w", err)
	}

	n, err := c.store.RestoreProcessingToQueued(c.db.GetSqlxDB())
	if err != nil {
		return fmt.Errorf("lifecycle: failed to restore orphaned processing tasks: %w", err)
	}
	if n > 0 {
		log.Emit(logger.WARNING, "Restored %d orphaned processing task(s) to queued after restart\n", n)
	}

	if err := c.bg.Start(); err != nil {
		return fmt.Errorf("lifecycle: failed to start background scheduler: %w", err)
	}

	log.Emit(logger.SUCCESS, "Lifecycle startup complete\n")
	return nil
}

// Run blocks, running the foreground scheduler's poll loop until ctx is
// cancelled, then stops the background scheduler.
func (c *Controller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)

	var runErr error
	go func() {
		defer wg.Done()
		runErr = c.fg.Run(ctx)
	}()

	<-ctx.Done()
	wg.Wait()

	log.Emit(logger.STOP, "Foreground scheduler stopped, draining background scheduler\n")
	c.bg.Stop()

	return runErr
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate %s: %w", dir, err)
	}
	return nil
}
