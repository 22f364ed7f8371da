package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hbomb79/theapipe/internal/bgqueue"
	"github.com/hbomb79/theapipe/internal/blobstore"
	"github.com/hbomb79/theapipe/internal/config"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/executor"
	"github.com/hbomb79/theapipe/internal/httpapi"
	"github.com/hbomb79/theapipe/internal/lifecycle"
	"github.com/hbomb79/theapipe/internal/planner"
	"github.com/hbomb79/theapipe/internal/probe"
	"github.com/hbomb79/theapipe/internal/scheduler"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/pkg/logger"
)

const VERSION = 1.0

var (
	log = logger.Get("Bootstrap")

	logLevelFlag = flag.String("log-level", "info", "Define logging level from one of [verbose, debug, info, important, warning, error]")
	helpFlag     = flag.Bool("help", false, "Whether to display help information")
	configFlag   = flag.String("config", "/etc/theapipe/config.toml", "The path to the config file that theapipe will load")
)

func main() {
	flag.Parse()

	level, err := parseLogLevelFromString(*logLevelFlag)
	if err != nil {
		fmt.Println(err.Error())
		flag.Usage()
		return
	}
	logger.SetMinLoggingLevel(level)

	if *helpFlag {
		flag.Usage()
		return
	}

	log.Emit(logger.DEBUG, "Loading configuration from '%s'\n", *configFlag)
	cfg, err := config.Load(*configFlag)
	if err != nil {
		panic(err)
	}

	if err := run(cfg); err != nil {
		log.Emit(logger.FATAL, "theapipe exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log.Emit(logger.INFO, " --- Starting theapipe (version %.1f) ---\n", VERSION)

	ctx, ctxCancel := context.WithCancel(context.Background())
	go listenForInterrupt(ctxCancel)

	db := database.New()
	if err := db.Connect(cfg.Database); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	blob, err := blobstore.New(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialise blob store: %w", err)
	}

	st := store.New()
	prober := probe.New(cfg.Ffmpeg.FfprobeBin)

	bg := bgqueue.New(cfg.Scheduler.MaxConcurrentTasks, cfg.Scheduler.BackgroundPoll)
	exec := executor.New(db, st, blob, prober, bg, cfg.Scheduler.TempDir, cfg.Ffmpeg.FfmpegBin, cfg.Ffmpeg.FfprobeBin)
	fg := scheduler.New(db, st, exec, cfg.Scheduler.MaxConcurrentTasks, cfg.Scheduler.ForegroundPoll)

	pl := planner.New(st)
	lc := lifecycle.New(db, st, cfg.Scheduler.TempDir, cfg.Scheduler.MetaDir, fg, bg)

	if err := lc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start lifecycle controller: %w", err)
	}

	srv := httpapi.New(cfg.HTTP, db, st, blob, prober, pl)

	errCh := make(chan error, 2)
	go func() { errCh <- lc.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx) }()

	<-ctx.Done()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && err != context.Canceled {
			log.Emit(logger.WARNING, "Component shutdown reported error: %v\n", err)
		}
	}

	log.Emit(logger.STOP, "theapipe shutdown complete\n")
	return nil
}

func listenForInterrupt(ctxCancel context.CancelFunc) {
	exitChannel := make(chan os.Signal, 1)
	signal.Notify(exitChannel, os.Interrupt, syscall.SIGTERM)

	<-exitChannel
	ctxCancel()
}

func parseLogLevelFromString(l string) (logger.LogLevel, error) {
	switch strings.ToLower(l) {
	case "verbose":
		return logger.VERBOSE.Level(), nil
	case "debug":
		return logger.DEBUG.Level(), nil
	case "info":
		return logger.INFO.Level(), nil
	case "important":
		return logger.SUCCESS.Level(), nil
	case "warning":
		return logger.WARNING.Level(), nil
	case "error":
		return logger.ERROR.Level(), nil
	default:
		return logger.INFO.Level(), fmt.Errorf("logging level %s is not recognized", l)
	}
}
