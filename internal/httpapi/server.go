// Package httpapi is the HTTP adapter: an Echo router exposing upload,
// diagnostic reads, per-operation task creation, and chain/bulk planning
// over the Work Store and Blob Store.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/theapipe/internal/apierr"
	"github.com/hbomb79/theapipe/internal/blobstore"
	"github.com/hbomb79/theapipe/internal/config"
	"github.com/hbomb79/theapipe/internal/database"
	"github.com/hbomb79/theapipe/internal/planner"
	"github.com/hbomb79/theapipe/internal/probe"
	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("HTTPAPI")

// Server wraps the Echo router plus everything handlers need to serve a
// request: the Work Store, Blob Store, Metadata Probe, and Operation
// Planner.
type Server struct {
	ec    *echo.Echo
	cfg   config.HTTPConfig
	db    database.Manager
	store *store.Store
	blob  *blobstore.Store
	prober *probe.Prober
	planner *planner.Planner
}

func New(cfg config.HTTPConfig, db database.Manager, st *store.Store, blob *blobstore.Store, prober *probe.Prober, pl *planner.Planner) *Server {
	ec := echo.New()
	ec.HidePort = true
	ec.HideBanner = true
	ec.Pre(middleware.RemoveTrailingSlash())
	ec.Use(
		middleware.Recover(),
		middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "[Request] ${time_rfc3339} :: ${method} ${uri} -> ${status} ${error} {ip=${remote_ip}}\n",
		}),
		middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: []string{"*"}}),
	)
	ec.OnAddRouteHandler = func(_ string, route echo.Route, _ echo.HandlerFunc, _ []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered route %s %s\n", route.Method, route.Path)
	}
	ec.HTTPErrorHandler = httpErrorHandler

	s := &Server{ec: ec, cfg: cfg, db: db, store: st, blob: blob, prober: prober, planner: pl}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.ec.POST("/upload", s.handleUpload)

	s.ec.GET("/files", s.handleListFiles)
	s.ec.GET("/files/:id", s.handleGetFile)
	s.ec.GET("/tasks", s.handleListTasks)

	s.ec.GET("/meta/:id", s.handleMeta)
	s.ec.GET("/status/:id", s.handleStatus)
	s.ec.GET("/output/:id", s.handleOutput)
	s.ec.GET("/download/:id", s.handleDownload)
	s.ec.DELETE("/delete/:id", s.handleDelete)

	s.ec.POST("/transcode", s.handleOperation(store.OpTranscode, decodeTranscodeArgs))
	s.ec.POST("/resize-video", s.handleOperation(store.OpResizeVideo, decodeResizeVideoArgs))
	s.ec.POST("/trim", s.handleOperation(store.OpTrim, decodeTrimArgs))
	s.ec.POST("/trim-end", s.handleOperation(store.OpTrimEnd, decodeTrimEndArgs))
	s.ec.POST("/extract-audio", s.handleOperation(store.OpExtractAudio, decodeExtractAudioArgs))
	s.ec.POST("/remove-audio", s.handleOperation(store.OpRemoveAudio, decodeEmptyArgs))
	s.ec.POST("/add-audio", s.handleOperation(store.OpAddAudio, decodeAddAudioArgs, store.ModeAppend))
	s.ec.POST("/merge", s.handleOperation(store.OpMergeMedia, decodeMergeMediaArgs, store.ModeAppend))
	s.ec.POST("/extract-thumbnail", s.handleOperation(store.OpExtractThumbnail, decodeExtractThumbnailArgs, store.ModeAppend))

	s.ec.POST("/dash", s.handleOperation(store.OpDash, decodeDashArgs, store.ModeAppend))
	s.ec.POST("/asr-normalize", s.handleOperation(store.OpASRNormalize, decodeEmptyArgs, store.ModeAppend))
	s.ec.POST("/asr-analyze", s.handleOperation(store.OpASRAnalyze, decodeASRAnalyzeArgs, store.ModeAppend))
	s.ec.POST("/asr-segment", s.handleOperation(store.OpASRSegment, decodeEmptyArgs, store.ModeAppend))
	s.ec.POST("/vision-analyze", s.handleOperation(store.OpVisionAnalyze, decodeVisionAnalyzeArgs, store.ModeAppend))
	s.ec.POST("/vision-segment", s.handleOperation(store.OpVisionSegment, decodeEmptyArgs, store.ModeAppend))

	s.ec.POST("/chain", s.handleChain)
	s.ec.POST("/bulk", s.handleBulk)
}

// Run starts the Echo server and blocks until ctx is cancelled, mirroring
// the teacher's RestGateway.Run context-cancellation shape.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Emit(logger.NEW, "HTTP adapter listening on %s\n", s.cfg.HostAddr)
		if err := s.ec.Start(s.cfg.HostAddr); err != nil && err != http.ErrServerClosed {
			cancel(err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.ec.Close()
	}()

	wg.Wait()

	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}
	return nil
}

func httpErrorHandler(err error, c echo.Context) {
	if apiErr, ok := apierr.As(err); ok {
		_ = c.JSON(apiErr.HTTPStatus(), map[string]string{"error": apiErr.Error()})
		return
	}

	if he, ok := err.(*echo.HTTPError); ok {
		_ = c.JSON(he.Code, map[string]string{"error": fmt.Sprintf("%v", he.Message)})
		return
	}

	log.Emit(logger.ERROR, "Unhandled error serving %s %s: %v\n", c.Request().Method, c.Request().URL.Path, err)
	_ = c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

var validate = validator.New()
