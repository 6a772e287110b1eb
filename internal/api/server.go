// Package api is the HTTP driver of the pipeline.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zhe.chen/explaind/internal/events"
	"github.com/zhe.chen/explaind/internal/logging"
	"github.com/zhe.chen/explaind/internal/pipeline"
)

// DefaultAudience is used when a submit request names none
const DefaultAudience = "High School Student"

const shutdownTimeout = 10 * time.Second

// Server exposes one orchestrator over HTTP
type Server struct {
	orch   *pipeline.Orchestrator
	bus    *events.Bus
	engine *gin.Engine
	logger *zap.Logger
}

// StartRunRequest is the body of POST /api/runs
type StartRunRequest struct {
	Topic    string `json:"topic" binding:"required"`
	Audience string `json:"audience"`
}

// FinalizeResponse is the body of a successful finalize
type FinalizeResponse struct {
	RunID             int64  `json:"run_id"`
	FinalArtifactPath string `json:"final_artifact_path"`
}

// NewServer builds the router. mode is a gin mode; empty keeps gin's default.
func NewServer(orch *pipeline.Orchestrator, bus *events.Bus, mode string, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	if mode != "" {
		gin.SetMode(mode)
	}

	s := &Server{
		orch:   orch,
		bus:    bus,
		engine: gin.New(),
		logger: logger.Named("api"),
	}
	s.engine.Use(gin.Recovery(), RequestID(), Logger(s.logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)

	runs := s.engine.Group("/api/runs")
	{
		runs.POST("", s.startRun)
		runs.GET("/:id", s.getRun)
		runs.POST("/:id/scenes/:n/render", s.renderScene)
		runs.POST("/:id/scenes/:n/retry", s.retryScene)
		runs.POST("/:id/scenes/:n/regenerate", s.regenerateCode)
		runs.POST("/:id/render", s.renderAll)
		runs.POST("/:id/finalize", s.finalize)
		runs.GET("/:id/events", s.streamEvents)
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if run, ok := s.orch.Current(); ok {
		resp["current_run"] = run.ID()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) startRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "topic is required")
		return
	}
	if req.Audience == "" {
		req.Audience = DefaultAudience
	}

	run, err := s.orch.StartRun(pipelineContext(c), req.Topic, req.Audience)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, run.Manifest())
}

// lookupRun resolves the :id parameter; it writes the error response itself
func (s *Server) lookupRun(c *gin.Context) (*pipeline.Run, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, "run id must be a positive integer")
		return nil, false
	}
	run, err := s.orch.Run(id)
	if err != nil {
		abortWithError(c, err, nil)
		return nil, false
	}
	return run, true
}

func sceneNumber(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 1 {
		badRequest(c, "scene number must be a positive integer")
		return 0, false
	}
	return n, true
}

func (s *Server) getRun(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run.Manifest())
}

// pipelineContext keeps request values but not cancellation. A client that
// disconnects does not stop a render or stitch; only stage timeouts do.
func pipelineContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

type sceneOp func(ctx context.Context, run *pipeline.Run, n int) (pipeline.SceneRecord, error)

// sceneHandler adapts a per-scene orchestrator operation
func (s *Server) sceneHandler(op sceneOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := s.lookupRun(c)
		if !ok {
			return
		}
		n, ok := sceneNumber(c)
		if !ok {
			return
		}

		record, err := op(pipelineContext(c), run, n)
		if err != nil {
			var scene *pipeline.SceneRecord
			if record.Number != 0 {
				scene = &record
			}
			abortWithError(c, err, scene)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func (s *Server) renderScene(c *gin.Context) {
	s.sceneHandler(s.orch.RenderScene)(c)
}

func (s *Server) retryScene(c *gin.Context) {
	s.sceneHandler(s.orch.RetryScene)(c)
}

func (s *Server) regenerateCode(c *gin.Context) {
	s.sceneHandler(s.orch.RegenerateCode)(c)
}

func (s *Server) renderAll(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	if err := s.orch.RenderAll(pipelineContext(c), run); err != nil {
		s.logger.Warn("Render all finished with failures", zap.Int64("run_id", run.ID()), zap.Error(err))
	}
	c.JSON(http.StatusOK, run.Manifest())
}

func (s *Server) finalize(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	path, err := s.orch.Finalize(pipelineContext(c), run)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, FinalizeResponse{RunID: run.ID(), FinalArtifactPath: path})
}
