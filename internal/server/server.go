// Package server exposes the task orchestrator, the direct agent runs, the
// multi-agent pipeline, the chat assistant and the image pipeline over a
// JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smmswarm/internal/agents"
	"smmswarm/internal/chat"
	"smmswarm/internal/config"
	"smmswarm/internal/images"
	"smmswarm/internal/logging"
	"smmswarm/internal/observability"
	"smmswarm/internal/orchestrator"
	"smmswarm/internal/session"
)

// TaskService drives clarification sessions.
type TaskService interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (*orchestrator.Outcome, error)
	Answer(ctx context.Context, sessionID, key string, value any) (*orchestrator.Outcome, error)
	Session(ctx context.Context, sessionID string) (*session.Session, error)
}

// PipelineRunner runs several agents over one brief.
type PipelineRunner interface {
	Run(ctx context.Context, brief agents.Brief) (*orchestrator.PipelineResult, error)
}

// ImageService composes and serves images.
type ImageService interface {
	Generate(ctx context.Context, req images.Request) (*images.Result, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// ChatService answers free-form assistant messages.
type ChatService interface {
	Message(ctx context.Context, user, text string) (*chat.Response, error)
}

// Deps are the services behind the API. Chat, Images and Gatherer are optional.
type Deps struct {
	Tasks    TaskService
	Pipeline PipelineRunner
	Chat     ChatService
	Agents   *agents.Registry
	Models   orchestrator.Models
	Images   ImageService
	Gatherer prometheus.Gatherer
	Metrics  *observability.Metrics
	Tracer   *observability.TracerProvider
	Logger   logging.Logger
	Version  string
}

// Server is the HTTP front of the assistant.
type Server struct {
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
	startTime  time.Time
}

// New builds the gin engine and registers every route.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NoopTracer()
	}
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("http-server")
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestIDMiddleware())
	engine.Use(ObservabilityMiddleware(deps.Tracer, deps.Metrics, logger))

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", HeaderRequestID, HeaderUserID}
		corsConfig.ExposeHeaders = []string{HeaderRequestID}
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		deps:      deps,
		engine:    engine,
		logger:    logger,
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	api.Use(JSONMiddleware())

	tasks := api.Group("/tasks")
	{
		tasks.POST("/start", s.handleStart)
		tasks.POST("/answer", s.handleAnswer)
		tasks.GET("/sessions/:id", s.handleGetSession)
	}

	agentsGroup := api.Group("/agents")
	{
		agentsGroup.GET("", s.handleListAgents)
		agentsGroup.POST("/pipeline", s.handlePipeline)
		agentsGroup.POST("/:type/run", s.handleRunAgent)
	}

	api.POST("/chat/message", s.handleChatMessage)

	imagesGroup := api.Group("/images")
	{
		imagesGroup.POST("/generate", s.handleGenerateImage)
		imagesGroup.GET("/:file", s.handleServeImage)
	}
}

// Handler returns the engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down HTTP server: %v", err)
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: HealthResponse{
			Status:    "ok",
			Version:   s.deps.Version,
			Timestamp: time.Now(),
			Uptime:    time.Since(s.startTime).Round(time.Second).String(),
			Images:    s.deps.Images != nil,
			Chat:      s.deps.Chat != nil,
		},
	})
}
