package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/j-angnoe/flux-framework-bundle/internal/config"
	handlers "github.com/j-angnoe/flux-framework-bundle/internal/http"
	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/logging"
	"github.com/j-angnoe/flux-framework-bundle/internal/middleware"
	"github.com/j-angnoe/flux-framework-bundle/internal/monitoring"
	"github.com/j-angnoe/flux-framework-bundle/internal/tracing"
	"github.com/j-angnoe/flux-framework-bundle/internal/ws"
)

// shutdownTimeout bounds graceful shutdown. Open event streams are cut
// when it expires.
const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	jobs     *job.Manager
	registry *job.Registry
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	tracer   *sdktrace.TracerProvider
}

// NewServer creates a new server instance. logger may be nil, in which
// case one is built from cfg.Logging.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return nil, err
		}
	}

	logger.Info("Initializing flux server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("job_root", cfg.Job.Root),
		zap.String("job_db", cfg.Job.DBPath()),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	registry, err := job.OpenRegistry(cfg.Job.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open job registry: %w", err)
	}
	jobs, err := job.NewManager(cfg.Job.Root,
		job.WithShell(cfg.Job.Shell),
		job.WithGrace(cfg.Job.Grace.Std()),
		job.WithLogger(logger.Component("job")),
		job.WithMetrics(metrics),
		job.WithRegistry(registry),
	)
	if err != nil {
		registry.Close()
		return nil, err
	}

	var tracer *sdktrace.TracerProvider
	if cfg.Trace.Enabled {
		tracer, err = tracing.NewProvider(context.Background(), tracing.Config{
			ServiceName: cfg.Trace.ServiceName,
			Version:     handlers.Version,
			Endpoint:    cfg.Trace.Endpoint,
			SampleRatio: cfg.Trace.SampleRatio,
		})
		if err != nil {
			registry.Close()
			return nil, err
		}
		logger.Info("Tracing enabled",
			zap.String("endpoint", cfg.Trace.Endpoint),
			zap.Float64("sample_ratio", cfg.Trace.SampleRatio),
		)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	httpLogger := logger.Component("http")
	router.Use(middleware.Recovery(httpLogger))
	router.Use(middleware.RequestID())
	if tracer != nil {
		router.Use(tracing.Middleware(tracer))
	}
	router.Use(middleware.Logger(httpLogger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins...))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	h := handlers.NewHandlers(jobs, metrics, handlers.StreamConfig{
		Heartbeat:  cfg.Stream.Heartbeat.Std(),
		Retry:      cfg.Stream.Retry.Std(),
		MaxRuntime: cfg.Stream.MaxRuntime.Std(),
	}, logger.Component("stream"))
	wsHandler := ws.NewHandler(jobs, logger.Component("ws"), metrics)

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

	// Background jobs
	router.POST("/jobs", h.CreateJob)
	router.GET("/jobs", h.ListJobs)
	router.GET("/jobs/:token", h.GetJob)
	router.DELETE("/jobs/:token", h.StopJob)
	router.GET("/jobs/:token/stream", h.StreamJob)
	router.GET("/jobs/:token/ws", wsHandler.HandleJob)
	router.GET("/stream", h.StreamJobs)

	router.POST("/search", h.Search)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		jobs:     jobs,
		registry: registry,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		tracer:   tracer,
	}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Jobs returns the job manager.
func (s *Server) Jobs() *job.Manager {
	return s.jobs
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Graceful shutdown incomplete", zap.Error(err))
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close flushes pending spans and releases the job registry. Detached
// jobs keep running.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	if s.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.tracer.Shutdown(ctx); err != nil {
			s.logger.Warn("Failed to flush spans", zap.Error(err))
		}
		cancel()
	}
	if err := s.registry.Close(); err != nil {
		s.logger.Error("Failed to close job registry", zap.Error(err))
		return fmt.Errorf("failed to close job registry: %w", err)
	}
	return s.logger.Close()
}
