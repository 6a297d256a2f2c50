// Package server wires configuration, the persistence engine, and the
// HTTP surface into a runnable service.
package server

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/loomworks/loom/backend/internal/api/middleware"
	"github.com/loomworks/loom/backend/internal/domain/session"
	"github.com/loomworks/loom/backend/internal/domain/snapshot"
	"github.com/loomworks/loom/backend/internal/http"
	"github.com/loomworks/loom/backend/internal/infrastructure/config"
	"github.com/loomworks/loom/backend/internal/infrastructure/monitoring"
	"github.com/loomworks/loom/backend/internal/logging"
	"github.com/loomworks/loom/backend/internal/persistence/ratelimit"
	"github.com/loomworks/loom/backend/internal/utils"
)

// Server wraps the HTTP server and its dependencies
type Server struct {
	router   *gin.Engine
	srv      *nethttp.Server
	logger   *logging.Logger
	registry *session.Registry
	engine   *snapshot.Engine
}

// NewServer builds the full dependency graph from configuration
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	metrics := monitoring.NewMetrics()

	store, err := snapshot.NewStore(cfg.Storage.Dir, cfg.Storage.MaxFileSize)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New()
	limiter.SetLimit(snapshot.OpResume, ratelimit.Limit{
		Max:    cfg.RateLimit.SessionLimit,
		Window: cfg.RateLimit.SessionWindow,
	})
	limiter.SetLimit(snapshot.OpResumeGlobal, ratelimit.Limit{
		Max:    cfg.RateLimit.GlobalLimit,
		Window: cfg.RateLimit.GlobalWindow,
	})

	registry := session.NewRegistry()
	supervisor := session.NewLocalSupervisor(
		registry,
		cfg.Sessions.MaxLive,
		cfg.Sessions.MaxMessages,
		metrics,
		logger.Named("supervisor"),
	)

	engine := snapshot.NewEngine(store, limiter, supervisor, metrics, logger.Named("engine"), snapshot.Options{
		PopulationCap: cfg.Storage.MaxPopulation,
		AutoEvict:     cfg.Storage.AutoEvict,
	})
	sweeper := snapshot.NewSweeper(store, metrics, logger.Named("sweeper"))

	handlers := http.NewHandlers(engine, sweeper, registry, supervisor, metrics, logger.Named("http"), cfg.Storage.SweepAge)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(monitoring.Middleware(metrics))
	router.Use(bodyLimit(utils.MaxRequestSize))
	if cfg.HTTPLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.HTTPLimit.RequestsPerSecond,
			Burst:             cfg.HTTPLimit.Burst,
		}))
	}

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/stats", handlers.Stats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Live sessions
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.POST("/sessions/:id/messages", handlers.AppendMessage)
	router.GET("/sessions/:id/messages", handlers.GetMessages)
	router.PUT("/sessions/:id/todos", handlers.ReplaceTodos)
	router.GET("/sessions/:id/todos", handlers.GetTodos)

	// Persistence
	router.POST("/sessions/:id/save", handlers.SaveSession)
	router.POST("/sessions/:id/close", handlers.CloseSession)
	router.POST("/sessions/:id/resume", handlers.ResumeSession)
	router.DELETE("/sessions/:id", handlers.DeleteSnapshot)
	router.POST("/maintenance/cleanup", handlers.Cleanup)

	return &Server{
		router:   router,
		logger:   logger,
		registry: registry,
		engine:   engine,
	}, nil
}

// Run starts the server and blocks until the listener fails
func (s *Server) Run(addr string) error {
	s.srv = &nethttp.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server listening", zap.String("addr", addr))
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests, then snapshots every live session
// so nothing is lost on restart.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		if err := s.srv.Shutdown(ctx); err != nil {
			return err
		}
	}

	for _, sess := range s.registry.List() {
		worker, ok := s.registry.Get(sess.ID)
		if !ok {
			continue
		}
		content, err := worker.Content(ctx)
		if err != nil {
			s.logger.Error("shutdown content read failed",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			continue
		}
		if err := s.engine.Save(ctx, content); err != nil {
			s.logger.Error("shutdown autosave failed",
				zap.String("session_id", sess.ID),
				zap.Error(err))
		}
		worker.Stop()
	}
	return nil
}

// bodyLimit caps request body size before any handler reads it
func bodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = nethttp.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
