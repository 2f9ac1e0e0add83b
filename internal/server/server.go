package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/quota"
	"github.com/desertthunder/playbridge/internal/syncs"
	"github.com/desertthunder/playbridge/internal/tasks"
)

var (
	errMissingEngine   = errors.New("migration engine dependency required")
	errMissingCatalogs = errors.New("catalog registry dependency required")
)

// Dependencies are the services the API is built on. Syncs and Governor are optional.
type Dependencies struct {
	Engine         *tasks.MigrationEngine
	Syncs          *syncs.Registry
	Catalogs       *catalog.Registry
	Governor       *quota.Governor
	Logger         *log.Logger
	AllowedOrigins []string
}

// NewRouter builds the gin engine with recovery, CORS and request logging.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Catalogs == nil {
		return nil, errMissingCatalogs
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	h := &handler{
		engine:   deps.Engine,
		syncs:    deps.Syncs,
		catalogs: deps.Catalogs,
		governor: deps.Governor,
		logger:   logger,
	}
	h.register(router)
	return router, nil
}

// requestLogger logs one line per request through the application logger.
func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", kv...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", kv...)
		default:
			logger.Info("request", kv...)
		}
	}
}

// Server runs the API and, optionally, the sync scheduler until its context ends.
type Server struct {
	http      *http.Server
	engine    *tasks.MigrationEngine
	scheduler *tasks.Scheduler
	logger    *log.Logger
}

// New creates a server listening on addr. scheduler may be nil.
func New(addr string, deps Dependencies, scheduler *tasks.Scheduler) (*Server, error) {
	router, err := NewRouter(deps)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine:    deps.Engine,
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

// Run serves until ctx is cancelled, then stops accepting requests and lets running jobs
// reach their next track before returning.
func (s *Server) Run(ctx context.Context) error {
	if n, err := s.engine.Recover(ctx); err != nil {
		s.logger.Error("failed to recover interrupted jobs", "err", err)
	} else if n > 0 {
		s.logger.Info("recovered interrupted jobs", "count", n)
	}

	if s.scheduler != nil {
		go func() {
			if err := s.scheduler.Run(ctx); err != nil {
				s.logger.Error("scheduler stopped", "err", err)
			}
		}()
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "err", err)
	}
	return s.engine.Shutdown(shutdownCtx)
}
