// Package admin serves pool statistics, health and Prometheus metrics over
// HTTP.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/dbpool/internal/config"
	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/pool"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Server timeouts.
const (
	readTimeout  = 5 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// PoolSource is the registry view the admin server reads from.
type PoolSource interface {
	Stats() pool.RegistryStats
	HealthStatus() map[string]pool.HealthStatus
	RunHealthChecks(ctx context.Context) map[string]pool.SweepResult
}

// Server is the admin HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	pools      PoolSource
	logger     observability.Logger
	cfg        config.AdminConfig

	mu       sync.RWMutex
	running  bool
	stopped  bool
	listener net.Listener
}

// NewServer creates an admin server for pools.
func NewServer(cfg config.AdminConfig, pools PoolSource, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Address == "" {
		cfg.Address = config.DefaultAdminAddress
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = config.Duration(config.DefaultAdminShutdownTimeout)
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine: gin.New(),
		pools:  pools,
		logger: logger,
		cfg:    cfg,
	}
	s.engine.Use(recovery(logger), requestID(), accessLog(logger))
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler serving the admin routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until Stop. It returns
// nil after a graceful stop, including when Stop won the race with Start.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("admin server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("admin server listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	srv := s.httpServer
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting admin server", observability.String("address", ln.Addr().String()))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx and the configured
// shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping admin server")

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown admin server: %w", err)
	}

	s.logger.Info("admin server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
