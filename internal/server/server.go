package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openpaisa/paisad/internal/config"
)

// Server wraps the HTTP listener with timeouts and graceful shutdown.
type Server struct {
	httpServer *http.Server
	grace      time.Duration
	logger     *zap.Logger
}

// New creates a Server serving handler on cfg.Listen.
func New(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Listen,
			Handler:      handler,
			ReadTimeout:  time.Duration(cfg.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeoutSecs) * time.Second,
		},
		grace:  time.Duration(cfg.ShutdownGraceSecs) * time.Second,
		logger: logger,
	}
}

// Start serves until the listener fails or Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
