package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

// Server wraps the HTTP listener with sane timeouts and graceful shutdown.
type Server struct {
	httpServer *http.Server
	logg       *logger.Logger
}

// NewServer builds the API server around the given handler.
func NewServer(cfg *config.Config, handler http.Handler, logg *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.App.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		logg: logg,
	}
}

// Start blocks serving requests until the listener closes.
func (s *Server) Start(ctx context.Context) error {
	if s.logg != nil {
		s.logg.Info(ctx, fmt.Sprintf("api listening on %s", s.httpServer.Addr))
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
