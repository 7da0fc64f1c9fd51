package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/wppimport/internal/api"
	"github.com/matheus3301/wppimport/internal/config"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle of the daemon.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer binds the configured listen address. Binding happens here so a
// busy port fails startup instead of a background goroutine.
func NewServer(cfg *config.Config, handler *api.Handler, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.HTTP.Listen, err)
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           handler.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.Addr()))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("HTTP server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown", zap.Error(err))
	}
}
