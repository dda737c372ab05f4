// Package server constructs and starts the roomchat HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Server ties the hub, its chat engine and the HTTP listener together.
type Server struct {
	cfg        *Config
	logger     *slog.Logger
	hub        *Hub
	httpServer *http.Server
	listener   net.Listener
	group      *errgroup.Group
	failed     chan error
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// New builds a Server with a fresh chat engine. cfg is sanitized in place.
func New(cfg *Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	cfg.Sanitize()
	if logger == nil {
		logger = slog.Default()
	}

	engine := chat.NewEngine(chat.WithLogger(logger.With("component", "engine")))
	hub := NewHub(engine, cfg, logger.With("component", "hub"))

	return &Server{
		cfg:        cfg,
		logger:     logger,
		hub:        hub,
		httpServer: CreateServer(cfg.Port, SetupRoutes(hub, cfg, logger)),
		failed:     make(chan error, 1),
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the listener and runs the hub loop and the HTTP server in the
// background. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		s.hub.Run()
		return nil
	})
	s.group.Go(func() error {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			err = fmt.Errorf("serve: %w", err)
			s.failed <- err
			return err
		}
		return nil
	})
	return nil
}

// hubTimeout is what remains of ctx's deadline, or the configured shutdown
// timeout when ctx has no deadline or it has already passed.
func (s *Server) hubTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
	}
	return s.cfg.ShutdownTimeout
}

// Addr returns the bound listener address, or the configured address before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Failed receives the serve error if the HTTP server stops on its own. The
// hub keeps running until Shutdown is called.
func (s *Server) Failed() <-chan error {
	return s.failed
}

// Shutdown stops accepting connections, closes every client through the hub
// and waits for the background goroutines. The hub gets whatever remains of
// ctx's deadline, or the configured shutdown timeout when none is left.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if s.group != nil {
		if err := s.hub.Shutdown(s.hubTimeout(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		if err := s.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("HTTP server shutdown completed")
	return nil
}
