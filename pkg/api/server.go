package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/cloudstore/internal/logger"
)

// ServerConfig configures the HTTP listener of the API.
type ServerConfig struct {
	// Address to listen on, host:port.
	// Default: ":8000"
	Address string

	ReadTimeout     time.Duration // Default: 5m (uploads stream through it)
	WriteTimeout    time.Duration // Default: 5m
	IdleTimeout     time.Duration // Default: 2m
	ShutdownTimeout time.Duration // Default: 30s
}

func (c *ServerConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = ":8000"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Server serves the REST API. It implements adapter.Adapter.
type Server struct {
	config       ServerConfig
	server       *http.Server
	port         int
	shutdownOnce sync.Once
	mu           sync.Mutex
	listenAddr   net.Addr
}

// NewServer creates an API server in a stopped state. Call Serve to start.
func NewServer(config ServerConfig, handler http.Handler) *Server {
	config.applyDefaults()

	port := 0
	if _, p, err := net.SplitHostPort(config.Address); err == nil {
		port, _ = strconv.Atoi(p)
	}

	return &Server{
		config: config,
		server: &http.Server{
			Addr:              config.Address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
		port: port,
	}
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("api server failed to listen on %s: %w", s.config.Address, err)
	}

	s.mu.Lock()
	s.listenAddr = ln.Addr()
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcp.Port
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("api server shutdown error: %w", err)
			logger.Error("API server shutdown error: %v", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Protocol implements adapter.Adapter.
func (s *Server) Protocol() string {
	return "HTTP API"
}

// Port returns the TCP port, resolved once Serve has bound the listener.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}
