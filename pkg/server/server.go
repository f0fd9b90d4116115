// Package server runs the cloudstore adapters (REST API, metrics endpoint)
// together with the background reconciler and shuts them down as one unit.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/cloudstore/internal/logger"
	"github.com/marmos91/cloudstore/pkg/adapter"
)

// DefaultStopTimeout bounds the shutdown of all adapters and the reconciler.
const DefaultStopTimeout = 30 * time.Second

// BackgroundTask is a worker started with the server and stopped after its
// adapters, e.g. storage.Reconciler.
type BackgroundTask interface {
	Start()
	Stop(ctx context.Context) error
}

// Server manages the lifecycle of the adapters and background tasks that
// share one storage coordinator.
//
// Lifecycle:
//  1. Creation: New()
//  2. Registration: AddAdapter() / AddTask()
//  3. Startup: Serve() starts everything and blocks
//  4. Shutdown: context cancellation, or any adapter failing, stops all
//     adapters in reverse registration order, then the tasks
//
// Example usage:
//
//	srv := server.New(30 * time.Second)
//	_ = srv.AddAdapter(api.NewServer(apiCfg, handler))
//	srv.AddTask(storage.NewReconciler(coord, time.Hour))
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	err := srv.Serve(ctx)
type Server struct {
	stopTimeout time.Duration

	// mu protects adapters, tasks and served
	mu       sync.Mutex
	adapters []adapter.Adapter
	tasks    []BackgroundTask
	served   bool
}

// New creates a server. stopTimeout <= 0 uses DefaultStopTimeout.
func New(stopTimeout time.Duration) *Server {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Server{
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers an adapter. Two adapters may not share a protocol
// name or a non-zero port.
//
// Panics if a is nil or Serve() was already called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol, port := a.Protocol(), a.Port()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// AddTask registers a background task.
//
// Panics if t is nil or Serve() was already called.
func (s *Server) AddTask(t BackgroundTask) {
	if t == nil {
		panic("task cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add task after Serve() has been called")
	}
	s.tasks = append(s.tasks, t)
}

// Serve starts every task and adapter, then blocks until ctx is cancelled or
// an adapter fails.
//
// Returns nil after a shutdown triggered by ctx, or the first adapter error.
// Serve may be called only once.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("server already served")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	tasks := append([]BackgroundTask(nil), s.tasks...)
	s.mu.Unlock()

	logger.Info("Starting cloudstore with %d adapter(s)", len(adapters))

	for _, t := range tasks {
		t.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			if err := a.Serve(gctx); err != nil {
				logger.Error("%s adapter failed: %v", a.Protocol(), err)
				return fmt.Errorf("%s adapter: %w", a.Protocol(), err)
			}
			logger.Debug("%s adapter stopped", a.Protocol())
			return nil
		})
	}

	// Adapters shut themselves down when gctx is cancelled; the explicit
	// Stop calls only bound the wait and enforce reverse order.
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		}
		s.stopAll(adapters, tasks)
		return nil
	})

	err := g.Wait()
	logger.Info("cloudstore stopped")
	return err
}

// stopAll stops adapters in reverse registration order, then the tasks.
func (s *Server) stopAll(adapters []adapter.Adapter, tasks []BackgroundTask) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
	for _, t := range tasks {
		if err := t.Stop(ctx); err != nil {
			logger.Error("Error stopping background task: %v", err)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]adapter.Adapter(nil), s.adapters...)
}
