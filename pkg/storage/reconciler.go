package storage

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/cloudstore/internal/logger"
)

// Reconciler runs Coordinator.Reconcile periodically in the background.
//
// Startup reconciliation is done by New; the Reconciler repairs drift caused
// by external changes to the storage root while the server runs.
//
// Thread Safety: Safe for concurrent use.
type Reconciler struct {
	coord    *Coordinator
	interval time.Duration
	timeout  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewReconciler creates a reconciler for coord. An interval <= 0 disables
// the background loop; RunNow still works.
//
// The reconciler is initialized but not started. Call Start() to begin.
func NewReconciler(coord *Coordinator, interval time.Duration) *Reconciler {
	return &Reconciler{
		coord:    coord,
		interval: interval,
		timeout:  10 * time.Minute,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Enabled reports whether the background loop runs.
func (r *Reconciler) Enabled() bool {
	return r.interval > 0
}

// Start launches the background loop. Safe to call multiple times
// (subsequent calls are no-ops).
func (r *Reconciler) Start() {
	if !r.Enabled() {
		logger.Info("Periodic reconciliation disabled")
		return
	}

	r.startOnce.Do(func() {
		r.started = true
		logger.Info("Starting reconciler: interval=%s", r.interval)
		go r.worker()
	})
}

// Stop signals the loop to exit and waits for an in-progress pass to finish,
// or for ctx to expire. Safe to call multiple times.
func (r *Reconciler) Stop(ctx context.Context) error {
	var started bool
	r.startOnce.Do(func() {}) // a later Start must not launch the worker
	r.stopOnce.Do(func() {
		started = r.started
		close(r.stopCh)
	})
	if !started {
		return nil
	}

	select {
	case <-r.doneCh:
		logger.Info("Reconciler stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Reconciler shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one reconciliation pass and blocks until it completes.
func (r *Reconciler) RunNow(ctx context.Context) (*ReconcileStats, error) {
	logger.Info("Running reconciliation (manual trigger)...")
	return r.coord.Reconcile(ctx)
}

func (r *Reconciler) worker() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			stats, err := r.coord.Reconcile(ctx)
			cancel()

			if err != nil {
				logger.Error("Reconciliation failed: %v", err)
			} else if stats.Adopted > 0 || stats.Removed > 0 {
				logger.Info("Reconciliation completed: %s", stats.Summary())
			} else {
				logger.Debug("Reconciliation completed: %s", stats.Summary())
			}

		case <-r.stopCh:
			return
		}
	}
}
