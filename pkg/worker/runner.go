package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/pkg/logger"
)

// Worker is one unit of periodic background work.
type Worker interface {
	// Name returns worker name for logging
	Name() string
	// Run executes one iteration of work
	Run(ctx context.Context) error
}

// PeriodicWorker runs a Worker immediately and then once per interval until
// its context is cancelled. Iteration errors and panics are logged and the
// loop keeps going.
type PeriodicWorker struct {
	worker   Worker
	interval time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewPeriodicWorker creates new periodic worker
func NewPeriodicWorker(w Worker, interval time.Duration) *PeriodicWorker {
	return &PeriodicWorker{
		worker:   w,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the loop in its own goroutine. Calling Start twice is a no-op.
func (pw *PeriodicWorker) Start(ctx context.Context) {
	pw.once.Do(func() {
		go pw.loop(ctx)
	})
}

// Done is closed once the loop has returned.
func (pw *PeriodicWorker) Done() <-chan struct{} {
	return pw.done
}

// Stop waits up to timeout for the loop to exit. The caller must cancel the
// context passed to Start first.
func (pw *PeriodicWorker) Stop(timeout time.Duration) bool {
	select {
	case <-pw.done:
		logger.Info("✅ Worker stopped gracefully", zap.String("worker", pw.worker.Name()))
		return true
	case <-time.After(timeout):
		logger.Warn("⚠️ Worker stop timeout", zap.String("worker", pw.worker.Name()))
		return false
	}
}

func (pw *PeriodicWorker) loop(ctx context.Context) {
	defer close(pw.done)

	name := pw.worker.Name()
	logger.Info("🚀 Worker started",
		zap.String("worker", name),
		zap.Duration("interval", pw.interval),
	)

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		pw.runOnce(ctx)

		select {
		case <-ctx.Done():
			logger.Info("🛑 Worker stopping", zap.String("worker", name))
			return
		case <-ticker.C:
		}
	}
}

func (pw *PeriodicWorker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := safeRun(ctx, pw.worker)
	if err != nil && ctx.Err() == nil {
		logger.Error("worker execution failed",
			zap.String("worker", pw.worker.Name()),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
	}
}

func safeRun(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return w.Run(ctx)
}

// Group manages several periodic workers sharing one lifetime.
type Group struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	workers []*PeriodicWorker
}

// NewGroup creates a group bound to ctx.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{ctx: ctx, cancel: cancel}
}

// Add registers a worker. It is started by Start.
func (g *Group) Add(w Worker, interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workers = append(g.workers, NewPeriodicWorker(w, interval))
}

// Start starts all registered workers.
func (g *Group) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, w := range g.workers {
		w.Start(g.ctx)
	}
	logger.Info("🚀 Worker group started", zap.Int("workers", len(g.workers)))
}

// Stop cancels the group and waits for each worker up to timeout.
func (g *Group) Stop(timeout time.Duration) {
	g.cancel()

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, w := range g.workers {
		w.Stop(timeout)
	}
	logger.Info("✅ Worker group stopped")
}

// RunBackground is a convenience function to run a single worker.
func RunBackground(ctx context.Context, w Worker, interval time.Duration) *PeriodicWorker {
	pw := NewPeriodicWorker(w, interval)
	pw.Start(ctx)
	return pw
}
