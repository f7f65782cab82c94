// Package recommendations holds published recommendations in a bounded,
// newest-first queue.
package recommendations

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/models"
)

const (
	DefaultCapacity = 500
	DefaultTake     = 50
)

// Publisher accepts new recommendations
type Publisher interface {
	Add(ctx context.Context, rec models.Recommendation) error
}

// Reader serves the most recent recommendations, newest first
type Reader interface {
	Latest(ctx context.Context, n int) ([]models.Recommendation, error)
}

// Store is a publisher that can be read back
type Store interface {
	Publisher
	Reader
}

// Queue is an in-memory ring of the last capacity recommendations.
// Add never blocks; when full the oldest entry is overwritten.
type Queue struct {
	mu   sync.RWMutex
	buf  []models.Recommendation
	next int // slot for the next Add
	size int
}

var _ Store = (*Queue)(nil)

// NewQueue creates a queue. capacity <= 0 uses DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{buf: make([]models.Recommendation, capacity)}
}

// Add stores rec, evicting the oldest entry when the queue is full
func (q *Queue) Add(_ context.Context, rec models.Recommendation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buf[q.next] = rec
	q.next = (q.next + 1) % len(q.buf)
	if q.size < len(q.buf) {
		q.size++
	}
	return nil
}

// Latest returns up to n recommendations, newest first. n <= 0 means
// DefaultTake. The returned slice is a copy.
func (q *Queue) Latest(_ context.Context, n int) ([]models.Recommendation, error) {
	if n <= 0 {
		n = DefaultTake
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if n > q.size {
		n = q.size
	}
	out := make([]models.Recommendation, n)
	for i := 0; i < n; i++ {
		idx := (q.next - 1 - i + len(q.buf)) % len(q.buf)
		out[i] = q.buf[idx]
	}
	return out, nil
}

// Len returns the number of stored recommendations
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Capacity returns the maximum number of stored recommendations
func (q *Queue) Capacity() int {
	return len(q.buf)
}

// Fanout publishes to a primary store and mirrors to best-effort sinks.
// Only a primary failure is returned; sink failures are logged.
type Fanout struct {
	primary Store
	sinks   []Publisher
}

var _ Store = (*Fanout)(nil)

// NewFanout creates a fanout over primary and sinks
func NewFanout(primary Store, sinks ...Publisher) *Fanout {
	return &Fanout{primary: primary, sinks: sinks}
}

// Add publishes rec to the primary store, then to every sink
func (f *Fanout) Add(ctx context.Context, rec models.Recommendation) error {
	if err := f.primary.Add(ctx, rec); err != nil {
		return err
	}
	for _, s := range f.sinks {
		if err := s.Add(ctx, rec); err != nil {
			logger.Warn("failed to mirror recommendation",
				zap.String("pool", rec.PoolAddress),
				zap.String("id", rec.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Latest reads from the primary store
func (f *Fanout) Latest(ctx context.Context, n int) ([]models.Recommendation, error) {
	return f.primary.Latest(ctx, n)
}
