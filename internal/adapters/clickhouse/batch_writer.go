package clickhouse

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// BatchWriter buffers records and writes them in batches, either when the
// buffer reaches maxBatch or every maxWait
type BatchWriter[T any] struct {
	name        string
	buffer      []T
	bufferMu    sync.Mutex
	flushMu     sync.Mutex
	maxBatch    int
	flushTicker *time.Ticker
	flushFunc   func(context.Context, []T) error
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewBatchWriter creates a writer and starts its periodic flush
func NewBatchWriter[T any](name string, maxBatch int, maxWait time.Duration, flushFunc func(context.Context, []T) error) *BatchWriter[T] {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	bw := &BatchWriter[T]{
		name:        name,
		buffer:      make([]T, 0, maxBatch),
		maxBatch:    maxBatch,
		flushTicker: time.NewTicker(maxWait),
		flushFunc:   flushFunc,
		ctx:         ctx,
		cancel:      cancel,
	}

	bw.wg.Add(1)
	go bw.autoFlush()

	return bw
}

// Add buffers one record, flushing synchronously when the batch is full
func (bw *BatchWriter[T]) Add(record T) {
	bw.bufferMu.Lock()
	bw.buffer = append(bw.buffer, record)
	shouldFlush := len(bw.buffer) >= bw.maxBatch
	bw.bufferMu.Unlock()

	if shouldFlush {
		bw.flush()
	}
}

// Pending returns the number of buffered records
func (bw *BatchWriter[T]) Pending() int {
	bw.bufferMu.Lock()
	defer bw.bufferMu.Unlock()
	return len(bw.buffer)
}

func (bw *BatchWriter[T]) autoFlush() {
	defer bw.wg.Done()

	for {
		select {
		case <-bw.flushTicker.C:
			bw.flush()
		case <-bw.ctx.Done():
			bw.flush()
			return
		}
	}
}

func (bw *BatchWriter[T]) flush() {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.bufferMu.Lock()
	if len(bw.buffer) == 0 {
		bw.bufferMu.Unlock()
		return
	}
	toWrite := make([]T, len(bw.buffer))
	copy(toWrite, bw.buffer)
	bw.buffer = bw.buffer[:0]
	bw.bufferMu.Unlock()

	// The final flush runs after cancel, so it gets its own deadline
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := bw.flushFunc(ctx, toWrite); err != nil {
		logger.Error("failed to flush batch to ClickHouse",
			zap.String("writer", bw.name),
			zap.Int("records", len(toWrite)),
			zap.Error(err),
		)
		return
	}

	logger.Debug("flushed batch to ClickHouse",
		zap.String("writer", bw.name),
		zap.Int("records", len(toWrite)),
	)
}

// Close stops the writer and flushes remaining records
func (bw *BatchWriter[T]) Close() error {
	bw.closeOnce.Do(func() {
		bw.flushTicker.Stop()
		bw.cancel()
		bw.wg.Wait()
	})
	return nil
}

// RecommendationWriter mirrors published recommendations into the history
// table in batches
type RecommendationWriter struct {
	*BatchWriter[models.Recommendation]
}

// NewRecommendationWriter creates a batch writer over repo
func NewRecommendationWriter(repo *Repository, maxBatch int, maxWait time.Duration) *RecommendationWriter {
	return &RecommendationWriter{
		BatchWriter: NewBatchWriter("recommendations", maxBatch, maxWait, repo.SaveRecommendations),
	}
}

// Add buffers rec. It never fails; write errors surface in the flush log.
func (w *RecommendationWriter) Add(_ context.Context, rec models.Recommendation) error {
	w.BatchWriter.Add(rec)
	return nil
}
