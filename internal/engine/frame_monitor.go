package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/internal/analytics"
	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/metrics"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// FrameMonitor periodically builds the default returns frame of every chain
// and reports whether the stored bars are dense enough to align
type FrameMonitor struct {
	builder *analytics.FrameBuilder
	chains  []int64
	query   analytics.FrameQuery
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewFrameMonitor creates a monitor over the chains of pools. query supplies
// the interval, lookback and top-N; its ChainID and Pools are ignored.
func NewFrameMonitor(builder *analytics.FrameBuilder, pools []models.Pool, query analytics.FrameQuery, m *metrics.Metrics) *FrameMonitor {
	seen := map[int64]struct{}{}
	var chains []int64
	for _, p := range pools {
		if _, ok := seen[p.ChainID]; ok {
			continue
		}
		seen[p.ChainID] = struct{}{}
		chains = append(chains, p.ChainID)
	}

	query.Pools = nil
	return &FrameMonitor{
		builder: builder,
		chains:  chains,
		query:   query,
		metrics: m,
		now:     time.Now,
	}
}

// Name returns worker name
func (fm *FrameMonitor) Name() string {
	return "frame_monitor"
}

// Run builds one frame per chain
func (fm *FrameMonitor) Run(ctx context.Context) error {
	for _, chainID := range fm.chains {
		q := fm.query
		q.ChainID = chainID

		frame, err := fm.builder.Query(ctx, q, fm.now())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("returns frame build failed", zap.Int64("chain_id", chainID), zap.Error(err))
			continue
		}

		fm.metrics.ObserveFrame(frame.OK)
		fields := []zap.Field{
			zap.Int64("chain_id", chainID),
			zap.Bool("ok", frame.OK),
			zap.Int("points", frame.Points),
			zap.Strings("pools", frame.Pools),
			zap.Strings("dropped", frame.DroppedPools),
			zap.String("message", frame.Message),
		}
		if corr, err := analytics.CorrelationMatrix(frame); err == nil {
			fields = append(fields, zap.Float64("mean_correlation", analytics.MeanPairwise(corr)))
		}
		logger.Info("returns frame", fields...)
	}
	return nil
}
