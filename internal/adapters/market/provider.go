// Package market supplies one fresh price snapshot per pool per engine
// iteration, either from a live WebSocket feed or from a seeded stub.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selivandex/lp-advisor/pkg/models"
)

// ErrNoPrice is returned when no sufficiently fresh price is known for a pool
var ErrNoPrice = errors.New("no price available")

// Snapshot is one observation of a pool. Signals is nil when the source does
// not compute regime signals itself.
type Snapshot struct {
	Pool           models.Pool
	AsOfUTC        time.Time
	Price          float64
	BlockNumber    int64
	Liquidity      decimal.NullDecimal
	Source         string
	LatencyMs      int64
	FinalityStatus string
	Signals        *models.Signals
}

// Tick converts the snapshot to a storable tick for poolID
func (s Snapshot) Tick(poolID string) models.Tick {
	return models.Tick{
		ChainID:        s.Pool.ChainID,
		PoolAddress:    poolID,
		TimestampUTC:   s.AsOfUTC.UTC(),
		BlockNumber:    s.BlockNumber,
		Price:          s.Price,
		Liquidity:      s.Liquidity,
		Source:         s.Source,
		LatencyMs:      s.LatencyMs,
		FinalityStatus: s.FinalityStatus,
	}
}

// Provider supplies the current snapshot of a pool
type Provider interface {
	Snapshot(ctx context.Context, pool models.Pool) (Snapshot, error)
}
