package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// QualityFlag marks suspicious properties of a tick. Flags combine bitwise.
type QualityFlag int

const (
	QualityNonPositivePrice QualityFlag = 1 << iota
	QualityTimestampDriftFuture
	QualityStaleSample
	QualityPriceJump

	QualityNone QualityFlag = 0
)

// Has reports whether all bits of f are set
func (q QualityFlag) Has(f QualityFlag) bool {
	return q&f == f
}

func (q QualityFlag) String() string {
	if q == QualityNone {
		return "None"
	}

	names := []struct {
		flag QualityFlag
		name string
	}{
		{QualityNonPositivePrice, "NonPositivePrice"},
		{QualityTimestampDriftFuture, "TimestampDriftFuture"},
		{QualityStaleSample, "StaleSample"},
		{QualityPriceJump, "PriceJump"},
	}

	var parts []string
	for _, n := range names {
		if q.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Tick is one raw observed price sample for a pool. Ticks are append-only.
type Tick struct {
	ChainID      int64     `db:"chain_id" json:"chainId"`
	PoolAddress  string    `db:"pool_address" json:"poolAddress"`
	TimestampUTC time.Time `db:"ts_utc" json:"tsUtc"`
	// BlockNumber is 0 when unknown
	BlockNumber int64   `db:"block_number" json:"blockNumber"`
	Price       float64 `db:"price" json:"price"`

	Liquidity    decimal.NullDecimal `db:"liquidity" json:"liquidity"`
	VolumeToken0 decimal.NullDecimal `db:"volume_token0" json:"volumeToken0"`
	VolumeToken1 decimal.NullDecimal `db:"volume_token1" json:"volumeToken1"`

	// Provenance
	Source         string      `db:"source" json:"source,omitempty"`
	LatencyMs      int64       `db:"latency_ms" json:"latencyMs,omitempty"`
	FinalityStatus string      `db:"finality_status" json:"finalityStatus,omitempty"`
	QualityFlags   QualityFlag `db:"quality_flags" json:"qualityFlags"`
}

// Bar is a fixed-width OHLC rollup of ticks within one bucket
type Bar struct {
	ChainID     int64     `db:"chain_id" json:"chainId"`
	PoolAddress string    `db:"pool_address" json:"poolAddress"`
	Interval    Interval  `db:"-" json:"interval"`
	BucketUTC   time.Time `db:"ts_utc" json:"tsUtc"`
	Open        float64   `db:"open" json:"open"`
	High        float64   `db:"high" json:"high"`
	Low         float64   `db:"low" json:"low"`
	Close       float64   `db:"close" json:"close"`
	Samples     int       `db:"samples" json:"samples"`
}

// LogReturnPoint is a close-to-close log return keyed by the later bar's bucket
type LogReturnPoint struct {
	TimestampUTC time.Time
	LogReturn    float64
}
