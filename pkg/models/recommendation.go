package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recommendation is an immutable advisory decision for one pool produced by
// one engine iteration.
type Recommendation struct {
	ID              uuid.UUID `json:"id"`
	CreatedUTC      time.Time `json:"createdUtc"`
	ChainID         int64     `json:"chainId"`
	PoolAddress     string    `json:"poolAddress"`
	Token0          string    `json:"token0"`
	Token1          string    `json:"token1"`
	FeeTier         int       `json:"feeTier"`
	Regime          Regime    `json:"regime"`
	ReinvestScore   int       `json:"reinvestScore"`
	ReallocateScore int       `json:"reallocateScore"`
	Summary         string    `json:"summary"`
	Details         Details   `json:"details"`
}

// Details carries every figure that fed a recommendation
type Details struct {
	Heat    HeatBreakdown `json:"heat"`
	Ret     Timeframes    `json:"ret"`
	Vol     Timeframes    `json:"vol"`
	Signals Signals       `json:"signals"`
	Quality string        `json:"quality,omitempty"`
}

// HeatBreakdown is the blended heat and each timeframe pair's contribution
type HeatBreakdown struct {
	Blended    int      `json:"blended"`
	Tactical   Optional `json:"tactical"`
	Structural Optional `json:"structural"`
	Macro      Optional `json:"macro"`
	SuperMacro Optional `json:"superMacro"`
}

// Timeframes holds one optional figure per lookback window
type Timeframes struct {
	M5  Optional `json:"m5"`
	M15 Optional `json:"m15"`
	H1  Optional `json:"h1"`
	H6  Optional `json:"h6"`
	H24 Optional `json:"h24"`
	D30 Optional `json:"d30"`
}

// Signals are the trend/volatility inputs of regime classification
type Signals struct {
	VolNorm     float64 `json:"volNorm"`
	TrendR2     float64 `json:"trendR2"`
	EmaSlopeAbs float64 `json:"emaSlopeAbs"`
	Source      string  `json:"source"`
}

// FormatSummary renders the one-line human summary of a recommendation.
// reinvest and reallocate are the adjusted, pre-rounding scores.
func FormatSummary(regime Regime, heat HeatBreakdown, reinvest, reallocate float64) string {
	return fmt.Sprintf("Regime=%s, Heat=%d (T=%s,S=%s,M=%s,SM=%s), Reinvest=%.1f, Reallocate=%.1f",
		regime, heat.Blended,
		heat.Tactical, heat.Structural, heat.Macro, heat.SuperMacro,
		reinvest, reallocate,
	)
}
