// Package strategy turns a confirmed regime and heat into reinvest and
// reallocate advice scores.
package strategy

import (
	"math"

	"github.com/selivandex/lp-advisor/pkg/models"
)

// Scorer produces base 0..100 scores before heat adjustment
type Scorer interface {
	ScoreReinvest(s models.Signals, regime models.Regime) int
	ScoreReallocate(s models.Signals, regime models.Regime) int
}

// BaseScorer rewards calm ranges for reinvesting and risky regimes for
// reallocating. Volatility shifts both scores.
type BaseScorer struct{}

// NewBaseScorer creates the default scorer
func NewBaseScorer() *BaseScorer {
	return &BaseScorer{}
}

// ScoreReinvest starts at 70, shifts by regime and subtracts half of a
// 0..100 volatility penalty.
func (BaseScorer) ScoreReinvest(s models.Signals, regime models.Regime) int {
	score := 70
	switch regime {
	case models.RegimeSideways:
		score += 10
	case models.RegimeTrending:
		score -= 15
	case models.RegimeVolatile:
		score -= 25
	}

	volPenalty := int(math.RoundToEven(200 * clamp(s.VolNorm, 0, 0.5)))
	score -= volPenalty / 2

	return clampInt(score, 0, 100)
}

// ScoreReallocate starts at 30 and rises with trending or volatile regimes
// and with volatility.
func (BaseScorer) ScoreReallocate(s models.Signals, regime models.Regime) int {
	score := 30
	switch regime {
	case models.RegimeTrending:
		score += 25
	case models.RegimeVolatile:
		score += 35
	}

	score += int(math.RoundToEven(150 * clamp(s.VolNorm, 0, 0.5)))

	return clampInt(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
