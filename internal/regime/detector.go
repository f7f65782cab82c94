// Package regime classifies pool market behaviour and filters regime flips
// through a per-pool dwell time and confirmation count.
package regime

import (
	"math"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// Detect returns the instantaneous regime for one set of signals.
// Checks run in priority order: volatile, trending, sideways, then a
// volatility-only fallback.
func Detect(s models.Signals, cfg config.RegimeConfig) models.Regime {
	switch {
	case s.VolNorm >= cfg.VolatileVolMin && s.TrendR2 <= cfg.VolatileR2Max:
		return models.RegimeVolatile
	case s.TrendR2 >= cfg.TrendR2Min && math.Abs(s.EmaSlopeAbs) >= cfg.TrendSlopeAbsMin:
		return models.RegimeTrending
	case s.VolNorm <= cfg.SidewaysVolMax && s.TrendR2 <= cfg.SidewaysR2Max:
		return models.RegimeSideways
	case s.VolNorm >= cfg.VolatileVolMin:
		return models.RegimeVolatile
	}
	return models.RegimeSideways
}
