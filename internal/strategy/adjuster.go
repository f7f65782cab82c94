package strategy

import (
	"math"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// Adjusted holds heat-adjusted scores. The raw values are clamped but not
// rounded and feed the recommendation summary.
type Adjusted struct {
	Reinvest      int
	Reallocate    int
	ReinvestRaw   float64
	ReallocateRaw float64
}

// Adjuster rescales base scores by blended heat, favouring caution when hot
type Adjuster struct {
	heat   config.HeatConfig
	adjust config.AdjustConfig
}

// NewAdjuster creates an adjuster for the given thresholds and multipliers
func NewAdjuster(heat config.HeatConfig, adjust config.AdjustConfig) *Adjuster {
	return &Adjuster{heat: heat, adjust: adjust}
}

// Adjust boosts reinvest in cool markets. In hot markets it cuts reinvest,
// boosts reallocate, and cuts reinvest again when super-macro heat is also
// hot. Multipliers compose and the result is clamped to [0, 100] only once
// at the end, then rounded half away from zero.
func (a *Adjuster) Adjust(reinvest, reallocate, heat int, superMacro models.Optional) Adjusted {
	r := float64(reinvest)
	q := float64(reallocate)

	if heat <= a.heat.CoolThreshold {
		r *= a.adjust.ReinvestCoolBoost
	} else if heat >= a.heat.HotThreshold {
		r *= a.adjust.ReinvestHotPenalty
		q *= a.adjust.ReallocateHotBoost

		if superMacro.Valid && superMacro.Value >= float64(a.heat.HotThreshold) {
			r *= a.adjust.SuperMacroHotPenalty
		}
	}

	r = clamp(r, 0, 100)
	q = clamp(q, 0, 100)

	return Adjusted{
		Reinvest:      int(math.Round(r)),
		Reallocate:    int(math.Round(q)),
		ReinvestRaw:   r,
		ReallocateRaw: q,
	}
}
