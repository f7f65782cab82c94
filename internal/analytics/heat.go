package analytics

import (
	"math"

	"github.com/selivandex/lp-advisor/pkg/models"
)

const (
	heatBaseline       = 50.0
	volRatioWeight     = 30.0
	disagreementBump   = 10.0
	momentumScale      = 200.0
	momentumCap        = 10.0
	neutralBlendedHeat = 50

	tacticalWeight   = 0.50
	structuralWeight = 0.30
	superMacroWeight = 0.20
)

// PairHeat scores one short/long timeframe pair on 0..100. The result is
// absent only when the vol ratio and both returns are all unavailable.
func PairHeat(volShort, volLong, retShort, retLong models.Optional) models.Optional {
	var ratio models.Optional
	if volShort.Valid && volLong.Valid && volLong.Value > 0 {
		ratio = models.Some(volShort.Value / volLong.Value)
	}

	if !ratio.Valid && !retShort.Valid && !retLong.Valid {
		return models.None()
	}

	score := heatBaseline
	if ratio.Valid {
		score += (ratio.Value - 1) * volRatioWeight
	}
	if retShort.Valid && retLong.Valid && sign(retShort.Value) != sign(retLong.Value) {
		score += disagreementBump
	}
	// Momentum only looks at the short leg
	if retShort.Valid {
		score += math.Min(momentumCap, math.Abs(retShort.Value)*momentumScale)
	}

	return models.Some(math.Round(clamp(score, 0, 100)))
}

// Blend is the weighted average of the present components renormalized over
// their weights, or 50 when none are present. Macro is reported but never
// blended.
func Blend(tactical, structural, superMacro models.Optional) int {
	var wsum, sum float64
	for _, part := range []struct {
		w float64
		v models.Optional
	}{
		{tacticalWeight, tactical},
		{structuralWeight, structural},
		{superMacroWeight, superMacro},
	} {
		if !part.v.Valid {
			continue
		}
		wsum += part.w
		sum += part.w * part.v.Value
	}

	if wsum == 0 {
		return neutralBlendedHeat
	}
	return int(math.Round(clamp(sum/wsum, 0, 100)))
}

// Heat computes every timeframe pair from per-window returns and vols:
// tactical 5m/1h, structural 15m/6h, macro 1h/24h, super-macro 24h/30d.
func Heat(ret, vol models.Timeframes) models.HeatBreakdown {
	h := models.HeatBreakdown{
		Tactical:   PairHeat(vol.M5, vol.H1, ret.M5, ret.H1),
		Structural: PairHeat(vol.M15, vol.H6, ret.M15, ret.H6),
		Macro:      PairHeat(vol.H1, vol.H24, ret.H1, ret.H24),
		SuperMacro: PairHeat(vol.H24, vol.D30, ret.H24, ret.D30),
	}
	h.Blended = Blend(h.Tactical, h.Structural, h.SuperMacro)
	return h
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
