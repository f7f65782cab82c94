package strategy

import (
	"math"
	"testing"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/pkg/models"
)

func TestBaseScorer(t *testing.T) {
	s := NewBaseScorer()

	tests := []struct {
		name       string
		regime     models.Regime
		volNorm    float64
		reinvest   int
		reallocate int
	}{
		{"calm sideways", models.RegimeSideways, 0, 80, 30},
		{"sideways small vol", models.RegimeSideways, 0.05, 75, 38},
		{"sideways odd penalty truncates half", models.RegimeSideways, 0.125, 68, 49},
		{"trending", models.RegimeTrending, 0.1, 45, 70},
		{"volatile extreme clamps", models.RegimeVolatile, 0.5, 0, 100},
		{"vol above cap", models.RegimeVolatile, 3, 0, 100},
		{"negative vol treated as zero", models.RegimeTrending, -1, 55, 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := models.Signals{VolNorm: tt.volNorm}
			if got := s.ScoreReinvest(sig, tt.regime); got != tt.reinvest {
				t.Errorf("ScoreReinvest = %d, want %d", got, tt.reinvest)
			}
			if got := s.ScoreReallocate(sig, tt.regime); got != tt.reallocate {
				t.Errorf("ScoreReallocate = %d, want %d", got, tt.reallocate)
			}
		})
	}
}

func newTestAdjuster() *Adjuster {
	return NewAdjuster(
		config.HeatConfig{CoolThreshold: 40, HotThreshold: 70},
		config.AdjustConfig{
			ReinvestCoolBoost:    1.15,
			ReinvestHotPenalty:   0.80,
			ReallocateHotBoost:   1.20,
			SuperMacroHotPenalty: 0.90,
		},
	)
}

func TestAdjust(t *testing.T) {
	a := newTestAdjuster()

	tests := []struct {
		name                 string
		reinvest, reallocate int
		heat                 int
		superMacro           models.Optional
		wantReinvest         int
		wantReallocate       int
	}{
		{"mid heat untouched", 60, 50, 55, models.None(), 60, 50},
		{"cool boost", 60, 50, 30, models.None(), 69, 50},
		{"cool threshold inclusive", 60, 50, 40, models.None(), 69, 50},
		{"cool boost clamps at 100", 100, 50, 10, models.None(), 100, 50},
		{"hot", 60, 50, 80, models.None(), 48, 60},
		{"hot threshold inclusive", 60, 50, 70, models.None(), 48, 60},
		{"hot with hot super-macro", 60, 50, 80, models.Some(75), 43, 60},
		{"hot with warm super-macro", 60, 50, 80, models.Some(69), 48, 60},
		{"reallocate clamps at 100", 100, 100, 95, models.Some(100), 72, 100},
		{"super-macro alone does nothing", 60, 50, 55, models.Some(100), 60, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Adjust(tt.reinvest, tt.reallocate, tt.heat, tt.superMacro)
			if got.Reinvest != tt.wantReinvest || got.Reallocate != tt.wantReallocate {
				t.Errorf("Adjust = (%d, %d), want (%d, %d)", got.Reinvest, got.Reallocate, tt.wantReinvest, tt.wantReallocate)
			}
		})
	}
}

func TestAdjustAlwaysInRange(t *testing.T) {
	a := newTestAdjuster()
	extremes := []models.Optional{models.None(), models.Some(0), models.Some(100)}

	for reinvest := 0; reinvest <= 100; reinvest += 5 {
		for reallocate := 0; reallocate <= 100; reallocate += 5 {
			for heat := 0; heat <= 100; heat += 10 {
				for _, sm := range extremes {
					got := a.Adjust(reinvest, reallocate, heat, sm)
					if got.Reinvest < 0 || got.Reinvest > 100 || got.Reallocate < 0 || got.Reallocate > 100 {
						t.Fatalf("Adjust(%d, %d, %d, %v) out of range: %+v", reinvest, reallocate, heat, sm, got)
					}
					if got.ReinvestRaw > 100 || got.ReallocateRaw > 100 {
						t.Fatalf("raw values must be clamped: %+v", got)
					}
				}
			}
		}
	}
}

func TestAdjustRawKeepsFraction(t *testing.T) {
	got := newTestAdjuster().Adjust(60, 50, 80, models.Some(75))
	if math.Abs(got.ReinvestRaw-43.2) > 1e-9 {
		t.Errorf("ReinvestRaw = %v, want 43.2", got.ReinvestRaw)
	}
}
