package quality

import (
	"testing"
	"time"

	"github.com/selivandex/lp-advisor/pkg/models"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	at := func(offset time.Duration, price float64) models.Tick {
		return models.Tick{TimestampUTC: now.Add(offset), Price: price}
	}
	prev := at(-10*time.Second, 100)

	tests := []struct {
		name     string
		current  models.Tick
		previous *models.Tick
		want     models.QualityFlag
	}{
		{"clean", at(0, 101), &prev, models.QualityNone},
		{"no previous", at(0, 500), nil, models.QualityNone},
		{"zero price", at(0, 0), &prev, models.QualityNonPositivePrice},
		{"future within drift", at(15*time.Second, 100), nil, models.QualityNone},
		{"future beyond drift", at(16*time.Second, 100), nil, models.QualityTimestampDriftFuture},
		{"stale", at(-4*time.Minute, 100), nil, models.QualityStaleSample},
		{"exactly max age", at(-3*time.Minute, 100), nil, models.QualityNone},
		{"jump up", at(0, 131), &prev, models.QualityPriceJump},
		{"jump down", at(0, 69), &prev, models.QualityPriceJump},
		{"jump at limit", at(0, 130), &prev, models.QualityNone},
		{"stale jump", at(-5*time.Minute, 200), &prev, models.QualityStaleSample | models.QualityPriceJump},
		{"non-positive previous skips jump", at(0, 200), &models.Tick{Price: 0}, models.QualityNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.current, tt.previous, now); got != tt.want {
				t.Errorf("Evaluate = %s, want %s", got, tt.want)
			}
		})
	}
}
