package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/cinar/indicator"

	"github.com/selivandex/lp-advisor/pkg/models"
)

const (
	atrPeriod = 14
	emaPeriod = 20
	// slopeLookback is one hour of 5m bars
	slopeLookback = 12
	// barsPerDay scales a per-bar ATR ratio to a daily figure
	barsPerDay = 288

	// MinBars is the shortest bar series Signals accepts
	MinBars = emaPeriod + slopeLookback
)

// ErrInsufficientBars is returned when there is not enough history
var ErrInsufficientBars = errors.New("insufficient bars for trend signals")

// Calculator derives regime classification signals from 5m bars
type Calculator struct{}

// NewCalculator creates new signal calculator
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Signals computes:
//   - VolNorm: ATR(14) over the last close, scaled to a day
//   - TrendR2: R² of a least-squares line through ln(close)
//   - EmaSlopeAbs: |EMA20 now / EMA20 one hour ago - 1|
func (c *Calculator) Signals(bars []models.Bar) (models.Signals, error) {
	if len(bars) < MinBars {
		return models.Signals{}, fmt.Errorf("%w: need %d, got %d", ErrInsufficientBars, MinBars, len(bars))
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	logCloses := make([]float64, len(bars))

	for i, b := range bars {
		if b.Close <= 0 || b.High <= 0 || b.Low <= 0 {
			return models.Signals{}, fmt.Errorf("non-positive price in bar %s", b.BucketUTC)
		}
		highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
		logCloses[i] = math.Log(b.Close)
	}

	last := len(bars) - 1

	_, atr := indicator.Atr(atrPeriod, highs, lows, closes)
	volNorm := atr[last] / closes[last] * math.Sqrt(barsPerDay)

	ema := indicator.Ema(emaPeriod, closes)
	var slope float64
	if prev := ema[last-slopeLookback]; prev > 0 {
		slope = math.Abs(ema[last]/prev - 1)
	}

	return models.Signals{
		VolNorm:     volNorm,
		TrendR2:     RSquared(logCloses),
		EmaSlopeAbs: slope,
		Source:      "bars",
	}, nil
}

// RSquared is the coefficient of determination of an OLS fit of values
// against their index. A flat series has no trend and yields 0.
func RSquared(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sumX, sumY float64
	for i, y := range values {
		sumX += float64(i)
		sumY += y
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy, syy float64
	for i, y := range values {
		dx, dy := float64(i)-meanX, y-meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return (sxy * sxy) / (sxx * syy)
}
