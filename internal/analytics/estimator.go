// Package analytics holds the pure return, volatility, heat and trend
// computations plus the cross-pool returns-frame builder.
package analytics

import (
	"math"

	"github.com/selivandex/lp-advisor/pkg/models"
)

// Point is one element of a price series. For ticks Open and Close are both
// the tick price.
type Point struct {
	Open  float64
	Close float64
}

// TickPoints converts ticks to a price series
func TickPoints(ticks []models.Tick) []Point {
	out := make([]Point, len(ticks))
	for i, t := range ticks {
		out[i] = Point{Open: t.Price, Close: t.Price}
	}
	return out
}

// BarPoints converts bars to a price series
func BarPoints(bars []models.Bar) []Point {
	out := make([]Point, len(bars))
	for i, b := range bars {
		out[i] = Point{Open: b.Open, Close: b.Close}
	}
	return out
}

// LogReturn is ln(last.Close / first.Open). Absent for fewer than 2 points
// or a non-positive endpoint.
func LogReturn(series []Point) models.Optional {
	if len(series) < 2 {
		return models.None()
	}

	p0 := series[0].Open
	p1 := series[len(series)-1].Close
	if p0 <= 0 || p1 <= 0 {
		return models.None()
	}
	return models.Some(math.Log(p1 / p0))
}

// RealizedVol is the population standard deviation of consecutive close
// log returns. Pairs with a non-positive price are skipped. Absent for fewer
// than 3 points or fewer than 2 usable returns.
func RealizedVol(series []Point) models.Optional {
	if len(series) < 3 {
		return models.None()
	}

	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		p0, p1 := series[i-1].Close, series[i].Close
		if p0 <= 0 || p1 <= 0 {
			continue
		}
		returns = append(returns, math.Log(p1/p0))
	}
	if len(returns) < 2 {
		return models.None()
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return models.Some(math.Sqrt(variance))
}

// BarLogReturns returns close-to-close log returns keyed by the later bar's
// bucket. Pairs with a non-positive close are skipped.
func BarLogReturns(bars []models.Bar) []models.LogReturnPoint {
	if len(bars) < 2 {
		return nil
	}

	out := make([]models.LogReturnPoint, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		p0, p1 := bars[i-1].Close, bars[i].Close
		if p0 <= 0 || p1 <= 0 {
			continue
		}
		out = append(out, models.LogReturnPoint{
			TimestampUTC: bars[i].BucketUTC,
			LogReturn:    math.Log(p1 / p0),
		})
	}
	return out
}
