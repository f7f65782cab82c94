package analytics

import (
	"errors"
	"fmt"
	"math"

	"github.com/selivandex/lp-advisor/pkg/models"
)

// ErrFrameNotReady is returned when correlating a frame that failed to align
var ErrFrameNotReady = errors.New("returns frame is not ok")

// Pearson is the correlation coefficient of two equally long return series.
// A series without variance has no correlation and yields 0.
func Pearson(a, b []float64) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("invalid return series lengths %d and %d", len(a), len(b))
	}

	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, nil
	}

	return cov / math.Sqrt(varA*varB), nil
}

// CorrelationMatrix is the symmetric pool-by-pool Pearson matrix of an
// aligned frame, indexed like frame.Pools
func CorrelationMatrix(frame *models.ReturnsFrame) ([][]float64, error) {
	if frame == nil || !frame.OK {
		return nil, ErrFrameNotReady
	}

	n := len(frame.Pools)
	series := make([][]float64, n)
	for i, pool := range frame.Pools {
		if series[i] = frame.Series(pool); series[i] == nil {
			return nil, fmt.Errorf("no aligned returns for %s", pool)
		}
	}

	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			r, err := Pearson(series[i], series[j])
			if err != nil {
				return nil, fmt.Errorf("%s vs %s: %w", frame.Pools[i], frame.Pools[j], err)
			}
			m[i][j], m[j][i] = r, r
		}
	}
	return m, nil
}

// MeanPairwise is the average off-diagonal entry of a correlation matrix
func MeanPairwise(m [][]float64) float64 {
	var sum float64
	var count int
	for i := range m {
		for j := i + 1; j < len(m[i]); j++ {
			sum += m[i][j]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
