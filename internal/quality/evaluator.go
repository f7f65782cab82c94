// Package quality flags suspicious ticks before they are stored.
package quality

import (
	"math"
	"time"

	"github.com/selivandex/lp-advisor/pkg/models"
)

const (
	MaxFutureDrift = 15 * time.Second
	MaxSampleAge   = 3 * time.Minute
	// MaxPriceJump is the largest relative step from the previous tick
	MaxPriceJump = 0.30
)

// Evaluate returns the quality flags of current relative to now and the
// previous tick of the same pool, which may be nil.
func Evaluate(current models.Tick, previous *models.Tick, now time.Time) models.QualityFlag {
	flags := models.QualityNone

	if current.Price <= 0 {
		flags |= models.QualityNonPositivePrice
	}
	if current.TimestampUTC.After(now.Add(MaxFutureDrift)) {
		flags |= models.QualityTimestampDriftFuture
	}
	if now.Sub(current.TimestampUTC) > MaxSampleAge {
		flags |= models.QualityStaleSample
	}

	if previous != nil && previous.Price > 0 && current.Price > 0 {
		if math.Abs(current.Price-previous.Price)/previous.Price > MaxPriceJump {
			flags |= models.QualityPriceJump
		}
	}

	return flags
}
