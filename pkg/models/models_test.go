package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePool(t *testing.T) {
	p, err := ParsePool(" 1:ETH/USDC/3000 ")
	require.NoError(t, err)
	assert.Equal(t, Pool{ChainID: 1, Token0: "ETH", Token1: "USDC", FeeTier: 3000}, p)
	assert.Equal(t, "eth/usdc/3000", p.ID())

	p, err = ParsePool("42161:WETH/ARB/500@0xC6F780497A95e246EB9449f5e4770916DCd6396A")
	require.NoError(t, err)
	assert.Equal(t, "0xc6f780497a95e246eb9449f5e4770916dcd6396a", p.ID())
	assert.Equal(t, "42161:WETH/ARB/500@0xC6F780497A95e246EB9449f5e4770916DCd6396A", p.String())

	for _, bad := range []string{"ETH/USDC/3000", "x:ETH/USDC/3000", "1:ETH/USDC", "1:ETH/USDC/fee", "1:/USDC/3000"} {
		_, err := ParsePool(bad)
		assert.Error(t, err, bad)
	}
}

func TestIntervalTruncate(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 7, 59, 999, time.FixedZone("X", 3*3600))

	assert.Equal(t, time.Date(2024, 3, 1, 7, 7, 0, 0, time.UTC), IntervalM1.Truncate(ts))
	assert.Equal(t, time.Date(2024, 3, 1, 7, 5, 0, 0, time.UTC), IntervalM5.Truncate(ts))

	iv, err := ParseInterval("5M")
	require.NoError(t, err)
	assert.Equal(t, IntervalM5, iv)

	_, err = ParseInterval("h1")
	assert.Error(t, err)
}

func TestOptionalJSON(t *testing.T) {
	data, err := json.Marshal(Timeframes{M5: Some(0), H1: Some(0.25)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"m5":0,"m15":null,"h1":0.25,"h6":null,"h24":null,"d30":null}`, string(data))

	var tf Timeframes
	require.NoError(t, json.Unmarshal(data, &tf))
	assert.True(t, tf.M5.Valid)
	assert.False(t, tf.M15.Valid)
}

func TestQualityFlagString(t *testing.T) {
	assert.Equal(t, "None", QualityNone.String())
	assert.Equal(t, "NonPositivePrice|PriceJump", (QualityNonPositivePrice | QualityPriceJump).String())
}

func TestFormatSummary(t *testing.T) {
	heat := HeatBreakdown{Blended: 62, Tactical: Some(70), Structural: Some(50), SuperMacro: None()}
	got := FormatSummary(RegimeTrending, heat, 44.56, 81)
	assert.Equal(t, "Regime=Trending, Heat=62 (T=70,S=50,M=n/a,SM=n/a), Reinvest=44.6, Reallocate=81.0", got)
}
