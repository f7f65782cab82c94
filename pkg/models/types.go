package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Regime represents the classified market behaviour of a pool
type Regime string

const (
	RegimeSideways Regime = "Sideways"
	RegimeTrending Regime = "Trending"
	RegimeVolatile Regime = "Volatile"
)

// Valid reports whether r is one of the known regimes
func (r Regime) Valid() bool {
	switch r {
	case RegimeSideways, RegimeTrending, RegimeVolatile:
		return true
	}
	return false
}

// Interval is a bar width class
type Interval string

const (
	IntervalM1 Interval = "m1"
	IntervalM5 Interval = "m5"
)

// Intervals lists every bar interval that is rolled up and stored
var Intervals = []Interval{IntervalM1, IntervalM5}

// ParseInterval accepts "m1"/"1m" and "m5"/"5m" (case-insensitive)
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m1", "1m":
		return IntervalM1, nil
	case "m5", "5m":
		return IntervalM5, nil
	}
	return "", fmt.Errorf("unknown bar interval %q", s)
}

// Duration returns the bucket width
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalM1:
		return time.Minute
	case IntervalM5:
		return 5 * time.Minute
	}
	return 0
}

// Truncate floors t to the start of its bucket in UTC
func (i Interval) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(i.Duration())
}

// Optional is a float that may be absent. Absent is distinct from zero and
// is encoded as JSON null.
type Optional struct {
	Value float64
	Valid bool
}

// Some wraps a present value
func Some(v float64) Optional {
	return Optional{Value: v, Valid: true}
}

// None is the absent value
func None() Optional {
	return Optional{}
}

// Get returns the value and whether it is present
func (o Optional) Get() (float64, bool) {
	return o.Value, o.Valid
}

func (o Optional) String() string {
	if !o.Valid {
		return "n/a"
	}
	return strconv.FormatFloat(o.Value, 'g', -1, 64)
}

func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
