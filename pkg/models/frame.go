package models

import "time"

// ReturnsFrame is a timestamp-aligned matrix of per-pool log returns.
// Returns[i] belongs to Pools[i] and has len(Timestamps) entries.
type ReturnsFrame struct {
	OK            bool           `json:"ok"`
	Message       string         `json:"message"`
	ChainID       int64          `json:"chainId"`
	Interval      Interval       `json:"interval"`
	FromUTC       time.Time      `json:"fromUtc"`
	ToUTC         time.Time      `json:"toUtc"`
	Points        int            `json:"points"`
	TargetPoints  int            `json:"targetPoints"`
	Pools         []string       `json:"pools"`
	Timestamps    []time.Time    `json:"timestampsUtc"`
	Returns       [][]float64    `json:"returns"`
	PerPoolCounts map[string]int `json:"perPoolCounts"`
	DroppedPools  []string       `json:"droppedPools"`
}

// Series returns the aligned return vector for pool, or nil
func (f *ReturnsFrame) Series(pool string) []float64 {
	for i, p := range f.Pools {
		if p == pool && i < len(f.Returns) {
			return f.Returns[i]
		}
	}
	return nil
}
