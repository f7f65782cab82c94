package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/selivandex/lp-advisor/pkg/models"
)

const (
	frameMinPools        = 2
	frameMinPoints       = 5
	frameTargetCoverage  = 0.60
	frameTargetFloor     = 20
	frameTargetCeiling   = 200
	defaultFrameFetchers = 4
)

// FrameSource is the read-only store surface the frame builder needs
type FrameSource interface {
	BarReader
	ListKnownPools(ctx context.Context, chainID int64) ([]string, error)
}

// FrameBuilder aligns several pools' bar log returns on common timestamps.
// It keeps no state between calls and is safe for concurrent use.
type FrameBuilder struct {
	source   FrameSource
	fetchers int
}

// NewFrameBuilder creates a builder that fetches up to fetchers pools at once
func NewFrameBuilder(source FrameSource, fetchers int) *FrameBuilder {
	if fetchers <= 0 {
		fetchers = defaultFrameFetchers
	}
	return &FrameBuilder{source: source, fetchers: fetchers}
}

// FrameRequest selects the pools and window of a frame
type FrameRequest struct {
	ChainID  int64
	Pools    []string
	Interval models.Interval
	From     time.Time
	To       time.Time
}

// TargetMinPoints is 60% of the buckets expected in [from, to], clamped to
// [20, 200] and never below 5.
func TargetMinPoints(interval models.Interval, from, to time.Time) int {
	minutes := math.Max(0, to.Sub(from).Minutes())
	expected := math.Floor(minutes / interval.Duration().Minutes())

	target := int(math.Round(expected * frameTargetCoverage))
	if target < frameTargetFloor {
		target = frameTargetFloor
	}
	if target > frameTargetCeiling {
		target = frameTargetCeiling
	}
	if target < frameMinPoints {
		target = frameMinPoints
	}
	return target
}

// NormalizePools trims, lower-cases and de-duplicates pool ids keeping order
func NormalizePools(pools []string) []string {
	out := make([]string, 0, len(pools))
	seen := make(map[string]struct{}, len(pools))
	for _, p := range pools {
		p = models.NormalizePoolID(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Build produces the aligned frame. Data-quality problems are reported in the
// frame with OK=false; only store failures and bad arguments return an error.
func (b *FrameBuilder) Build(ctx context.Context, req FrameRequest) (*models.ReturnsFrame, error) {
	if req.Interval.Duration() == 0 {
		return nil, fmt.Errorf("unsupported bar interval %q", req.Interval)
	}

	pools := NormalizePools(req.Pools)
	frame := &models.ReturnsFrame{
		ChainID:       req.ChainID,
		Interval:      req.Interval,
		FromUTC:       req.From.UTC(),
		ToUTC:         req.To.UTC(),
		Pools:         pools,
		PerPoolCounts: map[string]int{},
		DroppedPools:  []string{},
	}

	if len(pools) < frameMinPools {
		frame.Message = "Need at least 2 pools (use pools=... or ensure DB has >=2 pools)."
		return frame, nil
	}

	series, err := b.fetchSeries(ctx, req, pools)
	if err != nil {
		return nil, err
	}

	allEmpty := true
	for i, pool := range pools {
		frame.PerPoolCounts[pool] = len(series[i])
		if len(series[i]) > 0 {
			allEmpty = false
		}
	}
	if allEmpty {
		frame.Message = "All pools have 0 return points. Ensure bars exist and increase lookback if needed."
		return frame, nil
	}

	target := TargetMinPoints(req.Interval, req.From, req.To)
	frame.TargetPoints = target

	byPool := make(map[string]map[int64]float64, len(pools))
	for i, pool := range pools {
		byPool[pool] = series[i]
	}

	working := append([]string(nil), pools...)
	for len(working) > frameMinPools {
		if len(intersect(byPool, working)) >= target {
			break
		}
		idx := sparsest(working, frame.PerPoolCounts)
		frame.DroppedPools = append(frame.DroppedPools, working[idx])
		working = append(working[:idx:idx], working[idx+1:]...)
	}

	common := intersect(byPool, working)
	frame.Pools = working
	frame.Points = len(common)

	if len(common) == 0 {
		frame.Message = "Pools have return data but share 0 common timestamps. " +
			"This usually means bar bucket timestamps are not rounded consistently. Fix bucketing to exact boundaries."
		return frame, nil
	}

	frame.Timestamps = make([]time.Time, len(common))
	for i, ns := range common {
		frame.Timestamps[i] = time.Unix(0, ns).UTC()
	}

	if len(common) < frameMinPoints {
		msg := fmt.Sprintf("Too few common aligned points (%d). Increase lookback or allow more time for bars to populate. Selected pools: %s.",
			len(common), strings.Join(working, ", "))
		if len(frame.DroppedPools) > 0 {
			msg += fmt.Sprintf(" Dropped sparse pools: %s.", strings.Join(frame.DroppedPools, ", "))
		}
		frame.Message = msg
		return frame, nil
	}

	frame.Returns = make([][]float64, len(working))
	for i, pool := range working {
		vec := make([]float64, len(common))
		for j, ns := range common {
			vec[j] = byPool[pool][ns]
		}
		frame.Returns[i] = vec
	}

	frame.OK = true
	frame.Message = fmt.Sprintf("OK (intersection=%d points).", len(common))
	if len(frame.DroppedPools) > 0 {
		frame.Message += fmt.Sprintf(" Dropped sparse pools to meet quality threshold (target>=%d): %s.",
			target, strings.Join(frame.DroppedPools, ", "))
	}
	return frame, nil
}

// fetchSeries loads each pool's returns keyed by bucket start in unix nanos.
// Results are indexed like pools regardless of completion order.
func (b *FrameBuilder) fetchSeries(ctx context.Context, req FrameRequest, pools []string) ([]map[int64]float64, error) {
	series := make([]map[int64]float64, len(pools))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.fetchers)

	for i, pool := range pools {
		i, pool := i, pool
		g.Go(func() error {
			points, err := GetLogReturns(gctx, b.source, req.ChainID, pool, req.Interval, req.From, req.To)
			if err != nil {
				return err
			}

			m := make(map[int64]float64, len(points))
			for _, p := range points {
				m[req.Interval.Truncate(p.TimestampUTC).UnixNano()] = p.LogReturn
			}
			series[i] = m
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

// BarReader reads one interval of stored bars
type BarReader interface {
	GetBars(ctx context.Context, chainID int64, pool string, interval models.Interval, from, to time.Time) ([]models.Bar, error)
}

// GetLogReturns loads bars in [from, to] and derives their close-to-close
// log returns keyed by the later bar's bucket
func GetLogReturns(ctx context.Context, src BarReader, chainID int64, pool string, interval models.Interval, from, to time.Time) ([]models.LogReturnPoint, error) {
	bars, err := src.GetBars(ctx, chainID, pool, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s bars for %s: %w", interval, pool, err)
	}
	return BarLogReturns(bars), nil
}

// sparsest returns the index of the pool with the fewest points; ties go to
// the earliest pool in the working order.
func sparsest(working []string, counts map[string]int) int {
	idx := 0
	for i := 1; i < len(working); i++ {
		if counts[working[i]] < counts[working[idx]] {
			idx = i
		}
	}
	return idx
}

func intersect(byPool map[string]map[int64]float64, pools []string) []int64 {
	if len(pools) == 0 {
		return nil
	}

	var common []int64
	for ts := range byPool[pools[0]] {
		inAll := true
		for _, p := range pools[1:] {
			if _, ok := byPool[p][ts]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, ts)
		}
	}

	sort.Slice(common, func(i, j int) bool { return common[i] < common[j] })
	return common
}

// FrameQuery is an ad hoc frame request over a lookback ending now. When
// Pools is empty the first TakePools known pools of the chain are used.
type FrameQuery struct {
	ChainID   int64
	Pools     []string
	TakePools int
	Interval  models.Interval
	Lookback  time.Duration
}

// Query resolves q against the store and builds the frame ending at now.
func (b *FrameBuilder) Query(ctx context.Context, q FrameQuery, now time.Time) (*models.ReturnsFrame, error) {
	if q.ChainID <= 0 {
		return &models.ReturnsFrame{Message: "chainId must be > 0", PerPoolCounts: map[string]int{}}, nil
	}
	if q.Lookback <= 0 {
		return &models.ReturnsFrame{ChainID: q.ChainID, Message: "lookback must be > 0", PerPoolCounts: map[string]int{}}, nil
	}

	pools := q.Pools
	if len(NormalizePools(pools)) == 0 {
		known, err := b.source.ListKnownPools(ctx, q.ChainID)
		if err != nil {
			return nil, fmt.Errorf("failed to list known pools: %w", err)
		}
		take := q.TakePools
		if take < frameMinPools {
			take = frameMinPools
		}
		if len(known) > take {
			known = known[:take]
		}
		pools = known
	}

	to := now.UTC()
	return b.Build(ctx, FrameRequest{
		ChainID:  q.ChainID,
		Pools:    pools,
		Interval: q.Interval,
		From:     to.Add(-q.Lookback),
		To:       to,
	})
}
