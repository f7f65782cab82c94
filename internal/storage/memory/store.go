package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/selivandex/lp-advisor/internal/storage"
	"github.com/selivandex/lp-advisor/pkg/models"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu     sync.RWMutex
	ticks  map[string][]models.Tick                            // keyed by (chain, pool), sorted by ts
	blocks map[string]struct{}                                 // keyed by (chain, pool, block) for block > 0
	bars   map[models.Interval]map[string]map[int64]models.Bar // interval -> (chain, pool) -> bucket unix
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	bars := make(map[models.Interval]map[string]map[int64]models.Bar, len(models.Intervals))
	for _, iv := range models.Intervals {
		bars[iv] = make(map[string]map[int64]models.Bar)
	}
	return &Store{
		ticks:  make(map[string][]models.Tick),
		blocks: make(map[string]struct{}),
		bars:   bars,
	}
}

func poolKey(chainID int64, pool string) string {
	return fmt.Sprintf("%d|%s", chainID, models.NormalizePoolID(pool))
}

func splitPoolKey(key string) (int64, string) {
	chain, pool, _ := strings.Cut(key, "|")
	chainID, _ := strconv.ParseInt(chain, 10, 64)
	return chainID, pool
}

// InsertTick appends a tick keeping per-pool order by timestamp.
func (s *Store) InsertTick(_ context.Context, tick *models.Tick) error {
	if tick == nil || tick.PoolAddress == "" {
		return storage.ErrInvalidInput
	}

	t := *tick
	t.PoolAddress = models.NormalizePoolID(t.PoolAddress)
	t.TimestampUTC = t.TimestampUTC.UTC()
	key := poolKey(t.ChainID, t.PoolAddress)

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.BlockNumber > 0 {
		bk := fmt.Sprintf("%s|%d", key, t.BlockNumber)
		if _, exists := s.blocks[bk]; exists {
			return storage.ErrDuplicateKey
		}
		s.blocks[bk] = struct{}{}
	}

	list := s.ticks[key]
	// Insert after any tick with the same timestamp so arrival order is kept
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].TimestampUTC.After(t.TimestampUTC)
	})
	list = append(list, models.Tick{})
	copy(list[idx+1:], list[idx:])
	list[idx] = t
	s.ticks[key] = list

	return nil
}

// GetTicks returns a copy of ticks in [from, to].
func (s *Store) GetTicks(_ context.Context, chainID int64, pool string, from, to time.Time) ([]models.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.ticks[poolKey(chainID, pool)]
	lo := sort.Search(len(list), func(i int) bool { return !list[i].TimestampUTC.Before(from) })
	hi := sort.Search(len(list), func(i int) bool { return list[i].TimestampUTC.After(to) })
	if lo >= hi {
		return []models.Tick{}, nil
	}

	out := make([]models.Tick, hi-lo)
	copy(out, list[lo:hi])
	return out, nil
}

// LatestTick returns the most recent tick for a pool.
func (s *Store) LatestTick(_ context.Context, chainID int64, pool string) (*models.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.ticks[poolKey(chainID, pool)]
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	t := list[len(list)-1]
	return &t, nil
}

// PurgeTicksOlderThan deletes ticks strictly before cutoff.
func (s *Store) PurgeTicksOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for key, list := range s.ticks {
		idx := sort.Search(len(list), func(i int) bool { return !list[i].TimestampUTC.Before(cutoff) })
		if idx == 0 {
			continue
		}
		for _, t := range list[:idx] {
			if t.BlockNumber > 0 {
				delete(s.blocks, fmt.Sprintf("%s|%d", key, t.BlockNumber))
			}
		}
		purged += int64(idx)
		if idx == len(list) {
			delete(s.ticks, key)
			continue
		}
		s.ticks[key] = append([]models.Tick(nil), list[idx:]...)
	}
	return purged, nil
}

// UpsertBar inserts or replaces a bar.
func (s *Store) UpsertBar(_ context.Context, bar *models.Bar) error {
	if bar == nil || bar.PoolAddress == "" {
		return storage.ErrInvalidInput
	}
	byPool, ok := s.bars[bar.Interval]
	if !ok {
		return fmt.Errorf("%w: interval %q", storage.ErrInvalidInput, bar.Interval)
	}

	b := *bar
	b.PoolAddress = models.NormalizePoolID(b.PoolAddress)
	b.BucketUTC = b.BucketUTC.UTC()
	key := poolKey(b.ChainID, b.PoolAddress)

	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, ok := byPool[key]
	if !ok {
		buckets = make(map[int64]models.Bar)
		byPool[key] = buckets
	}
	buckets[b.BucketUTC.Unix()] = b
	return nil
}

// GetBars returns bars of one interval in [from, to], ordered by bucket.
func (s *Store) GetBars(_ context.Context, chainID int64, pool string, interval models.Interval, from, to time.Time) ([]models.Bar, error) {
	byPool, ok := s.bars[interval]
	if !ok {
		return nil, fmt.Errorf("%w: interval %q", storage.ErrInvalidInput, interval)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Bar, 0)
	for _, b := range byPool[poolKey(chainID, pool)] {
		if b.BucketUTC.Before(from) || b.BucketUTC.After(to) {
			continue
		}
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].BucketUTC.Before(out[j].BucketUTC) })
	return out, nil
}

// PurgeBarsOlderThan deletes bars of one interval strictly before cutoff.
func (s *Store) PurgeBarsOlderThan(_ context.Context, interval models.Interval, cutoff time.Time) (int64, error) {
	byPool, ok := s.bars[interval]
	if !ok {
		return 0, fmt.Errorf("%w: interval %q", storage.ErrInvalidInput, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for key, buckets := range byPool {
		for ts, b := range buckets {
			if b.BucketUTC.Before(cutoff) {
				delete(buckets, ts)
				purged++
			}
		}
		if len(buckets) == 0 {
			delete(byPool, key)
		}
	}
	return purged, nil
}

// ListKnownPools returns distinct pool ids from ticks and bars, sorted.
func (s *Store) ListKnownPools(_ context.Context, chainID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	collect := func(key string) {
		if c, pool := splitPoolKey(key); c == chainID {
			seen[pool] = struct{}{}
		}
	}

	for key := range s.ticks {
		collect(key)
	}
	for _, byPool := range s.bars {
		for key := range byPool {
			collect(key)
		}
	}

	out := make([]string, 0, len(seen))
	for pool := range seen {
		out = append(out, pool)
	}
	sort.Strings(out)
	return out, nil
}
