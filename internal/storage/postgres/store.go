package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/selivandex/lp-advisor/internal/storage"
	"github.com/selivandex/lp-advisor/pkg/models"
)

var _ storage.Store = (*Store)(nil)

const uniqueViolation = "23505"

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore creates a new PostgreSQL tick and bar store. Every call is bounded
// by timeout on top of the caller's context.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

func barTable(interval models.Interval) (string, error) {
	switch interval {
	case models.IntervalM1:
		return "pool_bars_1m", nil
	case models.IntervalM5:
		return "pool_bars_5m", nil
	}
	return "", fmt.Errorf("%w: interval %q", storage.ErrInvalidInput, interval)
}

// InsertTick appends a raw tick.
func (s *Store) InsertTick(ctx context.Context, t *models.Tick) error {
	if t == nil || t.PoolAddress == "" {
		return storage.ErrInvalidInput
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO pool_ticks
		(chain_id, pool_address, ts_utc, block_number, price, liquidity, volume_token0, volume_token1,
		 source, latency_ms, finality_status, quality_flags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		t.ChainID, models.NormalizePoolID(t.PoolAddress), t.TimestampUTC.UTC(), t.BlockNumber, t.Price,
		t.Liquidity, t.VolumeToken0, t.VolumeToken1,
		t.Source, t.LatencyMs, t.FinalityStatus, int(t.QualityFlags),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert tick: %w", err)
	}
	return nil
}

const tickColumns = `chain_id, pool_address, ts_utc, block_number, price, liquidity, volume_token0, volume_token1,
		       source, latency_ms, finality_status, quality_flags`

// GetTicks returns ticks in [from, to].
func (s *Store) GetTicks(ctx context.Context, chainID int64, pool string, from, to time.Time) ([]models.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT ` + tickColumns + `
		FROM pool_ticks
		WHERE chain_id = $1 AND pool_address = $2 AND ts_utc >= $3 AND ts_utc <= $4
		ORDER BY ts_utc ASC, id ASC`

	ticks := []models.Tick{}
	if err := s.db.SelectContext(ctx, &ticks, query, chainID, models.NormalizePoolID(pool), from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("failed to get ticks: %w", err)
	}
	for i := range ticks {
		ticks[i].TimestampUTC = ticks[i].TimestampUTC.UTC()
	}
	return ticks, nil
}

// LatestTick returns the most recent tick for a pool.
func (s *Store) LatestTick(ctx context.Context, chainID int64, pool string) (*models.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT ` + tickColumns + `
		FROM pool_ticks
		WHERE chain_id = $1 AND pool_address = $2
		ORDER BY ts_utc DESC, id DESC
		LIMIT 1`

	var t models.Tick
	if err := s.db.GetContext(ctx, &t, query, chainID, models.NormalizePoolID(pool)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest tick: %w", err)
	}
	t.TimestampUTC = t.TimestampUTC.UTC()
	return &t, nil
}

// PurgeTicksOlderThan deletes ticks with ts < cutoff.
func (s *Store) PurgeTicksOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM pool_ticks WHERE ts_utc < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge ticks: %w", err)
	}
	return res.RowsAffected()
}

// UpsertBar inserts or replaces a bar.
func (s *Store) UpsertBar(ctx context.Context, b *models.Bar) error {
	if b == nil || b.PoolAddress == "" {
		return storage.ErrInvalidInput
	}
	table, err := barTable(b.Interval)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO ` + table + `
		(chain_id, pool_address, ts_utc, open, high, low, close, samples)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chain_id, pool_address, ts_utc) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			samples = EXCLUDED.samples`

	_, err = s.db.ExecContext(ctx, query,
		b.ChainID, models.NormalizePoolID(b.PoolAddress), b.BucketUTC.UTC(),
		b.Open, b.High, b.Low, b.Close, b.Samples,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s bar: %w", b.Interval, err)
	}
	return nil
}

// GetBars returns bars of one interval in [from, to].
func (s *Store) GetBars(ctx context.Context, chainID int64, pool string, interval models.Interval, from, to time.Time) ([]models.Bar, error) {
	table, err := barTable(interval)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT chain_id, pool_address, ts_utc, open, high, low, close, samples
		FROM ` + table + `
		WHERE chain_id = $1 AND pool_address = $2 AND ts_utc >= $3 AND ts_utc <= $4
		ORDER BY ts_utc ASC`

	bars := []models.Bar{}
	if err := s.db.SelectContext(ctx, &bars, query, chainID, models.NormalizePoolID(pool), from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("failed to get %s bars: %w", interval, err)
	}
	for i := range bars {
		bars[i].Interval = interval
		bars[i].BucketUTC = bars[i].BucketUTC.UTC()
	}
	return bars, nil
}

// PurgeBarsOlderThan deletes bars of one interval with bucket < cutoff.
func (s *Store) PurgeBarsOlderThan(ctx context.Context, interval models.Interval, cutoff time.Time) (int64, error) {
	table, err := barTable(interval)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE ts_utc < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s bars: %w", interval, err)
	}
	return res.RowsAffected()
}

// ListKnownPools returns pools seen in ticks or either bar table. Bars are
// included so pools stay listed after their raw ticks age out.
func (s *Store) ListKnownPools(ctx context.Context, chainID int64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT pool_address FROM pool_ticks WHERE chain_id = $1
		UNION
		SELECT pool_address FROM pool_bars_5m WHERE chain_id = $1
		UNION
		SELECT pool_address FROM pool_bars_1m WHERE chain_id = $1
		ORDER BY pool_address ASC`

	pools := []string{}
	if err := s.db.SelectContext(ctx, &pools, query, chainID); err != nil {
		return nil, fmt.Errorf("failed to list known pools: %w", err)
	}
	return pools, nil
}
