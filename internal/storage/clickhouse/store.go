package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/selivandex/lp-advisor/internal/storage"
	"github.com/selivandex/lp-advisor/pkg/models"
)

var _ storage.Store = (*Store)(nil)

// Schema creates the tick and bar tables. Ticks are a plain MergeTree since
// they are append-only; bars use ReplacingMergeTree keyed by bucket so a
// re-run rollup replaces the previous version and FINAL reads see one row.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS pool_ticks (
		chain_id        Int64,
		pool_address    String,
		ts_utc          DateTime64(3, 'UTC'),
		block_number    Int64,
		price           Float64,
		liquidity       Nullable(Float64),
		volume_token0   Nullable(Float64),
		volume_token1   Nullable(Float64),
		source          String,
		latency_ms      Int64,
		finality_status String,
		quality_flags   UInt32
	) ENGINE = MergeTree
	ORDER BY (chain_id, pool_address, ts_utc)`,
	barTableDDL("pool_bars_1m"),
	barTableDDL("pool_bars_5m"),
}

func barTableDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		chain_id     Int64,
		pool_address String,
		ts_utc       DateTime('UTC'),
		open         Float64,
		high         Float64,
		low          Float64,
		close        Float64,
		samples      Int64,
		version      DateTime64(6, 'UTC')
	) ENGINE = ReplacingMergeTree(version)
	ORDER BY (chain_id, pool_address, ts_utc)`
}

// Store implements storage.Store on ClickHouse through database/sql.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	now     func() time.Time
}

// NewStore creates a new ClickHouse tick and bar store.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout, now: time.Now}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range Schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create clickhouse schema: %w", err)
		}
	}
	return nil
}

type tickRow struct {
	ChainID        int64     `db:"chain_id"`
	PoolAddress    string    `db:"pool_address"`
	TimestampUTC   time.Time `db:"ts_utc"`
	BlockNumber    int64     `db:"block_number"`
	Price          float64   `db:"price"`
	Liquidity      *float64  `db:"liquidity"`
	VolumeToken0   *float64  `db:"volume_token0"`
	VolumeToken1   *float64  `db:"volume_token1"`
	Source         string    `db:"source"`
	LatencyMs      int64     `db:"latency_ms"`
	FinalityStatus string    `db:"finality_status"`
	QualityFlags   uint32    `db:"quality_flags"`
}

func (r tickRow) toModel() models.Tick {
	return models.Tick{
		ChainID:        r.ChainID,
		PoolAddress:    r.PoolAddress,
		TimestampUTC:   r.TimestampUTC.UTC(),
		BlockNumber:    r.BlockNumber,
		Price:          r.Price,
		Liquidity:      fromFloatPtr(r.Liquidity),
		VolumeToken0:   fromFloatPtr(r.VolumeToken0),
		VolumeToken1:   fromFloatPtr(r.VolumeToken1),
		Source:         r.Source,
		LatencyMs:      r.LatencyMs,
		FinalityStatus: r.FinalityStatus,
		QualityFlags:   models.QualityFlag(r.QualityFlags),
	}
}

func toFloatPtr(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}

func fromFloatPtr(f *float64) decimal.NullDecimal {
	if f == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*f))
}

// InsertTick appends a raw tick. ClickHouse has no unique constraints, so a
// non-zero block number is checked with a lookup first.
func (s *Store) InsertTick(ctx context.Context, t *models.Tick) error {
	if t == nil || t.PoolAddress == "" {
		return storage.ErrInvalidInput
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pool := models.NormalizePoolID(t.PoolAddress)

	if t.BlockNumber > 0 {
		var n uint64
		err := s.db.GetContext(ctx, &n,
			`SELECT count() FROM pool_ticks WHERE chain_id = ? AND pool_address = ? AND block_number = ?`,
			t.ChainID, pool, t.BlockNumber)
		if err != nil {
			return fmt.Errorf("failed to check tick block: %w", err)
		}
		if n > 0 {
			return storage.ErrDuplicateKey
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_ticks
		(chain_id, pool_address, ts_utc, block_number, price, liquidity, volume_token0, volume_token1,
		 source, latency_ms, finality_status, quality_flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ChainID, pool, t.TimestampUTC.UTC(), t.BlockNumber, t.Price,
		toFloatPtr(t.Liquidity), toFloatPtr(t.VolumeToken0), toFloatPtr(t.VolumeToken1),
		t.Source, t.LatencyMs, t.FinalityStatus, uint32(t.QualityFlags),
	)
	if err != nil {
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

	var rows []tickRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+tickColumns+`
		FROM pool_ticks
		WHERE chain_id = ? AND pool_address = ? AND ts_utc >= ? AND ts_utc <= ?
		ORDER BY ts_utc ASC`,
		chainID, models.NormalizePoolID(pool), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get ticks: %w", err)
	}

	ticks := make([]models.Tick, len(rows))
	for i, r := range rows {
		ticks[i] = r.toModel()
	}
	return ticks, nil
}

// LatestTick returns the most recent tick for a pool.
func (s *Store) LatestTick(ctx context.Context, chainID int64, pool string) (*models.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []tickRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+tickColumns+`
		FROM pool_ticks
		WHERE chain_id = ? AND pool_address = ?
		ORDER BY ts_utc DESC
		LIMIT 1`,
		chainID, models.NormalizePoolID(pool))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest tick: %w", err)
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}

	t := rows[0].toModel()
	return &t, nil
}

// countAndDelete reports how many rows match the predicate and removes them
// with a lightweight delete. ClickHouse does not return affected rows.
func (s *Store) countAndDelete(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n uint64
	if err := s.db.GetContext(ctx, &n, `SELECT count() FROM `+table+` WHERE ts_utc < ?`, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", table, err)
	}
	if n == 0 {
		return 0, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE ts_utc < ?`, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", table, err)
	}
	return int64(n), nil
}

// PurgeTicksOlderThan deletes ticks with ts < cutoff.
func (s *Store) PurgeTicksOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.countAndDelete(ctx, "pool_ticks", cutoff)
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

// UpsertBar writes a new version of the bar. Older versions collapse on merge.
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+`
		(chain_id, pool_address, ts_utc, open, high, low, close, samples, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ChainID, models.NormalizePoolID(b.PoolAddress), b.BucketUTC.UTC(),
		b.Open, b.High, b.Low, b.Close, int64(b.Samples), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s bar: %w", b.Interval, err)
	}
	return nil
}

type barRow struct {
	ChainID     int64     `db:"chain_id"`
	PoolAddress string    `db:"pool_address"`
	BucketUTC   time.Time `db:"ts_utc"`
	Open        float64   `db:"open"`
	High        float64   `db:"high"`
	Low         float64   `db:"low"`
	Close       float64   `db:"close"`
	Samples     int64     `db:"samples"`
}

// GetBars returns bars of one interval in [from, to].
func (s *Store) GetBars(ctx context.Context, chainID int64, pool string, interval models.Interval, from, to time.Time) ([]models.Bar, error) {
	table, err := barTable(interval)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []barRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT chain_id, pool_address, ts_utc, open, high, low, close, samples
		FROM `+table+` FINAL
		WHERE chain_id = ? AND pool_address = ? AND ts_utc >= ? AND ts_utc <= ?
		ORDER BY ts_utc ASC`,
		chainID, models.NormalizePoolID(pool), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get %s bars: %w", interval, err)
	}

	bars := make([]models.Bar, len(rows))
	for i, r := range rows {
		bars[i] = models.Bar{
			ChainID:     r.ChainID,
			PoolAddress: r.PoolAddress,
			Interval:    interval,
			BucketUTC:   r.BucketUTC.UTC(),
			Open:        r.Open,
			High:        r.High,
			Low:         r.Low,
			Close:       r.Close,
			Samples:     int(r.Samples),
		}
	}
	return bars, nil
}

// PurgeBarsOlderThan deletes bars of one interval with bucket < cutoff.
func (s *Store) PurgeBarsOlderThan(ctx context.Context, interval models.Interval, cutoff time.Time) (int64, error) {
	table, err := barTable(interval)
	if err != nil {
		return 0, err
	}
	return s.countAndDelete(ctx, table, cutoff)
}

// ListKnownPools returns pools seen in ticks or bars, sorted.
func (s *Store) ListKnownPools(ctx context.Context, chainID int64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pools := []string{}
	err := s.db.SelectContext(ctx, &pools, `
		SELECT DISTINCT pool_address FROM (
			SELECT pool_address FROM pool_ticks WHERE chain_id = ?
			UNION ALL
			SELECT pool_address FROM pool_bars_5m WHERE chain_id = ?
			UNION ALL
			SELECT pool_address FROM pool_bars_1m WHERE chain_id = ?
		)
		ORDER BY pool_address ASC`,
		chainID, chainID, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list known pools: %w", err)
	}
	return pools, nil
}
