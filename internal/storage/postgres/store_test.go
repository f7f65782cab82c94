package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/lp-advisor/internal/storage"
	"github.com/selivandex/lp-advisor/pkg/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return NewStore(sqlx.NewDb(mockDB, "postgres"), 5*time.Second), mock
}

var ts = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestInsertTick(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pool_ticks")).
		WithArgs(int64(1), "eth/usdc/3000", ts, int64(0), 1.5,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"stub", int64(3), "", int(models.QualityStaleSample)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.InsertTick(context.Background(), &models.Tick{
		ChainID:      1,
		PoolAddress:  "ETH/USDC/3000",
		TimestampUTC: ts,
		Price:        1.5,
		Liquidity:    decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		Source:       "stub",
		LatencyMs:    3,
		QualityFlags: models.QualityStaleSample,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTickDuplicateBlock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pool_ticks")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := s.InsertTick(context.Background(), &models.Tick{ChainID: 1, PoolAddress: "p", TimestampUTC: ts, BlockNumber: 7, Price: 1})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTicks(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"chain_id", "pool_address", "ts_utc", "block_number", "price", "liquidity", "volume_token0", "volume_token1",
		"source", "latency_ms", "finality_status", "quality_flags",
	}).
		AddRow(int64(1), "p", ts, int64(0), 1.0, nil, nil, nil, "stub", int64(0), "", int64(0)).
		AddRow(int64(1), "p", ts.Add(time.Minute), int64(12), 1.1, "2500.5", nil, nil, "ws", int64(40), "latest", int64(8))

	mock.ExpectQuery(regexp.QuoteMeta("FROM pool_ticks")).
		WithArgs(int64(1), "p", ts, ts.Add(time.Hour)).
		WillReturnRows(rows)

	ticks, err := s.GetTicks(context.Background(), 1, "P", ts, ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.False(t, ticks[0].Liquidity.Valid)
	assert.True(t, ticks[1].Liquidity.Valid)
	assert.Equal(t, "2500.5", ticks[1].Liquidity.Decimal.String())
	assert.Equal(t, models.QualityPriceJump, ticks[1].QualityFlags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestTickNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pool_ticks")).
		WillReturnRows(sqlmock.NewRows([]string{"chain_id"}))

	_, err := s.LatestTick(context.Background(), 1, "p")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpsertBarUsesIntervalTable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pool_bars_1m")).
		WithArgs(int64(1), "p", ts, 1.0, 2.0, 0.5, 1.5, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pool_bars_5m")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	bar := &models.Bar{ChainID: 1, PoolAddress: "p", Interval: models.IntervalM1, BucketUTC: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Samples: 4}
	require.NoError(t, s.UpsertBar(context.Background(), bar))

	bar.Interval = models.IntervalM5
	require.NoError(t, s.UpsertBar(context.Background(), bar))

	bar.Interval = "h1"
	assert.ErrorIs(t, s.UpsertBar(context.Background(), bar), storage.ErrInvalidInput)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBarsSetsInterval(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"chain_id", "pool_address", "ts_utc", "open", "high", "low", "close", "samples"}).
		AddRow(int64(1), "p", ts, 1.0, 1.2, 0.9, 1.1, 3)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pool_bars_5m")).WillReturnRows(rows)

	bars, err := s.GetBars(context.Background(), 1, "p", models.IntervalM5, ts, ts)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, models.IntervalM5, bars[0].Interval)
	assert.Equal(t, 3, bars[0].Samples)
}

func TestPurge(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := ts.Add(-72 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pool_ticks WHERE ts_utc < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pool_bars_5m WHERE ts_utc < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PurgeTicksOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	n, err = s.PurgeBarsOlderThan(context.Background(), models.IntervalM5, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListKnownPools(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UNION")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"pool_address"}).AddRow("a").AddRow("b"))

	pools, err := s.ListKnownPools(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, pools)
}
