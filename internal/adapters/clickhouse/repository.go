package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// HistorySchema creates the recommendation history table
var HistorySchema = `CREATE TABLE IF NOT EXISTS recommendation_history (
	id               UUID,
	created_utc      DateTime64(3, 'UTC'),
	chain_id         Int64,
	pool_address     String,
	token0           String,
	token1           String,
	fee_tier         Int32,
	regime           LowCardinality(String),
	reinvest_score   Int32,
	reallocate_score Int32,
	blended_heat     Int32,
	summary          String,
	details          String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(created_utc)
ORDER BY (chain_id, pool_address, created_utc)`

// Repository handles recommendation history in ClickHouse
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new ClickHouse repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the history table if missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, HistorySchema); err != nil {
		return fmt.Errorf("failed to create recommendation history table: %w", err)
	}
	return nil
}

// SaveRecommendations inserts recs in one batch
func (r *Repository) SaveRecommendations(ctx context.Context, recs []models.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	stmt, err := tx.Preparex(`
		INSERT INTO recommendation_history
		(id, created_utc, chain_id, pool_address, token0, token1, fee_tier, regime,
		 reinvest_score, reallocate_score, blended_heat, summary, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		details, err := json.Marshal(rec.Details)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to encode details of %s: %w", rec.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.ID.String(),
			rec.CreatedUTC.UTC(),
			rec.ChainID,
			rec.PoolAddress,
			rec.Token0,
			rec.Token1,
			rec.FeeTier,
			string(rec.Regime),
			rec.ReinvestScore,
			rec.ReallocateScore,
			rec.Details.Heat.Blended,
			rec.Summary,
			string(details),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert recommendation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("saved recommendations to ClickHouse",
		zap.Int("count", len(recs)),
	)
	return nil
}

type historyRow struct {
	ID              string    `db:"id"`
	CreatedUTC      time.Time `db:"created_utc"`
	ChainID         int64     `db:"chain_id"`
	PoolAddress     string    `db:"pool_address"`
	Token0          string    `db:"token0"`
	Token1          string    `db:"token1"`
	FeeTier         int       `db:"fee_tier"`
	Regime          string    `db:"regime"`
	ReinvestScore   int       `db:"reinvest_score"`
	ReallocateScore int       `db:"reallocate_score"`
	Summary         string    `db:"summary"`
	Details         string    `db:"details"`
}

// GetRecommendations returns a pool's history since from, newest first
func (r *Repository) GetRecommendations(ctx context.Context, chainID int64, pool string, from time.Time, limit int) ([]models.Recommendation, error) {
	query := `
		SELECT toString(id) AS id, created_utc, chain_id, pool_address, token0, token1, fee_tier,
		       regime, reinvest_score, reallocate_score, summary, details
		FROM recommendation_history
		WHERE chain_id = ? AND pool_address = ? AND created_utc >= ?
		ORDER BY created_utc DESC
		LIMIT ?
	`

	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, chainID, models.NormalizePoolID(pool), from.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to query recommendation history: %w", err)
	}

	out := make([]models.Recommendation, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			logger.Warn("skipping history row with bad id", zap.String("id", row.ID))
			continue
		}

		rec := models.Recommendation{
			ID:              id,
			CreatedUTC:      row.CreatedUTC.UTC(),
			ChainID:         row.ChainID,
			PoolAddress:     row.PoolAddress,
			Token0:          row.Token0,
			Token1:          row.Token1,
			FeeTier:         row.FeeTier,
			Regime:          models.Regime(row.Regime),
			ReinvestScore:   row.ReinvestScore,
			ReallocateScore: row.ReallocateScore,
			Summary:         row.Summary,
		}
		if err := json.Unmarshal([]byte(row.Details), &rec.Details); err != nil {
			logger.Warn("history row has undecodable details", zap.String("id", row.ID), zap.Error(err))
		}
		out = append(out, rec)
	}
	return out, nil
}
