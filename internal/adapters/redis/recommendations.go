package redis

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/internal/recommendations"
	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// RecommendationStore keeps the bounded recommendation queue in a Redis
// list so the CLI and other instances can read it. Newest is at index 0.
type RecommendationStore struct {
	rdb      redis.Cmdable
	key      string
	capacity int
}

var _ recommendations.Store = (*RecommendationStore)(nil)

// NewRecommendationStore creates a store on key holding up to capacity entries
func NewRecommendationStore(rdb redis.Cmdable, key string, capacity int) *RecommendationStore {
	if capacity <= 0 {
		capacity = recommendations.DefaultCapacity
	}
	return &RecommendationStore{rdb: rdb, key: key, capacity: capacity}
}

// Add pushes rec to the head of the list and trims the tail
func (s *RecommendationStore) Add(ctx context.Context, rec models.Recommendation) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode recommendation: %w", err)
	}

	if err := s.rdb.LPush(ctx, s.key, string(raw)).Err(); err != nil {
		return fmt.Errorf("failed to push recommendation: %w", err)
	}
	if err := s.rdb.LTrim(ctx, s.key, 0, int64(s.capacity-1)).Err(); err != nil {
		return fmt.Errorf("failed to trim recommendations: %w", err)
	}
	return nil
}

// Latest returns up to n recommendations, newest first. Entries that fail to
// decode are skipped.
func (s *RecommendationStore) Latest(ctx context.Context, n int) ([]models.Recommendation, error) {
	if n <= 0 {
		n = recommendations.DefaultTake
	}
	if n > s.capacity {
		n = s.capacity
	}

	items, err := s.rdb.LRange(ctx, s.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recommendations: %w", err)
	}

	out := make([]models.Recommendation, 0, len(items))
	for _, item := range items {
		var rec models.Recommendation
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			logger.Warn("skipping undecodable recommendation", zap.String("key", s.key), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
