package candidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultCacheTTL = 5 * time.Minute

// CachedSource is a read-through Redis cache in front of another Source.
// Cache failures fall through to the wrapped source.
type CachedSource struct {
	next   Source
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ Source = (*CachedSource)(nil)

func NewCachedSource(next Source, client *goredis.Client, ttl time.Duration, logger *zap.Logger) (*CachedSource, error) {
	if next == nil {
		return nil, fmt.Errorf("candidate source is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CachedSource{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func (s *CachedSource) SmartlistCandidates(ctx context.Context, smartlistID string) ([]domain.Candidate, error) {
	key := cacheKey(smartlistID)

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []domain.Candidate
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
		s.logger.Warn("discarding corrupt smartlist cache entry", zap.String("smartlistId", smartlistID))
	case !errors.Is(err, goredis.Nil):
		s.logger.Warn("smartlist cache read failed", zap.String("smartlistId", smartlistID), zap.Error(err))
	}

	candidates, err := s.next.SmartlistCandidates(ctx, smartlistID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(candidates)
	if err == nil {
		err = s.client.Set(ctx, key, payload, s.ttl).Err()
	}
	if err != nil {
		s.logger.Warn("smartlist cache write failed", zap.String("smartlistId", smartlistID), zap.Error(err))
	}

	return candidates, nil
}

func cacheKey(smartlistID string) string {
	return "smartlist:" + smartlistID + ":candidates"
}
