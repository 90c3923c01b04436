package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const pricingKey = "fitting:pricing"

// PricingSource - fitting_pricing 테이블 조회
type PricingSource interface {
	PricingOverrides(ctx context.Context) (map[string]int, error)
}

// PricingCache - 가격 override 를 TTL 동안 Redis 에 캐싱.
// Redis 오류는 source 직접 조회로 대체
type PricingCache struct {
	rdb    *redis.Client
	source PricingSource
	ttl    time.Duration
}

func NewPricingCache(rdb *redis.Client, source PricingSource, ttl time.Duration) *PricingCache {
	return &PricingCache{rdb: rdb, source: source, ttl: ttl}
}

// PricingOverrides - 캐시 hit 이면 Redis, miss 면 source 조회 후 저장
func (c *PricingCache) PricingOverrides(ctx context.Context) (map[string]int, error) {
	raw, err := c.rdb.Get(ctx, pricingKey).Bytes()
	if err == nil {
		var cached map[string]int
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			return cached, nil
		}
		log.Warn().Msg("⚠️  [Redis] Corrupt pricing cache entry, reloading")
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Msg("⚠️  [Redis] Pricing cache read failed")
	}

	overrides, err := c.source.PricingOverrides(ctx)
	if err != nil {
		return nil, err
	}

	if encoded, jerr := json.Marshal(overrides); jerr == nil {
		if serr := c.rdb.Set(ctx, pricingKey, encoded, c.ttl).Err(); serr != nil {
			log.Warn().Err(serr).Msg("⚠️  [Redis] Pricing cache write failed")
		}
	}
	return overrides, nil
}
