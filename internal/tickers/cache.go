package tickers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "holdings-sync:cusip:"

// redisClient is the subset of *redis.Client used by RedisCache.
type redisClient interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache caches resolutions from next in Redis. CUSIPs next could not map
// are cached as misses so they are not looked up again until the TTL lapses.
// Redis failures are logged and resolution falls through to next.
type RedisCache struct {
	client redisClient
	ttl    time.Duration
	next   Resolver
}

// NewRedisCache wraps next with a Redis cache.
func NewRedisCache(client redisClient, ttl time.Duration, next Resolver) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, next: next}
}

func cacheKey(cusip string) string { return cacheKeyPrefix + cusip }

// Resolve implements Resolver.
func (c *RedisCache) Resolve(ctx context.Context, cusips []string) (map[string]Security, error) {
	log := zap.L().With(zap.String("component", "tickers.cache"))

	cusips = dedupe(cusips)
	found := make(map[string]Security, len(cusips))
	if len(cusips) == 0 {
		return found, nil
	}

	cached := make(map[string]bool, len(cusips))
	keys := make([]string, len(cusips))
	for i, cusip := range cusips {
		keys[i] = cacheKey(cusip)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Warn("ticker cache read failed", zap.Error(err))
		vals = nil
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		cached[cusips[i]] = true
		if s == "" {
			continue
		}
		var sec Security
		if err := json.Unmarshal([]byte(s), &sec); err != nil || sec.Ticker == "" {
			delete(cached, cusips[i])
			continue
		}
		found[cusips[i]] = sec
	}

	var rest []string
	for _, cusip := range cusips {
		if !cached[cusip] {
			rest = append(rest, cusip)
		}
	}
	if len(rest) == 0 || c.next == nil {
		return found, nil
	}

	more, err := c.next.Resolve(ctx, rest)
	for cusip, sec := range more {
		found[cusip] = sec
	}
	if err != nil {
		// Partial results are kept but misses are not recorded: they may be
		// lookup failures rather than unknown CUSIPs.
		c.store(ctx, more, nil)
		return found, err
	}
	c.store(ctx, more, rest)
	return found, nil
}

func (c *RedisCache) store(ctx context.Context, hits map[string]Security, requested []string) {
	log := zap.L().With(zap.String("component", "tickers.cache"))

	for cusip, sec := range hits {
		data, err := json.Marshal(sec)
		if err != nil {
			continue
		}
		if err := c.client.Set(ctx, cacheKey(cusip), string(data), c.ttl).Err(); err != nil {
			log.Warn("ticker cache write failed", zap.String("cusip", cusip), zap.Error(err))
			return
		}
	}
	for _, cusip := range requested {
		if _, ok := hits[cusip]; ok {
			continue
		}
		if err := c.client.Set(ctx, cacheKey(cusip), "", c.ttl).Err(); err != nil {
			log.Warn("ticker cache write failed", zap.String("cusip", cusip), zap.Error(err))
			return
		}
	}
}
