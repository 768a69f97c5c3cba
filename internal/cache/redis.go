package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// ShortCodePrefix is the prefix for short code keys in Redis
	ShortCodePrefix = "short:code:"
	// RateLimitPrefix is the prefix for rate limit counter keys in Redis
	RateLimitPrefix = "short:ratelimit:"
	// DefaultTTL is the default TTL for cached entries (24 hours)
	DefaultTTL = 24 * time.Hour
)

// Entry is the cached projection of a short link. Absence from the cache is
// indistinguishable from "not yet cached"; callers fall through to the store.
type Entry struct {
	TargetURL string     `json:"target_url"`
	OwnerID   string     `json:"owner_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// State tags the outcome of a cache lookup
type State int

const (
	// Miss means the key was not cached
	Miss State = iota
	// Hit means the key was cached and the entry is populated
	Hit
	// Unavailable means the backend failed; callers must treat it like Miss
	Unavailable
)

// Result is a tagged cache lookup outcome
type Result struct {
	State State
	Entry Entry
}

// RedisCache wraps the Redis client used for link entries and rate limiting.
// Every read path degrades to a miss on backend failure; the cache is never
// allowed to turn an outage into a caller-visible error.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, logger: logger}, nil
}

// Lookup retrieves the cached entry for a short code
func (r *RedisCache) Lookup(ctx context.Context, shortCode string) Result {
	val, err := r.client.Get(ctx, ShortCodePrefix+shortCode).Bytes()
	if err == redis.Nil {
		return Result{State: Miss}
	}
	if err != nil {
		r.logger.Warn("cache lookup failed, degrading to miss",
			zap.String("short_code", shortCode), zap.Error(err))
		return Result{State: Unavailable}
	}

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		r.logger.Warn("cache entry corrupt, degrading to miss",
			zap.String("short_code", shortCode), zap.Error(err))
		return Result{State: Unavailable}
	}
	return Result{State: Hit, Entry: entry}
}

// SetIfAbsent stores an entry under a short code only when no entry exists yet.
// First-writer-wins keeps two creators racing on the same deterministic code
// from clobbering each other's target. A non-positive ttl uses DefaultTTL.
func (r *RedisCache) SetIfAbsent(ctx context.Context, shortCode string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := r.client.SetNX(ctx, ShortCodePrefix+shortCode, val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in Redis: %w", err)
	}
	return nil
}

// Remove deletes a short code from the cache unconditionally
func (r *RedisCache) Remove(ctx context.Context, shortCode string) error {
	if err := r.client.Del(ctx, ShortCodePrefix+shortCode).Err(); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return nil
}

// Allow performs an atomic rate limit check for key. The counter is bumped
// with INCR and the window TTL armed with EXPIRE NX in one pipeline round
// trip, so concurrent first-requests cannot each restart the window. On
// backend failure the limiter fails open: the redirect path stays available.
func (r *RedisCache) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	redisKey := RateLimitPrefix + key

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("rate limiter unavailable, failing open",
			zap.String("key", key), zap.Error(err))
		return true
	}

	return incr.Val() <= int64(limit)
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}
