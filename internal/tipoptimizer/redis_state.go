package tipoptimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisState persists per-tier EWMA acceptance ratios so learning survives a
// process restart. A nil client degrades to a pure pass-through (same idiom
// as the teacher's nil-client price cache): reads report !ok, writes are
// silently dropped, never blocking the outcome reconciler on Redis health.
type RedisState struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisState builds a RedisState. Passing a nil client is valid and
// yields a store that always misses.
func NewRedisState(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisState {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisState{client: client, ttl: ttl, log: log.With().Str("component", "tipoptimizer_redis").Logger()}
}

func (r *RedisState) key(tier Tier) string {
	return fmt.Sprintf("mevpipe:tipoptimizer:ewma:%s", tier)
}

// Get implements State.
func (r *RedisState) Get(tier Tier) (float64, bool) {
	if r == nil || r.client == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	val, err := r.client.Get(ctx, r.key(tier)).Float64()
	if err != nil {
		if err != redis.Nil {
			r.log.Debug().Err(err).Str("tier", string(tier)).Msg("redis get error, treating as miss")
		}
		return 0, false
	}
	return val, true
}

// Update implements State. Reads-then-writes since this is the single
// writer by contract (spec §4.E); no optimistic locking needed.
func (r *RedisState) Update(tier Tier, observed float64, alpha float64) {
	if r == nil || r.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	prev, ok := r.Get(tier)
	next := observed
	if ok {
		next = alpha*observed + (1-alpha)*prev
	}
	if err := r.client.Set(ctx, r.key(tier), next, r.ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("tier", string(tier)).Msg("failed to persist ewma")
	}
}
