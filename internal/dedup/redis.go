package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arganhr/mailroom/pkg/util"
)

const keyPrefix = "mailroom:seen:"

// RedisGate is the shared claim store for multi-replica deployments. SET NX
// with a TTL gives the same first-writer-wins semantics as the in-process
// gate, across instances.
type RedisGate struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGate wraps an established client.
func NewRedisGate(client *redis.Client, ttl time.Duration) *RedisGate {
	return &RedisGate{client: client, ttl: ttl}
}

func (g *RedisGate) Claim(ctx context.Context, messageID string) (bool, error) {
	if isSentinel(messageID) {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, keyPrefix+messageID, 1, g.ttl).Result()
	if err != nil {
		return false, util.NewTransientError("dedup claim failed", err)
	}
	return ok, nil
}

func (g *RedisGate) Release(ctx context.Context, messageID string) error {
	if isSentinel(messageID) {
		return nil
	}
	if err := g.client.Del(ctx, keyPrefix+messageID).Err(); err != nil {
		return util.NewTransientError("dedup release failed", err)
	}
	return nil
}
