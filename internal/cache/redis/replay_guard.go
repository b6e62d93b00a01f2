package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard records used request signatures with SET NX so every replica
// behind the same Redis rejects a resent request.
type ReplayGuard struct {
	rdb  *redis.Client
	keys keyspace
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{rdb: c.Underlying(), keys: c.keys}
}

func replayKey(ks keyspace, key string) string {
	return ks.key("replay", key)
}

// Claim stores key for ttl and reports whether it was not already present.
func (g *ReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, replayKey(g.keys, key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: replay claim: %w", err)
	}
	return ok, nil
}
