package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// DefaultCollectionTTL bounds how long a cached collection may be served.
const DefaultCollectionTTL = 5 * time.Minute

// CollectionCache implements domain.CollectionCache with one JSON string per
// collection under {namespace}:collection:{address}.
type CollectionCache struct {
	rdb  *redis.Client
	keys keyspace
	ttl  time.Duration
}

// NewCollectionCache creates a CollectionCache. A non-positive ttl selects
// DefaultCollectionTTL.
func NewCollectionCache(c *Client, ttl time.Duration) *CollectionCache {
	if ttl <= 0 {
		ttl = DefaultCollectionTTL
	}
	return &CollectionCache{rdb: c.Underlying(), keys: c.keys, ttl: ttl}
}

func collectionKey(ks keyspace, addr common.Address) string {
	return ks.key("collection", strings.ToLower(addr.Hex()))
}

// Set caches c.
func (cc *CollectionCache) Set(ctx context.Context, c domain.Collection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis: marshal collection %s: %w", c.Address.Hex(), err)
	}
	if err := cc.rdb.Set(ctx, collectionKey(cc.keys, c.Address), data, cc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set collection %s: %w", c.Address.Hex(), err)
	}
	return nil
}

// Get returns the cached collection or domain.ErrNotFound.
func (cc *CollectionCache) Get(ctx context.Context, addr common.Address) (domain.Collection, error) {
	data, err := cc.rdb.Get(ctx, collectionKey(cc.keys, addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Collection{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Collection{}, fmt.Errorf("redis: get collection %s: %w", addr.Hex(), err)
	}

	var c domain.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Collection{}, fmt.Errorf("redis: unmarshal collection %s: %w", addr.Hex(), err)
	}
	return c, nil
}

// Invalidate drops the cached entry for addr.
func (cc *CollectionCache) Invalidate(ctx context.Context, addr common.Address) error {
	if err := cc.rdb.Del(ctx, collectionKey(cc.keys, addr)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate collection %s: %w", addr.Hex(), err)
	}
	return nil
}

var _ domain.CollectionCache = (*CollectionCache)(nil)
