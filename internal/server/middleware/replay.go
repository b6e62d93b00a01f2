package middleware

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// ReplayGuard remembers signed requests for as long as their timestamp is
// acceptable, so each signature is honoured once.
type ReplayGuard interface {
	// Claim records key for ttl and reports whether it was unseen.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryReplayGuard is a process-local ReplayGuard. It only protects a single
// replica; deployments with several replicas share a Redis-backed guard.
type MemoryReplayGuard struct {
	seen *cache.Cache
}

// NewMemoryReplayGuard creates a MemoryReplayGuard that sweeps expired
// entries every window.
func NewMemoryReplayGuard(window time.Duration) *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: cache.New(window, window)}
}

// Claim reports false if key was claimed and has not expired yet.
func (g *MemoryReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.seen.Add(key, struct{}{}, ttl) == nil, nil
}
