package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

func TestKeys(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000Cc")
	assert.Equal(t, "collection:0x00000000000000000000000000000000000000cc", collectionKey("", addr))
	assert.Equal(t, "lock:market:engine", lockKey("", "market:engine"))
	assert.Equal(t, "ratelimit:caller:0xabc", rateLimitKey("", "caller:0xabc"))
	assert.Equal(t, "replay:sig:0xabc:00ff", replayKey("", "sig:0xabc:00ff"))
}

func TestKeysUnderNamespace(t *testing.T) {
	ks := keyspace("marketd")
	addr := common.HexToAddress("0x00000000000000000000000000000000000000Cc")
	assert.Equal(t, "marketd:collection:0x00000000000000000000000000000000000000cc", collectionKey(ks, addr))
	assert.Equal(t, "marketd:lock:market:engine", lockKey(ks, "market:engine"))
	assert.Equal(t, "marketd:ratelimit:caller:0xabc", rateLimitKey(ks, "caller:0xabc"))
	assert.Equal(t, "marketd:replay:sig:0xabc:00ff", replayKey(ks, "sig:0xabc:00ff"))
	assert.Equal(t, "marketd:market:*", ks.key("market:*"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("market:*"))
	assert.False(t, hasPattern("market:events"))
}

func TestCollectionEncoding(t *testing.T) {
	c := domain.Collection{
		Address:        common.HexToAddress("0xc1"),
		Enabled:        true,
		RoyaltyPercent: 7,
		MetadataURI:    "ipfs://x",
		UpdatedAt:      time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var got domain.Collection
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, c, got)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}
