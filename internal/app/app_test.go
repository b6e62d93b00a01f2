package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tokenmarket/internal/config"
	"github.com/alanyoungcy/tokenmarket/internal/sandbox"
	"github.com/alanyoungcy/tokenmarket/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sandboxConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "sandbox"
	cfg.Market.Address = "0x00000000000000000000000000000000000000aa"
	cfg.Redis.Enabled = false
	return &cfg
}

func TestWireSandboxRunsInProcess(t *testing.T) {
	cfg := sandboxConfig()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.Store{}, deps.Store)
	assert.IsType(t, &sandbox.Bus{}, deps.Bus)
	assert.NotNil(t, deps.SandboxAssets)
	assert.NotNil(t, deps.SandboxTreasury)
	assert.Equal(t, common.HexToAddress(cfg.Market.Address), deps.MarketAddress)

	// Coordination backends stay unset so callers see nil interfaces.
	assert.Nil(t, deps.Lock)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Cache)
	assert.Nil(t, deps.Replay)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Checks)
	assert.NotNil(t, deps.Notifier)
}

type countingArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (c *countingArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cutoffs = append(c.cutoffs, before)
	return 0, nil
}

func (c *countingArchiver) runs() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.cutoffs...)
}

func TestRunArchiverAppliesRetention(t *testing.T) {
	cfg := sandboxConfig()
	cfg.Archive.Interval.Duration = 10 * time.Millisecond
	cfg.Archive.Retention.Duration = time.Hour
	a := New(cfg, discardLogger())

	archiver := &countingArchiver{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.runArchiver(ctx, archiver) }()

	require.Eventually(t, func() bool { return len(archiver.runs()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	first := archiver.runs()[0]
	assert.WithinDuration(t, time.Now().UTC().Add(-time.Hour), first, time.Minute)
}
