package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/store/memory"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart++
	m.mu.Unlock()
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.ArchiveObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ArchiveObject
	for p, b := range m.objects {
		cutoff, ok := archiveCutoff(p)
		if ok && strings.HasPrefix(p, prefix) {
			out = append(out, domain.ArchiveObject{Path: p, Size: int64(len(b)), Cutoff: cutoff})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func seedEvents(t *testing.T, store *memory.Store, at ...time.Time) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for i, ts := range at {
		require.NoError(t, tx.AppendEvent(ctx, domain.Event{
			ID:         string(rune('a' + i)),
			Type:       domain.EventTokenBought,
			Collection: common.HexToAddress("0xc1"),
			TokenID:    big.NewInt(int64(i)),
			Value:      big.NewInt(1000),
			CreatedAt:  ts,
		}))
	}
	require.NoError(t, tx.Commit(ctx))
}

func TestArchiveEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	blobs := newMemBlobs()
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	seedEvents(t, store, base, base.Add(time.Hour), base.Add(48*time.Hour))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewEventArchiver(blobs, blobs, store, store, store.Audit(), logger)

	cutoff := base.Add(24 * time.Hour)
	n, err := a.ArchiveEvents(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	path := "archive/events/2026-05/20260511T120000Z.jsonl"
	archived, err := a.ReadArchive(ctx, path)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.Equal(t, "a", archived[0].ID)
	assert.Zero(t, big.NewInt(1000).Cmp(archived[1].Value))

	remaining, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, remaining, 1, "archived events pruned")

	again, err := a.ArchiveEvents(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, again)

	entries, err := store.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.events", entries[0].Event)

	infos, err := a.ListArchives(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestArchiveEventsExportsEachEventOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	blobs := newMemBlobs()
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	seedEvents(t, store, base, base.Add(time.Hour), base.Add(48*time.Hour))

	// No pruner: events stay in the store between runs.
	a := NewEventArchiver(blobs, blobs, store, nil, store.Audit(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveEvents(ctx, base.Add(24*time.Hour+500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = a.ArchiveEvents(ctx, base.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for _, cutoff := range []time.Time{base.Add(72 * time.Hour), base.Add(12 * time.Hour)} {
		n, err = a.ArchiveEvents(ctx, cutoff)
		require.NoError(t, err)
		assert.Zero(t, n, "cutoff %s", cutoff)
	}

	infos, err := a.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[0].Cutoff.Before(infos[1].Cutoff), "oldest archive first")

	seen := make(map[string]int)
	for _, info := range infos {
		events, err := a.ReadArchive(ctx, info.Path)
		require.NoError(t, err)
		for _, e := range events {
			seen[e.ID]++
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, seen)
}

func TestArchiveCutoffRoundTrip(t *testing.T) {
	cutoff := time.Date(2026, 5, 11, 12, 30, 15, 0, time.UTC)
	got, ok := archiveCutoff(archivePath(cutoff))
	require.True(t, ok)
	assert.True(t, cutoff.Equal(got), "got %s", got)

	_, ok = archiveCutoff("archive/events/2026-05/notes.txt")
	assert.False(t, ok)
}

func TestArchiveEventsMultipart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	blobs := newMemBlobs()
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	seedEvents(t, store, base)

	a := NewEventArchiver(blobs, blobs, store, nil, store.Audit(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.threshold = 1

	n, err := a.ArchiveEvents(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, blobs.multipart)
}

func TestReadArchiveRejectsForeignPaths(t *testing.T) {
	blobs := newMemBlobs()
	a := NewEventArchiver(blobs, blobs, memory.New(), nil, memory.New().Audit(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := a.ReadArchive(context.Background(), "secrets/keys.json")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = a.ReadArchive(context.Background(), "archive/events/2026-05/20260511T120000Z.jsonl")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.local", normaliseEndpoint("s3.local", true))
	assert.Equal(t, "http://s3.local", normaliseEndpoint("s3.local", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}

func TestClientKeyPrefix(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/eu/")}
	assert.Equal(t, "eu/archive/events/2026-05/20260511T120000Z.jsonl", c.Key("archive/events/2026-05/20260511T120000Z.jsonl"))
	assert.Equal(t, "archive/events/x.jsonl", c.Path("eu/archive/events/x.jsonl"))

	bare := &Client{prefix: normalisePrefix("")}
	assert.Equal(t, "archive/events/x.jsonl", bare.Key("archive/events/x.jsonl"))
}
