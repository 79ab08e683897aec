package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelore/codelore/internal/storage/sqlite"
	"github.com/codelore/codelore/internal/types"
)

func newTestOracle(t *testing.T) (*Oracle, *sqlite.SQLiteStore) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, DefaultConfig(), nil), store
}

func seedChunk(t *testing.T, store *sqlite.SQLiteStore, id, fileID, hash string) {
	t.Helper()
	require.NoError(t, store.UpsertChunk(context.Background(), &types.Chunk{
		ID:          id,
		FileID:      fileID,
		Path:        "/src/" + id + ".go",
		Name:        id,
		ContentHash: hash,
		TokenCount:  100,
	}))
}

func seedEnrichment(t *testing.T, store *sqlite.SQLiteStore, chunkID, fileID, hash, version string) {
	t.Helper()
	require.NoError(t, store.SaveEnrichment(context.Background(), &types.Enrichment{
		ChunkID:         chunkID,
		FileID:          fileID,
		ContentHash:     hash,
		AnalysisVersion: version,
		Summary:         "summary of " + chunkID,
		Purpose:         "testing",
		Complexity:      types.ComplexityLow,
		Tags:            []string{"a", "b", "c"},
		Confidence:      0.9,
	}))
}

func TestIsValid(t *testing.T) {
	oracle, store := newTestOracle(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		chunkID   string
		setup     func()
		wantValid bool
	}{
		{
			name:      "no enrichment",
			chunkID:   "bare",
			setup:     func() { seedChunk(t, store, "bare", "f1", "h1") },
			wantValid: false,
		},
		{
			name:    "hash and version match",
			chunkID: "fresh",
			setup: func() {
				seedChunk(t, store, "fresh", "f1", "h1")
				seedEnrichment(t, store, "fresh", "f1", "h1", "v1")
			},
			wantValid: true,
		},
		{
			name:    "content changed",
			chunkID: "edited",
			setup: func() {
				seedChunk(t, store, "edited", "f1", "h2")
				seedEnrichment(t, store, "edited", "f1", "h1", "v1")
			},
			wantValid: false,
		},
		{
			name:    "analysis version bumped",
			chunkID: "old-version",
			setup: func() {
				seedChunk(t, store, "old-version", "f1", "h1")
				seedEnrichment(t, store, "old-version", "f1", "h1", "v0")
			},
			wantValid: false,
		},
		{
			name:    "chunk deleted",
			chunkID: "orphan",
			setup: func() {
				seedEnrichment(t, store, "orphan", "f1", "h1", "v1")
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			valid, err := oracle.IsValid(ctx, tt.chunkID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, valid)
		})
	}
}

func TestValidated(t *testing.T) {
	oracle, store := newTestOracle(t)
	ctx := context.Background()

	seedChunk(t, store, "fresh", "f1", "h1")
	seedEnrichment(t, store, "fresh", "f1", "h1", "v1")
	seedChunk(t, store, "stale", "f1", "h2")
	seedEnrichment(t, store, "stale", "f1", "h1", "v1")

	e, err := oracle.Validated(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "summary of fresh", e.Summary)

	e, err = oracle.Validated(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestInvalidateStale(t *testing.T) {
	oracle, store := newTestOracle(t)
	ctx := context.Background()

	seedChunk(t, store, "fresh", "f1", "h1")
	seedEnrichment(t, store, "fresh", "f1", "h1", "v1")
	seedChunk(t, store, "stale-hash", "f1", "h-new")
	seedEnrichment(t, store, "stale-hash", "f1", "h-old", "v1")
	seedChunk(t, store, "stale-version", "f2", "h1")
	seedEnrichment(t, store, "stale-version", "f2", "h1", "v0")

	invalidated, err := oracle.InvalidateStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, invalidated)

	// Stale enrichments deleted, fresh one untouched.
	e, err := store.GetEnrichment(ctx, "stale-hash")
	require.NoError(t, err)
	assert.Nil(t, e)
	e, err = store.GetEnrichment(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, e)

	// Both stale chunks re-queued at the stale-requeue priority.
	for _, id := range []string{"stale-hash", "stale-version"} {
		item, err := store.GetQueueItem(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, item, id)
		assert.Equal(t, types.QueuePending, item.Status)
		assert.Equal(t, types.PriorityStaleRequeue, item.Priority)
	}

	// Second sweep finds nothing.
	invalidated, err = oracle.InvalidateStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, invalidated)
}

func TestInvalidateFile(t *testing.T) {
	oracle, store := newTestOracle(t)
	ctx := context.Background()

	seedChunk(t, store, "a", "file-1", "h1")
	seedEnrichment(t, store, "a", "file-1", "h1", "v1")
	seedChunk(t, store, "b", "file-1", "h1")
	seedChunk(t, store, "other", "file-2", "h1")
	seedEnrichment(t, store, "other", "file-2", "h1", "v1")

	invalidated, err := oracle.InvalidateFile(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, 2, invalidated)

	// Even the chunk with a currently-valid enrichment is discarded: a
	// file edit invalidates on the caller's knowledge, not the hash check.
	e, err := store.GetEnrichment(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, e)

	item, err := store.GetQueueItem(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, types.PriorityFileInvalidation, item.Priority)

	// Chunks of other files are untouched.
	e, err = store.GetEnrichment(ctx, "other")
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestCleanupOrphans(t *testing.T) {
	oracle, store := newTestOracle(t)
	ctx := context.Background()

	// Enrichment whose chunk no longer exists.
	seedEnrichment(t, store, "ghost", "f1", "h1", "v1")

	removed, err := oracle.CleanupOrphans(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 1)

	e, err := store.GetEnrichment(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestStats(t *testing.T) {
	oracle, store := newTestOracle(t)
	ctx := context.Background()

	seedChunk(t, store, "fresh", "f1", "h1")
	seedEnrichment(t, store, "fresh", "f1", "h1", "v1")
	seedChunk(t, store, "stale", "f1", "h2")
	seedEnrichment(t, store, "stale", "f1", "h1", "v1")
	seedEnrichment(t, store, "ghost", "f1", "h1", "v1")

	stats, err := oracle.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Valid)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, 1, stats.Orphaned)
}

func TestConfigDefaults(t *testing.T) {
	oracle := New(nil, Config{}, nil)
	assert.Equal(t, "v1", oracle.config.AnalysisVersion)
	assert.Equal(t, 7*24*time.Hour, oracle.config.OrphanRetention)
}
