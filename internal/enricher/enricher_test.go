package enricher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelore/codelore/internal/cache"
	"github.com/codelore/codelore/internal/storage/sqlite"
	"github.com/codelore/codelore/internal/types"
)

type stubResearcher struct {
	store *sqlite.SQLiteStore
	fail  map[string]error
	runs  int
}

func (s *stubResearcher) Research(ctx context.Context, chunkID string) (*types.ResearchOutput, error) {
	s.runs++
	if err := s.fail[chunkID]; err != nil {
		return nil, err
	}
	return &types.ResearchOutput{
		TargetChunkID: chunkID,
		Enrichment: &types.Enrichment{
			ChunkID:         chunkID,
			FileID:          "f1",
			ContentHash:     "hash-" + chunkID,
			AnalysisVersion: "v1",
			Summary:         "fresh summary of " + chunkID,
			Complexity:      types.ComplexityLow,
			Tags:            []string{"a", "b", "c"},
			Confidence:      0.8,
		},
	}, nil
}

func (s *stubResearcher) StoreResults(ctx context.Context, output *types.ResearchOutput) error {
	return s.store.SaveEnrichment(ctx, output.Enrichment)
}

func newTestEnricher(t *testing.T) (*Enricher, *sqlite.SQLiteStore, *stubResearcher) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stub := &stubResearcher{store: store, fail: make(map[string]error)}
	oracle := cache.New(store, cache.DefaultConfig(), nil)
	return New(store, stub, oracle, nil, Config{InterItemDelay: time.Millisecond}, nil), store, stub
}

func seedChunk(t *testing.T, store *sqlite.SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, store.UpsertChunk(context.Background(), &types.Chunk{
		ID:          id,
		FileID:      "f1",
		Path:        "/src/" + id + ".go",
		Name:        id,
		Content:     "func " + id + "() {}",
		ContentHash: "hash-" + id,
		TokenCount:  100,
	}))
}

func TestEnrichChunkServesValidCache(t *testing.T) {
	enricher, store, stub := newTestEnricher(t)
	ctx := context.Background()

	seedChunk(t, store, "cached")
	require.NoError(t, store.SaveEnrichment(ctx, &types.Enrichment{
		ChunkID:         "cached",
		FileID:          "f1",
		ContentHash:     "hash-cached",
		AnalysisVersion: "v1",
		Summary:         "cached summary",
		Complexity:      types.ComplexityLow,
		Tags:            []string{"a", "b", "c"},
		Confidence:      0.9,
	}))

	e, err := enricher.EnrichChunk(ctx, "cached", false)
	require.NoError(t, err)
	assert.Equal(t, "cached summary", e.Summary)
	assert.Equal(t, 0, stub.runs)
}

func TestEnrichChunkForceBypassesCache(t *testing.T) {
	enricher, store, stub := newTestEnricher(t)
	ctx := context.Background()

	seedChunk(t, store, "cached")
	require.NoError(t, store.SaveEnrichment(ctx, &types.Enrichment{
		ChunkID:         "cached",
		FileID:          "f1",
		ContentHash:     "hash-cached",
		AnalysisVersion: "v1",
		Summary:         "cached summary",
		Complexity:      types.ComplexityLow,
		Tags:            []string{"a", "b", "c"},
		Confidence:      0.9,
	}))

	e, err := enricher.EnrichChunk(ctx, "cached", true)
	require.NoError(t, err)
	assert.Equal(t, "fresh summary of cached", e.Summary)
	assert.Equal(t, 1, stub.runs)

	stored, err := store.GetEnrichment(ctx, "cached")
	require.NoError(t, err)
	assert.Equal(t, "fresh summary of cached", stored.Summary)
}

func TestEnrichChunkStaleCacheTriggersResearch(t *testing.T) {
	enricher, store, stub := newTestEnricher(t)
	ctx := context.Background()

	// Enrichment recorded against an older content hash.
	seedChunk(t, store, "edited")
	require.NoError(t, store.SaveEnrichment(ctx, &types.Enrichment{
		ChunkID:         "edited",
		FileID:          "f1",
		ContentHash:     "old-hash",
		AnalysisVersion: "v1",
		Summary:         "stale summary",
		Complexity:      types.ComplexityLow,
		Tags:            []string{"a", "b", "c"},
		Confidence:      0.9,
	}))

	e, err := enricher.EnrichChunk(ctx, "edited", false)
	require.NoError(t, err)
	assert.Equal(t, "fresh summary of edited", e.Summary)
	assert.Equal(t, 1, stub.runs)
}

func TestEnrichChunksCollectsPerItemResults(t *testing.T) {
	enricher, store, stub := newTestEnricher(t)
	ctx := context.Background()

	seedChunk(t, store, "ok-1")
	seedChunk(t, store, "broken")
	seedChunk(t, store, "ok-2")
	stub.fail["broken"] = errors.New("model exploded")

	results := enricher.EnrichChunks(ctx, []string{"ok-1", "broken", "ok-2"})
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.NotNil(t, results[0].Enrichment)

	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "model exploded")
	assert.Nil(t, results[1].Enrichment)

	// The failure did not abort the batch.
	assert.True(t, results[2].Success)

	e, err := store.GetEnrichment(ctx, "ok-2")
	require.NoError(t, err)
	assert.NotNil(t, e)
}
