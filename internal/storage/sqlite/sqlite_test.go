package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelore/codelore/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testChunk(id, fileID string) *types.Chunk {
	return &types.Chunk{
		ID:          id,
		FileID:      fileID,
		Path:        "/src/" + fileID + ".go",
		Name:        id,
		Content:     "func " + id + "() {}",
		ContentHash: "hash-" + id,
		TokenCount:  120,
		PageRank:    0.01,
	}
}

func TestChunkRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunk := testChunk("chunk-a", "file-1")
	chunk.Exported = true
	require.NoError(t, store.UpsertChunk(ctx, chunk))

	got, err := store.GetChunk(ctx, "chunk-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "file-1", got.FileID)
	assert.Equal(t, "hash-chunk-a", got.ContentHash)
	assert.True(t, got.Exported)

	missing, err := store.GetChunk(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGraphTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// a -> b -> c, d -> b
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.UpsertChunk(ctx, testChunk(id, "file-"+id)))
	}
	require.NoError(t, store.AddChunkEdge(ctx, "a", "b"))
	require.NoError(t, store.AddChunkEdge(ctx, "b", "c"))
	require.NoError(t, store.AddChunkEdge(ctx, "d", "b"))

	callers, err := store.GetCallers(ctx, "b", 1)
	require.NoError(t, err)
	assert.Len(t, callers, 2)

	// Depth 2 from c reaches b plus its callers a and d
	callers, err = store.GetCallers(ctx, "c", 2)
	require.NoError(t, err)
	assert.Len(t, callers, 3)

	callees, err := store.GetCallees(ctx, "a", 2)
	require.NoError(t, err)
	assert.Len(t, callees, 2)
}

func TestGetSiblings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, testChunk("s1", "shared")))
	require.NoError(t, store.UpsertChunk(ctx, testChunk("s2", "shared")))
	require.NoError(t, store.UpsertChunk(ctx, testChunk("s3", "shared")))
	require.NoError(t, store.UpsertChunk(ctx, testChunk("other", "elsewhere")))

	siblings, err := store.GetSiblings(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, siblings, 2)
	for _, sib := range siblings {
		assert.NotEqual(t, "s1", sib.ID)
		assert.NotEqual(t, "other", sib.ID)
	}
}

func TestSimilarChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, testChunk("near", "f1")))
	require.NoError(t, store.UpsertChunk(ctx, testChunk("far", "f2")))
	require.NoError(t, store.SaveChunkEmbedding(ctx, "near", []float32{1, 0, 0}))
	require.NoError(t, store.SaveChunkEmbedding(ctx, "far", []float32{0, 1, 0}))

	refs, err := store.SimilarChunks(ctx, []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "near", refs[0].ID)
	assert.Greater(t, refs[0].Score, refs[1].Score)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{1, 2}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestListCandidatesExcludesQueuedAndValid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const version = "v1"

	// Three chunks with distinct centrality
	for i, id := range []string{"low", "mid", "high"} {
		c := testChunk(id, "file-"+id)
		c.PageRank = float64(i) * 0.01
		require.NoError(t, store.UpsertChunk(ctx, c))
	}

	// "mid" already has an active queue entry
	_, err := store.Enqueue(ctx, &types.QueueItem{
		ChunkID: "mid", FileID: "file-mid", Priority: 10, Status: types.QueuePending,
	})
	require.NoError(t, err)

	// "high" carries a valid enrichment
	require.NoError(t, store.SaveEnrichment(ctx, testEnrichment("high", "file-high", "hash-high", version)))

	candidates, err := store.ListCandidates(ctx, version, 100)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "low", candidates[0].ID)

	// A stale enrichment (old version) makes the chunk a candidate again
	require.NoError(t, store.SaveEnrichment(ctx, testEnrichment("high", "file-high", "hash-high", "v0")))
	candidates, err = store.ListCandidates(ctx, version, 100)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestListCandidatesOrderedByCentrality(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c := testChunk(fmt.Sprintf("c%d", i), fmt.Sprintf("f%d", i))
		c.PageRank = float64(i)
		require.NoError(t, store.UpsertChunk(ctx, c))
	}

	candidates, err := store.ListCandidates(ctx, "v1", 3)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, "c4", candidates[0].ID)
	assert.Equal(t, "c3", candidates[1].ID)
	assert.Equal(t, "c2", candidates[2].ID)
}

func TestConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	val, err := store.GetConfig(ctx, "analysis_version")
	require.NoError(t, err)
	assert.Equal(t, "", val)

	require.NoError(t, store.SetConfig(ctx, "analysis_version", "v2"))
	require.NoError(t, store.SetConfig(ctx, "analysis_version", "v3"))

	val, err = store.GetConfig(ctx, "analysis_version")
	require.NoError(t, err)
	assert.Equal(t, "v3", val)
}

func testEnrichment(chunkID, fileID, hash, version string) *types.Enrichment {
	return &types.Enrichment{
		ChunkID:         chunkID,
		FileID:          fileID,
		ContentHash:     hash,
		AnalysisVersion: version,
		Summary:         "Does a thing.",
		Purpose:         "Support the test suite.",
		Complexity:      types.ComplexityLow,
		Tags:            []string{"test", "fixture", "storage"},
		Confidence:      0.9,
		ModelUsed:       "scripted",
		CreatedAt:       time.Now(),
	}
}
