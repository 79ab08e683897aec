// Package storage defines the persistence interface for the enrichment
// pipeline: the chunk graph, the scheduling queue, and enrichment records.
package storage

import (
	"context"
	"time"

	"github.com/codelore/codelore/internal/storage/sqlite"
	"github.com/codelore/codelore/internal/types"
)

// Store defines the interface for enrichment storage backends
type Store interface {
	// Chunks & graph
	GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error)
	UpsertChunk(ctx context.Context, chunk *types.Chunk) error
	DeleteChunk(ctx context.Context, chunkID string) error
	GetFileChunks(ctx context.Context, fileID string) ([]*types.Chunk, error)
	AddChunkEdge(ctx context.Context, fromID, toID string) error
	GetCallers(ctx context.Context, chunkID string, depth int) ([]*types.ChunkRef, error)
	GetCallees(ctx context.Context, chunkID string, depth int) ([]*types.ChunkRef, error)
	GetSiblings(ctx context.Context, chunkID string) ([]*types.ChunkRef, error)
	SimilarChunks(ctx context.Context, vector []float32, limit int) ([]*types.ChunkRef, error)
	SaveChunkEmbedding(ctx context.Context, chunkID string, vector []float32) error

	// Candidate listing for the priority ranker: chunks with no active queue
	// entry and no valid enrichment, ordered by descending centrality.
	ListCandidates(ctx context.Context, analysisVersion string, limit int) ([]*types.Chunk, error)

	// Queue
	Enqueue(ctx context.Context, item *types.QueueItem) (bool, error)
	GetQueueItem(ctx context.Context, chunkID string) (*types.QueueItem, error)
	NextPending(ctx context.Context, now time.Time, limit int) ([]*types.QueueItem, error)
	MarkProcessing(ctx context.Context, itemID int64) error
	MarkComplete(ctx context.Context, itemID int64, processedAt time.Time) error
	MarkRetry(ctx context.Context, itemID int64, attempts int, nextRetryAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, itemID int64, attempts int, errMsg string) error
	ResetAbandoned(ctx context.Context) (int, error)
	QueueStats(ctx context.Context) (*types.QueueStats, error)

	// Enrichments
	GetEnrichment(ctx context.Context, chunkID string) (*types.Enrichment, error)
	SaveEnrichment(ctx context.Context, e *types.Enrichment) error
	DeleteEnrichment(ctx context.Context, chunkID string) error
	ListStaleEnrichments(ctx context.Context, analysisVersion string) ([]*types.Enrichment, error)
	DeleteAndRequeue(ctx context.Context, chunkID string, priority int) error
	AddPartialEnrichment(ctx context.Context, p *types.PartialEnrichment) error
	GetPartialEnrichments(ctx context.Context, chunkID string) ([]*types.PartialEnrichment, error)
	EnrichmentStats(ctx context.Context, analysisVersion string) (*types.EnrichmentStats, error)

	// Maintenance
	CleanupOrphans(ctx context.Context, retention time.Duration) (int, error)

	// Config
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".codelore/codelore.db",
	}
}

// NewStore creates a new SQLite storage backend
func NewStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".codelore/codelore.db"
	}
	return sqlite.New(cfg.Path)
}
