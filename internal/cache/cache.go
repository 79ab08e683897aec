// Package cache decides whether stored enrichments are still trustworthy
// and reclaims the ones that are not.
//
// An enrichment is valid only when its content hash matches the chunk's
// current hash and its analysis version matches the configured version.
// Anything else is stale and treated as absent by readers; the oracle is
// the component that turns "treated as absent" into actual deletion plus
// a re-queue so the work gets redone.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codelore/codelore/internal/storage"
	"github.com/codelore/codelore/internal/types"
)

// Config holds oracle configuration
type Config struct {
	// AnalysisVersion is the currently deployed prompt/schema version.
	// Enrichments recorded under any other version are stale.
	AnalysisVersion string `yaml:"analysis_version"`

	// OrphanRetention is how long completed queue entries and enrichment
	// rows for deleted chunks are kept before cleanup removes them.
	OrphanRetention time.Duration `yaml:"orphan_retention"`
}

// DefaultConfig returns oracle defaults
func DefaultConfig() Config {
	return Config{
		AnalysisVersion: "v1",
		OrphanRetention: 7 * 24 * time.Hour,
	}
}

// Oracle answers validity questions about enrichments and runs the
// invalidation sweeps.
type Oracle struct {
	store  storage.Store
	config Config
	logger *zap.Logger
}

// New creates an oracle
func New(store storage.Store, cfg Config, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AnalysisVersion == "" {
		cfg.AnalysisVersion = DefaultConfig().AnalysisVersion
	}
	if cfg.OrphanRetention <= 0 {
		cfg.OrphanRetention = DefaultConfig().OrphanRetention
	}
	return &Oracle{store: store, config: cfg, logger: logger}
}

// AnalysisVersion reports the version the oracle validates against.
func (o *Oracle) AnalysisVersion() string {
	return o.config.AnalysisVersion
}

// IsValid reports whether the chunk has a usable enrichment. Missing
// enrichments and missing chunks are simply "not valid", never an error;
// errors are reserved for storage failures.
func (o *Oracle) IsValid(ctx context.Context, chunkID string) (bool, error) {
	enrichment, err := o.store.GetEnrichment(ctx, chunkID)
	if err != nil {
		return false, fmt.Errorf("failed to load enrichment: %w", err)
	}
	if enrichment == nil {
		return false, nil
	}

	chunk, err := o.store.GetChunk(ctx, chunkID)
	if err != nil {
		return false, fmt.Errorf("failed to load chunk: %w", err)
	}
	if chunk == nil {
		// Orphaned enrichment: the chunk it describes is gone.
		return false, nil
	}

	return enrichment.ContentHash == chunk.ContentHash &&
		enrichment.AnalysisVersion == o.config.AnalysisVersion, nil
}

// Validated returns the chunk's enrichment if and only if it is valid.
// Stale or missing enrichments return nil.
func (o *Oracle) Validated(ctx context.Context, chunkID string) (*types.Enrichment, error) {
	valid, err := o.IsValid(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, nil
	}
	return o.store.GetEnrichment(ctx, chunkID)
}

// InvalidateStale scans every stored enrichment, deletes the stale ones,
// and re-queues their chunks at the stale-requeue priority. Each chunk is
// handled in its own transaction so one failure does not abort the sweep.
// Returns the number of enrichments invalidated.
func (o *Oracle) InvalidateStale(ctx context.Context) (int, error) {
	stale, err := o.store.ListStaleEnrichments(ctx, o.config.AnalysisVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale enrichments: %w", err)
	}

	invalidated := 0
	for _, e := range stale {
		if err := o.store.DeleteAndRequeue(ctx, e.ChunkID, types.PriorityStaleRequeue); err != nil {
			o.logger.Warn("failed to invalidate stale enrichment",
				zap.String("chunk_id", e.ChunkID),
				zap.Error(err))
			continue
		}
		invalidated++
	}

	if invalidated > 0 {
		o.logger.Info("invalidated stale enrichments",
			zap.Int("count", invalidated),
			zap.String("analysis_version", o.config.AnalysisVersion))
	}
	return invalidated, nil
}

// InvalidateFile discards enrichments for every chunk of a file and
// re-queues them at the file-invalidation priority. Intended for the
// moment an edit to the file is observed, so it outranks the background
// stale sweep.
func (o *Oracle) InvalidateFile(ctx context.Context, fileID string) (int, error) {
	chunks, err := o.store.GetFileChunks(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to list file chunks: %w", err)
	}

	invalidated := 0
	for _, chunk := range chunks {
		if err := o.store.DeleteAndRequeue(ctx, chunk.ID, types.PriorityFileInvalidation); err != nil {
			o.logger.Warn("failed to invalidate chunk",
				zap.String("chunk_id", chunk.ID),
				zap.String("file_id", fileID),
				zap.Error(err))
			continue
		}
		invalidated++
	}

	o.logger.Info("invalidated file",
		zap.String("file_id", fileID),
		zap.Int("chunks", invalidated))
	return invalidated, nil
}

// CleanupOrphans removes records that no longer serve any purpose:
// enrichments, partials, embeddings, and queue entries whose chunk was
// deleted, plus completed queue entries older than the retention window.
func (o *Oracle) CleanupOrphans(ctx context.Context) (int, error) {
	removed, err := o.store.CleanupOrphans(ctx, o.config.OrphanRetention)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup orphans: %w", err)
	}
	if removed > 0 {
		o.logger.Info("cleaned up orphaned records", zap.Int("removed", removed))
	}
	return removed, nil
}

// Stats summarizes stored enrichments by validity against the current
// analysis version.
func (o *Oracle) Stats(ctx context.Context) (*types.EnrichmentStats, error) {
	return o.store.EnrichmentStats(ctx, o.config.AnalysisVersion)
}
