// Package enricher is the synchronous, on-demand entry point to the
// enrichment pipeline. It serves valid cached enrichments without a model
// call and otherwise runs the same research-persist-reembed path the
// background runner uses.
package enricher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codelore/codelore/internal/cache"
	"github.com/codelore/codelore/internal/embedding"
	"github.com/codelore/codelore/internal/storage"
	"github.com/codelore/codelore/internal/types"
)

// Researcher is the slice of the research agent the enricher depends on.
type Researcher interface {
	Research(ctx context.Context, chunkID string) (*types.ResearchOutput, error)
	StoreResults(ctx context.Context, output *types.ResearchOutput) error
}

// Config holds enricher configuration
type Config struct {
	// InterItemDelay paces sequential EnrichChunks batches.
	InterItemDelay time.Duration `yaml:"inter_item_delay"`
}

// DefaultConfig returns enricher defaults
func DefaultConfig() Config {
	return Config{InterItemDelay: time.Second}
}

// ItemResult is the per-chunk outcome of a batch enrichment.
type ItemResult struct {
	ChunkID    string            `json:"chunk_id"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Enrichment *types.Enrichment `json:"enrichment,omitempty"`
}

// Enricher runs enrichment synchronously on the caller's path. It may race
// with the background runner on the same chunk; last write wins on the
// enrichment record.
type Enricher struct {
	store    storage.Store
	agent    Researcher
	oracle   *cache.Oracle
	embedder embedding.Engine
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// New creates an enricher. The embedder may be nil.
func New(store storage.Store, agent Researcher, oracle *cache.Oracle, embedder embedding.Engine, cfg Config, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InterItemDelay <= 0 {
		cfg.InterItemDelay = DefaultConfig().InterItemDelay
	}
	return &Enricher{
		store:    store,
		agent:    agent,
		oracle:   oracle,
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Every(cfg.InterItemDelay), 1),
		logger:   logger,
	}
}

// EnrichChunk returns the chunk's enrichment, producing a fresh one when
// none is valid. With force set, the cache is bypassed and a fresh research
// run always happens.
func (e *Enricher) EnrichChunk(ctx context.Context, chunkID string, force bool) (*types.Enrichment, error) {
	if !force {
		cached, err := e.oracle.Validated(ctx, chunkID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			e.logger.Debug("serving cached enrichment", zap.String("chunk_id", chunkID))
			return cached, nil
		}
	}

	output, err := e.agent.Research(ctx, chunkID)
	if err != nil {
		return nil, fmt.Errorf("research failed for %s: %w", chunkID, err)
	}
	if err := e.agent.StoreResults(ctx, output); err != nil {
		return nil, fmt.Errorf("failed to store results for %s: %w", chunkID, err)
	}

	e.reembed(ctx, chunkID, output.Enrichment)

	e.logger.Info("enriched chunk on demand",
		zap.String("chunk_id", chunkID),
		zap.Bool("force", force),
		zap.Int("tool_calls", output.ToolCallCount))
	return output.Enrichment, nil
}

// EnrichChunks enriches sequentially with a small inter-item delay. One
// chunk's failure never aborts the rest; each outcome is reported.
func (e *Enricher) EnrichChunks(ctx context.Context, chunkIDs []string) []ItemResult {
	results := make([]ItemResult, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if err := e.limiter.Wait(ctx); err != nil {
			results = append(results, ItemResult{ChunkID: id, Error: err.Error()})
			continue
		}

		enrichment, err := e.EnrichChunk(ctx, id, false)
		if err != nil {
			e.logger.Warn("batch enrichment item failed",
				zap.String("chunk_id", id),
				zap.Error(err))
			results = append(results, ItemResult{ChunkID: id, Error: err.Error()})
			continue
		}
		results = append(results, ItemResult{ChunkID: id, Success: true, Enrichment: enrichment})
	}
	return results
}

// reembed mirrors the background runner's best-effort vector refresh.
func (e *Enricher) reembed(ctx context.Context, chunkID string, enrichment *types.Enrichment) {
	if e.embedder == nil || enrichment == nil {
		return
	}
	chunk, err := e.store.GetChunk(ctx, chunkID)
	if err != nil || chunk == nil {
		e.logger.Warn("re-embedding skipped, chunk unavailable",
			zap.String("chunk_id", chunkID),
			zap.Error(err))
		return
	}
	vector, err := e.embedder.Embed(ctx, chunk.Content+"\n\n"+enrichment.Summary)
	if err != nil {
		e.logger.Warn("re-embedding failed",
			zap.String("chunk_id", chunkID),
			zap.Error(err))
		return
	}
	if err := e.store.SaveChunkEmbedding(ctx, chunkID, vector); err != nil {
		e.logger.Warn("failed to save embedding",
			zap.String("chunk_id", chunkID),
			zap.Error(err))
	}
}
