// Package ranker scores enrichment candidates from live graph signals and
// populates the queue. Chunks that fail a skip rule never enter the queue.
package ranker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/codelore/codelore/internal/storage"
	"github.com/codelore/codelore/internal/types"
)

// Config holds scoring thresholds and bonuses. Scores are additive on top
// of the base; only the highest matching centrality tier applies.
type Config struct {
	AnalysisVersion string

	BaseScore int

	CentralityHigh        float64
	CentralityMedium      float64
	CentralityLow         float64
	BonusCentralityHigh   int
	BonusCentralityMedium int
	BonusCentralityLow    int

	FanInThreshold  int
	BonusFanIn      int
	FanOutThreshold int
	BonusFanOut     int

	BonusCoreDir    int
	BonusEntryPoint int

	SizeThresholdMedium int
	BonusSizeMedium     int
	SizeThresholdLarge  int
	BonusSizeLarge      int

	MinTokens      int
	CandidateLimit int
}

// DefaultConfig returns the default ranking configuration
func DefaultConfig() Config {
	return Config{
		AnalysisVersion: "v1",

		BaseScore: 10,

		CentralityHigh:        0.01,
		CentralityMedium:      0.005,
		CentralityLow:         0.001,
		BonusCentralityHigh:   150,
		BonusCentralityMedium: 100,
		BonusCentralityLow:    50,

		FanInThreshold:  10,
		BonusFanIn:      100,
		FanOutThreshold: 10,
		BonusFanOut:     50,

		BonusCoreDir:    50,
		BonusEntryPoint: 50,

		SizeThresholdMedium: 500,
		BonusSizeMedium:     25,
		SizeThresholdLarge:  1500,
		BonusSizeLarge:      50,

		MinTokens:      50,
		CandidateLimit: 100,
	}
}

// Ranker scores chunks and inserts queue items for those worth enriching
type Ranker struct {
	store  storage.Store
	config Config
	logger *zap.Logger
}

// New creates a ranker
func New(store storage.Store, cfg Config, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{store: store, config: cfg, logger: logger}
}

// Directory names treated as core application code
var coreDirs = map[string]bool{
	"core":     true,
	"internal": true,
	"lib":      true,
	"pkg":      true,
	"engine":   true,
	"services": true,
}

// Declarative config file extensions
var declarativeExts = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".ini":  true,
	".xml":  true,
}

// Score computes the priority for a chunk. Zero means skip: the chunk is
// never queued. Skip rules are checked before any scoring arithmetic.
func (r *Ranker) Score(chunk *types.Chunk) int {
	if isTestPath(chunk.Path) {
		return 0
	}
	if isTypeDeclarationFile(chunk.Path) {
		return 0
	}
	if isDeclarativeConfig(chunk.Path) {
		return 0
	}
	if chunk.TokenCount < r.config.MinTokens {
		return 0
	}

	score := r.config.BaseScore

	// Centrality tiers are non-overlapping: only the highest applies
	switch {
	case chunk.PageRank >= r.config.CentralityHigh:
		score += r.config.BonusCentralityHigh
	case chunk.PageRank >= r.config.CentralityMedium:
		score += r.config.BonusCentralityMedium
	case chunk.PageRank >= r.config.CentralityLow:
		score += r.config.BonusCentralityLow
	}

	if chunk.FanIn >= r.config.FanInThreshold {
		score += r.config.BonusFanIn
	}
	if chunk.FanOut >= r.config.FanOutThreshold {
		score += r.config.BonusFanOut
	}

	if isCorePath(chunk.Path) {
		score += r.config.BonusCoreDir
	}

	// Exported symbols nothing calls are candidate entry points
	if chunk.FanIn == 0 && chunk.Exported {
		score += r.config.BonusEntryPoint
	}

	// Size bonuses are independent: a large chunk earns both
	if chunk.TokenCount > r.config.SizeThresholdMedium {
		score += r.config.BonusSizeMedium
	}
	if chunk.TokenCount > r.config.SizeThresholdLarge {
		score += r.config.BonusSizeLarge
	}

	if score < 0 {
		score = 0
	}
	return score
}

// SelectAndQueue scores up to limit candidates (chunks with no active
// queue entry and no valid enrichment, in descending centrality order) and
// inserts a queue item for every chunk scoring above zero. Idempotent:
// re-running never duplicates pending work.
func (r *Ranker) SelectAndQueue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = r.config.CandidateLimit
	}

	candidates, err := r.store.ListCandidates(ctx, r.config.AnalysisVersion, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list candidates: %w", err)
	}

	queued := 0
	for _, chunk := range candidates {
		score := r.Score(chunk)
		if score == 0 {
			continue
		}
		inserted, err := r.store.Enqueue(ctx, &types.QueueItem{
			ChunkID:  chunk.ID,
			FileID:   chunk.FileID,
			Priority: score,
			Status:   types.QueuePending,
		})
		if err != nil {
			return queued, fmt.Errorf("failed to enqueue chunk %s: %w", chunk.ID, err)
		}
		if inserted {
			queued++
			r.logger.Debug("queued chunk for enrichment",
				zap.String("chunk_id", chunk.ID),
				zap.Int("priority", score),
				zap.Float64("pagerank", chunk.PageRank))
		}
	}

	if queued > 0 {
		r.logger.Info("ranker pass complete",
			zap.Int("candidates", len(candidates)),
			zap.Int("queued", queued))
	}
	return queued, nil
}

func isTestPath(path string) bool {
	lower := strings.ToLower(path)
	base := filepath.Base(lower)
	if strings.HasSuffix(base, "_test.go") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") {
		return true
	}
	for _, dir := range []string{"/test/", "/tests/", "/__tests__/", "/spec/"} {
		if strings.Contains(lower, dir) {
			return true
		}
	}
	return false
}

func isTypeDeclarationFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(base, ".d.ts") {
		return true
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return name == "types" || name == "interfaces" || strings.HasSuffix(name, ".types")
}

func isDeclarativeConfig(path string) bool {
	lower := strings.ToLower(path)
	if !strings.Contains(lower, "/config/") && !strings.Contains(lower, "/configs/") {
		return false
	}
	return declarativeExts[filepath.Ext(lower)]
}

func isCorePath(path string) bool {
	for _, part := range strings.Split(strings.ToLower(filepath.ToSlash(path)), "/") {
		if coreDirs[part] {
			return true
		}
	}
	return false
}
