// Package scheduler drives the durable enrichment queue: it pulls
// admissible work in priority order, enforces the daily model-call quota,
// invokes the research agent, and applies retry backoff or terminal
// failure per item.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codelore/codelore/internal/embedding"
	"github.com/codelore/codelore/internal/storage"
	"github.com/codelore/codelore/internal/types"
)

// Researcher is the slice of the research agent the runner depends on.
type Researcher interface {
	Research(ctx context.Context, chunkID string) (*types.ResearchOutput, error)
	StoreResults(ctx context.Context, output *types.ResearchOutput) error
}

// Config holds queue runner configuration
type Config struct {
	// BatchSize caps items per processing pass.
	BatchSize int `yaml:"batch_size"`

	// MaxRetries is the attempt count at which an item becomes failed.
	MaxRetries int `yaml:"max_retries"`

	// BaseRetryDelay and MaxRetryDelay bound the exponential backoff.
	BaseRetryDelay time.Duration `yaml:"base_retry_delay"`
	MaxRetryDelay  time.Duration `yaml:"max_retry_delay"`

	// DailyLimit caps research runs per calendar day. Zero or negative
	// means unlimited.
	DailyLimit int `yaml:"daily_limit"`

	// InterItemDelay paces items within a batch.
	InterItemDelay time.Duration `yaml:"inter_item_delay"`

	// BusyInterval is the wait after a pass that processed work;
	// IdleInterval after a pass that found none.
	BusyInterval time.Duration `yaml:"busy_interval"`
	IdleInterval time.Duration `yaml:"idle_interval"`
}

// DefaultConfig returns runner defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:      5,
		MaxRetries:     3,
		BaseRetryDelay: 60 * time.Second,
		MaxRetryDelay:  3600 * time.Second,
		DailyLimit:     200,
		InterItemDelay: 2 * time.Second,
		BusyInterval:   5 * time.Second,
		IdleInterval:   60 * time.Second,
	}
}

// ProcessResult summarizes one processing pass.
type ProcessResult struct {
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Reason    string `json:"reason,omitempty"`
}

// Stats is the runner's public status snapshot.
type Stats struct {
	Queue            types.QueueStats `json:"queue"`
	SessionProcessed int              `json:"session_processed"`
	SessionFailed    int              `json:"session_failed"`
	QuotaUsed        int              `json:"quota_used"`
	QuotaRemaining   int              `json:"quota_remaining"`
	Running          bool             `json:"running"`
}

// Runner executes queue items sequentially. One Runner owns the background
// loop; ProcessOnce is also safe to call directly for explicit refreshes.
type Runner struct {
	store    storage.Store
	agent    Researcher
	embedder embedding.Engine
	config   Config
	logger   *zap.Logger

	quota   *dailyQuota
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	sessionProcessed int
	sessionFailed    int
}

// New creates a queue runner. The embedder may be nil; re-embedding is then
// skipped entirely.
func New(store storage.Store, agent Researcher, embedder embedding.Engine, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = def.BaseRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	if cfg.InterItemDelay <= 0 {
		cfg.InterItemDelay = def.InterItemDelay
	}
	if cfg.BusyInterval <= 0 {
		cfg.BusyInterval = def.BusyInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}

	now := time.Now
	return &Runner{
		store:    store,
		agent:    agent,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
		quota:    newDailyQuota(cfg.DailyLimit, now),
		limiter:  rate.NewLimiter(rate.Every(cfg.InterItemDelay), 1),
		now:      now,
	}
}

// Start launches the background loop. Idempotent: a second Start while
// running is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.doneCh = make(chan struct{})
	r.running = true

	go r.loop(loopCtx)
	r.logger.Info("queue runner started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Int("daily_limit", r.config.DailyLimit))
}

// Stop signals the loop and waits for the in-flight item to finish.
// Idempotent: stopping a stopped runner is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.doneCh
	r.mu.Unlock()

	cancel()
	<-done
	r.logger.Info("queue runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.doneCh)

	for {
		result, err := r.ProcessOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("processing pass failed", zap.Error(err))
		}

		interval := r.config.IdleInterval
		if result != nil && result.Processed > 0 {
			interval = r.config.BusyInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// ProcessOnce runs a single synchronous batch. When the daily quota is
// exhausted it is a pure no-op: nothing in the store is touched.
func (r *Runner) ProcessOnce(ctx context.Context) (*ProcessResult, error) {
	remaining := r.quota.Remaining()
	if remaining == 0 {
		return &ProcessResult{Processed: 0, Reason: "daily_limit"}, nil
	}

	batch := r.config.BatchSize
	if remaining < batch {
		batch = remaining
	}

	// Items left in processing by a crashed prior run are re-driven here,
	// so one-shot invocations recover them too, not just the loop.
	if n, err := r.store.ResetAbandoned(ctx); err != nil {
		r.logger.Warn("failed to reset abandoned items", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("recovered abandoned queue items", zap.Int("count", n))
	}

	items, err := r.store.NextPending(ctx, r.now(), batch)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}
	if len(items) == 0 {
		return &ProcessResult{Processed: 0}, nil
	}

	result := &ProcessResult{}
	for _, item := range items {
		if err := r.limiter.Wait(ctx); err != nil {
			return result, err
		}

		if err := r.store.MarkProcessing(ctx, item.ID); err != nil {
			// Someone else claimed it between select and mark.
			r.logger.Debug("skipping contested item",
				zap.Int64("item_id", item.ID),
				zap.Error(err))
			continue
		}

		r.quota.Consume(1)

		// A claimed item always runs to completion. Shutdown is honored
		// at the pacing wait above, never mid-item, and the status write
		// after the item has to land even once the loop context is gone.
		itemCtx := context.WithoutCancel(ctx)
		if err := r.processItem(itemCtx, item); err != nil {
			result.Failed++
			r.mu.Lock()
			r.sessionFailed++
			r.mu.Unlock()
			r.handleFailure(itemCtx, item, err)
			continue
		}

		result.Processed++
		r.mu.Lock()
		r.sessionProcessed++
		r.mu.Unlock()
	}
	return result, nil
}

// processItem drives the full research path for one item: research,
// persistence, best-effort re-embedding, completion.
func (r *Runner) processItem(ctx context.Context, item *types.QueueItem) error {
	output, err := r.agent.Research(ctx, item.ChunkID)
	if err != nil {
		return err
	}
	if err := r.agent.StoreResults(ctx, output); err != nil {
		return err
	}

	r.reembed(ctx, item.ChunkID, output.Enrichment)

	if err := r.store.MarkComplete(ctx, item.ID, r.now()); err != nil {
		return fmt.Errorf("failed to mark complete: %w", err)
	}

	r.logger.Info("enriched chunk",
		zap.String("chunk_id", item.ChunkID),
		zap.Int("priority", item.Priority),
		zap.Int("tool_calls", output.ToolCallCount))
	return nil
}

// reembed refreshes the chunk's vector from its content plus the new
// summary. Failures are logged and swallowed; they never revert the
// enrichment.
func (r *Runner) reembed(ctx context.Context, chunkID string, e *types.Enrichment) {
	if r.embedder == nil || e == nil {
		return
	}
	chunk, err := r.store.GetChunk(ctx, chunkID)
	if err != nil || chunk == nil {
		r.logger.Warn("re-embedding skipped, chunk unavailable",
			zap.String("chunk_id", chunkID),
			zap.Error(err))
		return
	}

	vector, err := r.embedder.Embed(ctx, chunk.Content+"\n\n"+e.Summary)
	if err != nil {
		r.logger.Warn("re-embedding failed",
			zap.String("chunk_id", chunkID),
			zap.Error(err))
		return
	}
	if err := r.store.SaveChunkEmbedding(ctx, chunkID, vector); err != nil {
		r.logger.Warn("failed to save embedding",
			zap.String("chunk_id", chunkID),
			zap.Error(err))
	}
}

// handleFailure applies the retry policy: exponential backoff until the
// attempt count reaches MaxRetries, then terminal failure with the error
// preserved.
func (r *Runner) handleFailure(ctx context.Context, item *types.QueueItem, cause error) {
	attempts := item.Attempts + 1

	if attempts >= r.config.MaxRetries {
		if err := r.store.MarkFailed(ctx, item.ID, attempts, cause.Error()); err != nil {
			r.logger.Error("failed to mark item failed",
				zap.Int64("item_id", item.ID),
				zap.Error(err))
			return
		}
		r.logger.Warn("enrichment failed terminally",
			zap.String("chunk_id", item.ChunkID),
			zap.Int("attempts", attempts),
			zap.Error(cause))
		return
	}

	delay := r.backoffDelay(attempts)
	nextRetry := r.now().Add(delay)
	if err := r.store.MarkRetry(ctx, item.ID, attempts, nextRetry, cause.Error()); err != nil {
		r.logger.Error("failed to schedule retry",
			zap.Int64("item_id", item.ID),
			zap.Error(err))
		return
	}
	r.logger.Info("enrichment scheduled for retry",
		zap.String("chunk_id", item.ChunkID),
		zap.Int("attempts", attempts),
		zap.Duration("delay", delay),
		zap.Error(cause))
}

// backoffDelay computes min(base * 2^attempts, cap).
func (r *Runner) backoffDelay(attempts int) time.Duration {
	delay := r.config.BaseRetryDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= r.config.MaxRetryDelay {
			return r.config.MaxRetryDelay
		}
	}
	return delay
}

// GetStats reports queue counts, session counters and quota state.
func (r *Runner) GetStats(ctx context.Context) (*Stats, error) {
	queue, err := r.store.QueueStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return &Stats{
		Queue:            *queue,
		SessionProcessed: r.sessionProcessed,
		SessionFailed:    r.sessionFailed,
		QuotaUsed:        r.quota.Used(),
		QuotaRemaining:   r.quota.Remaining(),
		Running:          r.running,
	}, nil
}
