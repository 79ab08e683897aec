// Package types defines the shared entities for the enrichment pipeline.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Chunk is a unit of source code (function, class, module) that is the
// grain of enrichment and search. Chunks are produced by the scanner and
// parser, which live outside this repository; we only read them.
type Chunk struct {
	ID          string    `json:"id"`
	FileID      string    `json:"file_id"`
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	TokenCount  int       `json:"token_count"`
	Exported    bool      `json:"exported"`
	PageRank    float64   `json:"pagerank"`
	FanIn       int       `json:"fan_in"`
	FanOut      int       `json:"fan_out"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChunkRef is a lightweight pointer to a chunk surfaced by a research tool
// (caller/callee traversal, sibling listing, similarity search).
type ChunkRef struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	Summary string  `json:"summary,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// QueueStatus represents the scheduling state of a queue item
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueComplete   QueueStatus = "complete"
	QueueFailed     QueueStatus = "failed"
)

// IsValid checks if the queue status value is valid
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueComplete, QueueFailed:
		return true
	}
	return false
}

// Well-known queue priorities. The ranker computes scores above zero for
// candidate chunks; invalidation paths insert at these fixed levels.
const (
	// PriorityStaleRequeue is used when a stale enrichment is discarded
	// during a background scan.
	PriorityStaleRequeue = 50

	// PriorityFileInvalidation is used when a known, immediate edit
	// invalidates a file's chunks. Higher than stale-scan requeues.
	PriorityFileInvalidation = 80
)

// QueueItem is one unit of scheduled enrichment work.
//
// At most one item may be processing for a given chunk under the queue
// runner's own dispatch; the runner marks processing before invoking the
// research agent and always transitions out of processing, even when a
// crash-recovery re-scan finds an abandoned item.
type QueueItem struct {
	ID           int64       `json:"id"`
	ChunkID      string      `json:"chunk_id"`
	FileID       string      `json:"file_id"`
	Priority     int         `json:"priority"`
	Status       QueueStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	NextRetryAt  *time.Time  `json:"next_retry_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	ProcessedAt  *time.Time  `json:"processed_at,omitempty"`
}

// Validate checks if the queue item has valid field values
func (q *QueueItem) Validate() error {
	if q.ChunkID == "" {
		return fmt.Errorf("chunk_id is required")
	}
	if q.FileID == "" {
		return fmt.Errorf("file_id is required")
	}
	if q.Priority < 0 {
		return fmt.Errorf("priority cannot be negative (got %d)", q.Priority)
	}
	if !q.Status.IsValid() {
		return fmt.Errorf("invalid queue status: %s", q.Status)
	}
	if q.Attempts < 0 {
		return fmt.Errorf("attempts cannot be negative (got %d)", q.Attempts)
	}
	return nil
}

// Complexity buckets a chunk's implementation complexity
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IsValid checks if the complexity value is valid
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

// Enrichment is the durable, model-produced understanding of a chunk.
//
// An enrichment is valid iff ContentHash equals the current hash of the
// chunk's content AND AnalysisVersion equals the currently configured
// version. A stale enrichment is treated as absent.
type Enrichment struct {
	ChunkID         string `json:"chunk_id"`
	FileID          string `json:"file_id"`
	ContentHash     string `json:"content_hash"`
	AnalysisVersion string `json:"analysis_version"`

	Summary              string     `json:"summary"`
	Purpose              string     `json:"purpose"`
	KeyOperations        []string   `json:"key_operations"`
	SideEffects          []string   `json:"side_effects"`
	StateChanges         []string   `json:"state_changes"`
	ImplicitDependencies []string   `json:"implicit_dependencies"`
	DesignPatterns       []string   `json:"design_patterns"`
	ArchitecturalPatterns []string   `json:"architectural_patterns"`
	AntiPatterns         []string   `json:"anti_patterns"`
	Complexity           Complexity `json:"complexity"`
	SecurityConcerns     []string   `json:"security_concerns"`
	PerformanceConcerns  []string   `json:"performance_concerns"`
	BusinessRules        []string   `json:"business_rules"`
	Tags                 []string   `json:"tags"`

	ModelUsed  string    `json:"model_used"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks if the enrichment has valid field values
func (e *Enrichment) Validate() error {
	if e.ChunkID == "" {
		return fmt.Errorf("chunk_id is required")
	}
	if strings.TrimSpace(e.Summary) == "" {
		return fmt.Errorf("summary is required")
	}
	if !e.Complexity.IsValid() {
		return fmt.Errorf("invalid complexity: %s", e.Complexity)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1 (got %.2f)", e.Confidence)
	}
	if len(e.Tags) < 3 || len(e.Tags) > 10 {
		return fmt.Errorf("tags must have 3-10 items (got %d)", len(e.Tags))
	}
	return nil
}

// Relationship describes how a neighbor chunk was discovered relative to a
// research target
type Relationship string

const (
	RelCaller    Relationship = "caller"
	RelCallee    Relationship = "callee"
	RelSibling   Relationship = "sibling"
	RelSimilar   Relationship = "similar"
	RelGrepMatch Relationship = "grep_match"
)

// IsValid checks if the relationship value is valid
func (r Relationship) IsValid() bool {
	switch r {
	case RelCaller, RelCallee, RelSibling, RelSimilar, RelGrepMatch:
		return true
	}
	return false
}

// MaxLearnedLength caps the free text stored in a partial enrichment.
const MaxLearnedLength = 200

// PartialEnrichment is a low-confidence, incidental finding about a
// neighbor chunk captured while researching a different target. Partials
// accumulate per chunk and never satisfy or block the validity check for a
// full enrichment.
type PartialEnrichment struct {
	ID            int64        `json:"id"`
	ChunkID       string       `json:"chunk_id"`
	Learned       string       `json:"learned"`
	Relationship  Relationship `json:"relationship"`
	Confidence    float64      `json:"confidence"`
	SourceChunkID string       `json:"source_chunk_id"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Validate checks if the partial enrichment has valid field values
func (p *PartialEnrichment) Validate() error {
	if p.ChunkID == "" {
		return fmt.Errorf("chunk_id is required")
	}
	if len(p.Learned) > MaxLearnedLength {
		return fmt.Errorf("learned must be %d characters or less (got %d)", MaxLearnedLength, len(p.Learned))
	}
	if !p.Relationship.IsValid() {
		return fmt.Errorf("invalid relationship: %s", p.Relationship)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1 (got %.2f)", p.Confidence)
	}
	return nil
}

// StopReason records why a research loop terminated
type StopReason string

const (
	StopAgentDone    StopReason = "agent_done"
	StopMaxToolCalls StopReason = "max_tool_calls"
)

// ResearchOutput is the terminal result of one research run.
type ResearchOutput struct {
	TargetChunkID   string              `json:"target_chunk_id"`
	Enrichment      *Enrichment         `json:"enrichment"`
	Captured        []PartialEnrichment `json:"research_captured"`
	ResearchSources []string            `json:"research_sources"`
	ToolCallCount   int                 `json:"tool_call_count"`
	StopReason      StopReason          `json:"stop_reason"`
}

// QueueStats summarizes the queue by status
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Complete   int `json:"complete"`
	Failed     int `json:"failed"`
}

// Total returns the total number of queue items
func (s QueueStats) Total() int {
	return s.Pending + s.Processing + s.Complete + s.Failed
}

// EnrichmentStats summarizes stored enrichments by validity
type EnrichmentStats struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	Stale    int `json:"stale"`
	Orphaned int `json:"orphaned"`
}

// SearchMatch is one hit from the optional text-search backend
type SearchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}
