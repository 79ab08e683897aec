// Package research runs the bounded, tool-augmented exploration loop that
// turns one code chunk into a structured enrichment plus incidental
// side-findings about its neighbors.
//
// The loop talks to the model over an unstructured chat channel. Raw text
// is converted into typed ToolRequest values at a single boundary (the
// extractor in tools.go); the loop itself never branches on model prose.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codelore/codelore/internal/ai"
	"github.com/codelore/codelore/internal/embedding"
	"github.com/codelore/codelore/internal/storage"
	"github.com/codelore/codelore/internal/textsearch"
	"github.com/codelore/codelore/internal/types"
)

// Config holds research agent configuration
type Config struct {
	// MaxToolCalls bounds the total tool executions per run. It also
	// bounds the number of model turns, so a model that never calls a
	// tool still terminates.
	MaxToolCalls int `yaml:"max_tool_calls"`

	// MaxToolsPerTurn caps executions within a single model turn; extra
	// requests in the same turn carry over to later turns.
	MaxToolsPerTurn int `yaml:"max_tools_per_turn"`

	// SourceCharBudget truncates the target's source in the seed prompt.
	SourceCharBudget int `yaml:"source_char_budget"`

	// AnalysisVersion stamps produced enrichments.
	AnalysisVersion string `yaml:"analysis_version"`

	// PartialConfidence is assigned to side-findings about neighbors.
	PartialConfidence float64 `yaml:"partial_confidence"`
}

// DefaultConfig returns agent defaults
func DefaultConfig() Config {
	return Config{
		MaxToolCalls:      8,
		MaxToolsPerTurn:   3,
		SourceCharBudget:  4000,
		AnalysisVersion:   "v1",
		PartialConfidence: 0.5,
	}
}

// Agent researches chunks. The embedder and searcher are optional; when
// absent, the corresponding tools are left out of the catalog the model
// sees.
type Agent struct {
	store    storage.Store
	client   ai.Client
	embedder embedding.Engine
	searcher textsearch.Searcher
	config   Config
	logger   *zap.Logger
}

// New creates a research agent
func New(store storage.Store, client ai.Client, embedder embedding.Engine, searcher textsearch.Searcher, cfg Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = def.MaxToolCalls
	}
	if cfg.MaxToolsPerTurn <= 0 {
		cfg.MaxToolsPerTurn = def.MaxToolsPerTurn
	}
	if cfg.SourceCharBudget <= 0 {
		cfg.SourceCharBudget = def.SourceCharBudget
	}
	if cfg.AnalysisVersion == "" {
		cfg.AnalysisVersion = def.AnalysisVersion
	}
	if cfg.PartialConfidence <= 0 {
		cfg.PartialConfidence = def.PartialConfidence
	}
	return &Agent{
		store:    store,
		client:   client,
		embedder: embedder,
		searcher: searcher,
		config:   cfg,
		logger:   logger,
	}
}

// discovery records the last-known relationship of a chunk surfaced during
// research. Re-discovery under a different tool overwrites the tag.
type discovery struct {
	name         string
	path         string
	relationship types.Relationship
}

// session is the transient per-run state. Nothing here outlives the run;
// its terminal content is folded into the ResearchOutput.
type session struct {
	target         *types.Chunk
	history        []string
	discovered     map[string]*discovery
	discoveryOrder []string
	toolCalls      int
	pending        []ToolRequest
	stopReason     types.StopReason
}

func (s *session) remember(id, name, path string, rel types.Relationship) {
	if id == "" || id == s.target.ID {
		return
	}
	if existing, ok := s.discovered[id]; ok {
		existing.relationship = rel
		if name != "" {
			existing.name = name
		}
		return
	}
	s.discovered[id] = &discovery{name: name, path: path, relationship: rel}
	s.discoveryOrder = append(s.discoveryOrder, id)
}

// Research runs the exploration loop for one chunk and returns the
// structured result. Tool failures never abort the run; only the model
// call path (including the final structured request) can.
func (a *Agent) Research(ctx context.Context, chunkID string) (*types.ResearchOutput, error) {
	chunk, err := a.store.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk: %w", err)
	}
	if chunk == nil {
		return nil, fmt.Errorf("chunk %s not found", chunkID)
	}

	runID := uuid.NewString()
	sess := &session{
		target:     chunk,
		discovered: make(map[string]*discovery),
		stopReason: types.StopMaxToolCalls,
	}
	sess.history = append(sess.history, a.seedPrompt(chunk))

	a.logger.Debug("research run starting",
		zap.String("run_id", runID),
		zap.String("chunk_id", chunk.ID),
		zap.Int("max_tool_calls", a.config.MaxToolCalls))

	// Each iteration is one model turn. The turn count and the tool-call
	// count share the same bound, so a model that never calls a tool
	// cannot loop forever on steering messages.
	for turn := 0; turn < a.config.MaxToolCalls; turn++ {
		if sess.toolCalls >= a.config.MaxToolCalls {
			break
		}

		response, err := a.client.Chat(ctx, strings.Join(sess.history, "\n\n"))
		if err != nil {
			return nil, fmt.Errorf("research model call failed: %w", err)
		}
		sess.history = append(sess.history, "Assistant: "+response)

		if signalsDone(response) && sess.toolCalls > 0 {
			sess.stopReason = types.StopAgentDone
			break
		}

		sess.pending = append(sess.pending, ExtractToolRequests(response)...)
		if len(sess.pending) == 0 {
			sess.history = append(sess.history,
				"System: No tool call recognized. Either invoke one of the listed tools using the exact call syntax, or reply with a single line saying done.")
			continue
		}

		var results []string
		executed := 0
		for len(sess.pending) > 0 && executed < a.config.MaxToolsPerTurn && sess.toolCalls < a.config.MaxToolCalls {
			req := sess.pending[0]
			sess.pending = sess.pending[1:]
			sess.toolCalls++
			executed++
			results = append(results, fmt.Sprintf("%s => %s", req, a.execute(ctx, sess, req)))
		}
		sess.history = append(sess.history, "Tool results:\n"+strings.Join(results, "\n"))
	}

	enrichment, err := a.finalize(ctx, sess)
	if err != nil {
		return nil, err
	}

	output := &types.ResearchOutput{
		TargetChunkID:   chunk.ID,
		Enrichment:      enrichment,
		Captured:        a.buildPartials(sess),
		ResearchSources: append([]string(nil), sess.discoveryOrder...),
		ToolCallCount:   sess.toolCalls,
		StopReason:      sess.stopReason,
	}

	a.logger.Info("research run complete",
		zap.String("run_id", runID),
		zap.String("chunk_id", chunk.ID),
		zap.Int("tool_calls", output.ToolCallCount),
		zap.String("stop_reason", string(output.StopReason)),
		zap.Int("discovered", len(output.ResearchSources)))
	return output, nil
}

// StoreResults persists the enrichment and every captured partial. The
// writes are independent: a failing partial is logged and skipped, never
// blocking the others or the primary record.
func (a *Agent) StoreResults(ctx context.Context, output *types.ResearchOutput) error {
	if output.Enrichment == nil {
		return fmt.Errorf("research output has no enrichment")
	}
	if err := a.store.SaveEnrichment(ctx, output.Enrichment); err != nil {
		return fmt.Errorf("failed to save enrichment: %w", err)
	}

	for i := range output.Captured {
		p := &output.Captured[i]
		if err := a.store.AddPartialEnrichment(ctx, p); err != nil {
			a.logger.Warn("failed to save partial enrichment",
				zap.String("chunk_id", p.ChunkID),
				zap.String("source_chunk_id", p.SourceChunkID),
				zap.Error(err))
		}
	}
	return nil
}

func (a *Agent) seedPrompt(chunk *types.Chunk) string {
	source := chunk.Content
	if len(source) > a.config.SourceCharBudget {
		source = truncate(source, a.config.SourceCharBudget) + "\n... (truncated)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `System: You are a code researcher. Your goal is to understand the code chunk below well enough to describe its purpose, behavior, side effects and design. You may investigate its surroundings with the tools listed; when you know enough, reply with a single line saying done.

Target chunk:
  id: %s
  name: %s
  path: %s

Source:
%s

Available tools (invoke with the exact call syntax, one or more per reply):
`, chunk.ID, chunk.Name, chunk.Path, source)

	b.WriteString(`  read_chunk("<chunk_id>") - full detail for a chunk
  get_callers("<chunk_id>", <depth>) - chunks that call it, up to depth hops
  get_callees("<chunk_id>", <depth>) - chunks it calls, up to depth hops
  get_siblings("<chunk_id>") - other chunks in the same file
`)
	if a.embedder != nil {
		b.WriteString("  find_similar(\"<query text>\", <limit>) - semantically similar chunks\n")
	}
	if a.searcher != nil {
		b.WriteString("  grep(\"<pattern>\", <limit>) - literal/regex search across the codebase\n")
	}
	return b.String()
}

// execute runs one tool request. Failures come back as an error payload in
// the result text so the model can react to them.
func (a *Agent) execute(ctx context.Context, sess *session, req ToolRequest) string {
	switch req.Name {
	case ToolReadChunk:
		chunk, err := a.store.GetChunk(ctx, req.ChunkID)
		if err != nil {
			return toolError(err.Error())
		}
		if chunk == nil {
			return toolError("chunk not found: " + req.ChunkID)
		}
		return encodeResult(map[string]interface{}{
			"id":      chunk.ID,
			"name":    chunk.Name,
			"path":    chunk.Path,
			"content": truncate(chunk.Content, a.config.SourceCharBudget),
		})

	case ToolGetCallers:
		refs, err := a.store.GetCallers(ctx, req.ChunkID, req.Depth)
		if err != nil {
			return toolError(err.Error())
		}
		for _, r := range refs {
			sess.remember(r.ID, r.Name, r.Path, types.RelCaller)
		}
		return encodeRefs(refs)

	case ToolGetCallees:
		refs, err := a.store.GetCallees(ctx, req.ChunkID, req.Depth)
		if err != nil {
			return toolError(err.Error())
		}
		for _, r := range refs {
			sess.remember(r.ID, r.Name, r.Path, types.RelCallee)
		}
		return encodeRefs(refs)

	case ToolGetSiblings:
		refs, err := a.store.GetSiblings(ctx, req.ChunkID)
		if err != nil {
			return toolError(err.Error())
		}
		for _, r := range refs {
			sess.remember(r.ID, r.Name, r.Path, types.RelSibling)
		}
		return encodeRefs(refs)

	case ToolFindSimilar:
		if a.embedder == nil {
			return toolError("similarity search is not configured")
		}
		vector, err := a.embedder.Embed(ctx, req.Query)
		if err != nil {
			return toolError(err.Error())
		}
		refs, err := a.store.SimilarChunks(ctx, vector, req.Limit)
		if err != nil {
			return toolError(err.Error())
		}
		for _, r := range refs {
			sess.remember(r.ID, r.Name, r.Path, types.RelSimilar)
		}
		return encodeRefs(refs)

	case ToolGrep:
		if a.searcher == nil {
			return toolError("text search is not configured")
		}
		matches, err := a.searcher.Search(ctx, req.Query, textsearch.Options{Limit: req.Limit})
		if err != nil {
			return toolError(err.Error())
		}
		return encodeResult(matches)

	default:
		return toolError("unknown tool: " + string(req.Name))
	}
}

type enrichmentPayload struct {
	Summary               string   `json:"summary"`
	Purpose               string   `json:"purpose"`
	KeyOperations         []string `json:"key_operations"`
	SideEffects           []string `json:"side_effects"`
	StateChanges          []string `json:"state_changes"`
	ImplicitDependencies  []string `json:"implicit_dependencies"`
	DesignPatterns        []string `json:"design_patterns"`
	ArchitecturalPatterns []string `json:"architectural_patterns"`
	AntiPatterns          []string `json:"anti_patterns"`
	Complexity            string   `json:"complexity"`
	SecurityConcerns      []string `json:"security_concerns"`
	PerformanceConcerns   []string `json:"performance_concerns"`
	BusinessRules         []string `json:"business_rules"`
	Tags                  []string `json:"tags"`
	Confidence            float64  `json:"confidence"`
}

// finalize asks for the structured enrichment grounded in the full
// interaction. A response that cannot be parsed or validated is an error;
// the caller treats it as retryable.
func (a *Agent) finalize(ctx context.Context, sess *session) (*types.Enrichment, error) {
	prompt := strings.Join(sess.history, "\n\n") + "\n\n" + finalizationInstructions

	var payload enrichmentPayload
	if err := a.client.GenerateStructured(ctx, prompt, &payload); err != nil {
		return nil, fmt.Errorf("enrichment generation failed: %w", err)
	}

	e := &types.Enrichment{
		ChunkID:         sess.target.ID,
		FileID:          sess.target.FileID,
		ContentHash:     sess.target.ContentHash,
		AnalysisVersion: a.config.AnalysisVersion,

		Summary:               strings.TrimSpace(payload.Summary),
		Purpose:               strings.TrimSpace(payload.Purpose),
		KeyOperations:         payload.KeyOperations,
		SideEffects:           payload.SideEffects,
		StateChanges:          payload.StateChanges,
		ImplicitDependencies:  payload.ImplicitDependencies,
		DesignPatterns:        payload.DesignPatterns,
		ArchitecturalPatterns: payload.ArchitecturalPatterns,
		AntiPatterns:          payload.AntiPatterns,
		Complexity:            types.Complexity(strings.ToLower(payload.Complexity)),
		SecurityConcerns:      payload.SecurityConcerns,
		PerformanceConcerns:   payload.PerformanceConcerns,
		BusinessRules:         payload.BusinessRules,
		Tags:                  payload.Tags,

		ModelUsed:  a.client.Model(),
		Confidence: payload.Confidence,
		CreatedAt:  time.Now(),
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("model produced invalid enrichment: %w", err)
	}
	return e, nil
}

const finalizationInstructions = `System: Research is over. Respond with ONLY a JSON object (no prose, no code fences) describing the target chunk:
{
  "summary": "one-paragraph summary",
  "purpose": "why this code exists",
  "key_operations": ["..."],
  "side_effects": ["..."],
  "state_changes": ["..."],
  "implicit_dependencies": ["..."],
  "design_patterns": ["..."],
  "architectural_patterns": ["..."],
  "anti_patterns": ["..."],
  "complexity": "low|medium|high",
  "security_concerns": ["..."],
  "performance_concerns": ["..."],
  "business_rules": ["..."],
  "tags": ["3 to 10 short tags"],
  "confidence": 0.0
}`

// buildPartials turns every discovered neighbor into a side-finding at the
// fixed moderate confidence.
func (a *Agent) buildPartials(sess *session) []types.PartialEnrichment {
	partials := make([]types.PartialEnrichment, 0, len(sess.discoveryOrder))
	for _, id := range sess.discoveryOrder {
		d := sess.discovered[id]
		name := d.name
		if name == "" {
			name = id
		}
		learned := fmt.Sprintf("Surfaced as a %s of %s during research", d.relationship, sess.target.Name)
		partials = append(partials, types.PartialEnrichment{
			ChunkID:       id,
			Learned:       truncate(learned, types.MaxLearnedLength),
			Relationship:  d.relationship,
			Confidence:    a.config.PartialConfidence,
			SourceChunkID: sess.target.ID,
		})
	}
	return partials
}

func toolError(msg string) string {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return string(out)
}

func encodeResult(v interface{}) string {
	out, err := json.Marshal(v)
	if err != nil {
		return toolError(err.Error())
	}
	return string(out)
}

func encodeRefs(refs []*types.ChunkRef) string {
	if len(refs) == 0 {
		return `[]`
	}
	return encodeResult(refs)
}

// truncate cuts s to at most max bytes, backing off to a rune boundary so
// the cut never splits a multi-byte character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
