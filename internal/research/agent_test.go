package research

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelore/codelore/internal/storage/sqlite"
	"github.com/codelore/codelore/internal/types"
)

// scriptedClient replays canned responses; once the script runs out it
// repeats the final entry.
type scriptedClient struct {
	responses  []string
	structured string
	chatCalls  int
}

func (c *scriptedClient) Chat(ctx context.Context, prompt string) (string, error) {
	idx := c.chatCalls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.chatCalls++
	return c.responses[idx], nil
}

func (c *scriptedClient) GenerateStructured(ctx context.Context, prompt string, out interface{}) error {
	return json.Unmarshal([]byte(c.structured), out)
}

func (c *scriptedClient) Model() string { return "scripted-model" }

const validEnrichmentJSON = `{
	"summary": "Validates session tokens before request dispatch.",
	"purpose": "Guards authenticated endpoints.",
	"key_operations": ["parse token", "verify signature"],
	"complexity": "medium",
	"tags": ["auth", "middleware", "security"],
	"confidence": 0.85
}`

func newTestAgent(t *testing.T, client *scriptedClient, cfg Config) (*Agent, *sqlite.SQLiteStore) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, client, nil, nil, cfg, nil), store
}

func seedGraph(t *testing.T, store *sqlite.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	chunks := []*types.Chunk{
		{ID: "target", FileID: "f1", Path: "/src/auth.go", Name: "ValidateToken", Content: "func ValidateToken() {}", ContentHash: "hash-t", TokenCount: 120},
		{ID: "caller-1", FileID: "f2", Path: "/src/server.go", Name: "HandleRequest", Content: "func HandleRequest() {}", ContentHash: "hash-c", TokenCount: 200},
		{ID: "sibling-1", FileID: "f1", Path: "/src/auth.go", Name: "RefreshToken", Content: "func RefreshToken() {}", ContentHash: "hash-s", TokenCount: 90},
	}
	for _, c := range chunks {
		require.NoError(t, store.UpsertChunk(ctx, c))
	}
	require.NoError(t, store.AddChunkEdge(ctx, "caller-1", "target"))
}

func TestResearchTerminatesAtBudget(t *testing.T) {
	// A model that never calls a tool and never says done must still
	// terminate within the budgeted number of turns.
	client := &scriptedClient{
		responses:  []string{"Let me ponder this code for a while."},
		structured: validEnrichmentJSON,
	}
	agent, store := newTestAgent(t, client, Config{MaxToolCalls: 4})
	seedGraph(t, store)

	output, err := agent.Research(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, types.StopMaxToolCalls, output.StopReason)
	assert.Equal(t, 0, output.ToolCallCount)
	assert.LessOrEqual(t, client.chatCalls, 4)
}

func TestResearchEarlyStop(t *testing.T) {
	client := &scriptedClient{
		responses: []string{
			`I'll look at who calls this: get_callers("target", 1)`,
			"done",
		},
		structured: validEnrichmentJSON,
	}
	agent, store := newTestAgent(t, client, Config{})
	seedGraph(t, store)

	output, err := agent.Research(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, types.StopAgentDone, output.StopReason)
	assert.Equal(t, 1, output.ToolCallCount)

	require.Equal(t, []string{"caller-1"}, output.ResearchSources)
	require.Len(t, output.Captured, 1)
	partial := output.Captured[0]
	assert.Equal(t, "caller-1", partial.ChunkID)
	assert.Equal(t, types.RelCaller, partial.Relationship)
	assert.Equal(t, "target", partial.SourceChunkID)
	assert.Equal(t, 0.5, partial.Confidence)
	assert.LessOrEqual(t, len(partial.Learned), types.MaxLearnedLength)

	require.NotNil(t, output.Enrichment)
	assert.Equal(t, "target", output.Enrichment.ChunkID)
	assert.Equal(t, "hash-t", output.Enrichment.ContentHash)
	assert.Equal(t, "v1", output.Enrichment.AnalysisVersion)
	assert.Equal(t, "scripted-model", output.Enrichment.ModelUsed)
}

func TestResearchDoneRequiresPriorToolCall(t *testing.T) {
	// "done" before any tool call is not honored; the loop steers the
	// model instead.
	client := &scriptedClient{
		responses: []string{
			"done",
			`get_siblings("target")`,
			"done",
		},
		structured: validEnrichmentJSON,
	}
	agent, store := newTestAgent(t, client, Config{})
	seedGraph(t, store)

	output, err := agent.Research(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, types.StopAgentDone, output.StopReason)
	assert.Equal(t, 1, output.ToolCallCount)
	assert.Equal(t, []string{"sibling-1"}, output.ResearchSources)
}

func TestResearchPerTurnCapDefersExtraCalls(t *testing.T) {
	// Five calls in one reply: three run that turn, the remaining two
	// run on the next turn even though the model offers no new calls.
	client := &scriptedClient{
		responses: []string{
			`read_chunk("caller-1") read_chunk("sibling-1") read_chunk("target") read_chunk("caller-1") read_chunk("sibling-1")`,
			"Still looking.",
			"done",
		},
		structured: validEnrichmentJSON,
	}
	agent, store := newTestAgent(t, client, Config{MaxToolCalls: 10})
	seedGraph(t, store)

	output, err := agent.Research(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, types.StopAgentDone, output.StopReason)
	assert.Equal(t, 5, output.ToolCallCount)
	assert.Equal(t, 3, client.chatCalls)
}

func TestResearchBudgetCutsTurnShort(t *testing.T) {
	// Budget of 2 with three calls in one reply: only two execute.
	client := &scriptedClient{
		responses: []string{
			`read_chunk("caller-1") read_chunk("sibling-1") read_chunk("target")`,
		},
		structured: validEnrichmentJSON,
	}
	agent, store := newTestAgent(t, client, Config{MaxToolCalls: 2})
	seedGraph(t, store)

	output, err := agent.Research(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, types.StopMaxToolCalls, output.StopReason)
	assert.Equal(t, 2, output.ToolCallCount)
}

func TestResearchToolErrorsStayInLoop(t *testing.T) {
	client := &scriptedClient{
		responses: []string{
			`read_chunk("no-such-chunk")`,
			"done",
		},
		structured: validEnrichmentJSON,
	}
	agent, store := newTestAgent(t, client, Config{})
	seedGraph(t, store)

	output, err := agent.Research(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, 1, output.ToolCallCount)
	assert.Empty(t, output.ResearchSources)
}

func TestResearchRelationshipKeepsMostRecent(t *testing.T) {
	// sibling-1 is first discovered as a sibling, then re-surfaced as a
	// caller; the later relationship wins.
	client := &scriptedClient{
		responses: []string{
			`get_siblings("target")`,
			`get_callers("target", 1)`,
			"done",
		},
		structured: validEnrichmentJSON,
	}
	agent, store := newTestAgent(t, client, Config{})
	seedGraph(t, store)
	require.NoError(t, store.AddChunkEdge(context.Background(), "sibling-1", "target"))

	output, err := agent.Research(context.Background(), "target")
	require.NoError(t, err)

	byID := make(map[string]types.PartialEnrichment)
	for _, p := range output.Captured {
		byID[p.ChunkID] = p
	}
	require.Contains(t, byID, "sibling-1")
	assert.Equal(t, types.RelCaller, byID["sibling-1"].Relationship)
	assert.Equal(t, types.RelCaller, byID["caller-1"].Relationship)
}

func TestResearchInvalidEnrichmentIsError(t *testing.T) {
	client := &scriptedClient{
		responses:  []string{`get_siblings("target")`, "done"},
		structured: `{"summary": "", "complexity": "medium", "tags": ["a","b","c"]}`,
	}
	agent, store := newTestAgent(t, client, Config{})
	seedGraph(t, store)

	_, err := agent.Research(context.Background(), "target")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid enrichment")
}

func TestResearchUnconfiguredToolsOmittedFromCatalog(t *testing.T) {
	client := &scriptedClient{responses: []string{"done"}, structured: validEnrichmentJSON}
	agent, store := newTestAgent(t, client, Config{})
	seedGraph(t, store)

	chunk, err := store.GetChunk(context.Background(), "target")
	require.NoError(t, err)
	seed := agent.seedPrompt(chunk)
	assert.NotContains(t, seed, "grep(")
	assert.NotContains(t, seed, "find_similar(")
	assert.Contains(t, seed, "read_chunk(")
	assert.Contains(t, seed, "get_callers(")
}

func TestStoreResultsPartialFailureDoesNotBlockOthers(t *testing.T) {
	client := &scriptedClient{structured: validEnrichmentJSON}
	agent, store := newTestAgent(t, client, Config{})
	seedGraph(t, store)
	ctx := context.Background()

	var payload enrichmentPayload
	require.NoError(t, json.Unmarshal([]byte(validEnrichmentJSON), &payload))

	output := &types.ResearchOutput{
		TargetChunkID: "target",
		Enrichment: &types.Enrichment{
			ChunkID:         "target",
			FileID:          "f1",
			ContentHash:     "hash-t",
			AnalysisVersion: "v1",
			Summary:         payload.Summary,
			Complexity:      types.ComplexityMedium,
			Tags:            payload.Tags,
			Confidence:      payload.Confidence,
		},
		Captured: []types.PartialEnrichment{
			{ChunkID: "caller-1", Learned: "calls the target", Relationship: "bogus", Confidence: 0.5, SourceChunkID: "target"},
			{ChunkID: "sibling-1", Learned: "shares the file", Relationship: types.RelSibling, Confidence: 0.5, SourceChunkID: "target"},
		},
	}

	require.NoError(t, agent.StoreResults(ctx, output))

	e, err := store.GetEnrichment(ctx, "target")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, strings.TrimSpace(payload.Summary), e.Summary)

	partials, err := store.GetPartialEnrichments(ctx, "sibling-1")
	require.NoError(t, err)
	assert.Len(t, partials, 1)

	partials, err = store.GetPartialEnrichments(ctx, "caller-1")
	require.NoError(t, err)
	assert.Empty(t, partials)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"under budget", "short", 10, "short"},
		{"ascii cut", "abcdef", 3, "abc"},
		{"multibyte kept whole", "héllo", 3, "hé"},
		{"cut inside rune backs off", "日本語", 4, "日"},
		{"cut on boundary", "日本語", 6, "日本"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.in, tc.max)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tc.max)
		})
	}
}

func TestSeedPromptTruncatesSourceCleanly(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedClient{responses: []string{"done"}}, Config{SourceCharBudget: 10})

	chunk := &types.Chunk{
		ID:      "wide",
		Name:    "wide",
		Path:    "/src/wide.go",
		Content: strings.Repeat("值", 20),
	}
	prompt := agent.seedPrompt(chunk)
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, "... (truncated)")
}
