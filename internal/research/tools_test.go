package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractToolRequests(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []ToolRequest
	}{
		{
			name: "no calls",
			text: "I am thinking about what to look at next.",
			want: nil,
		},
		{
			name: "single read",
			text: `Let me inspect it: read_chunk("chunk-42")`,
			want: []ToolRequest{{Name: ToolReadChunk, ChunkID: "chunk-42"}},
		},
		{
			name: "callers with explicit depth",
			text: `get_callers("chunk-1", 2)`,
			want: []ToolRequest{{Name: ToolGetCallers, ChunkID: "chunk-1", Depth: 2}},
		},
		{
			name: "callers default depth",
			text: `get_callers("chunk-1")`,
			want: []ToolRequest{{Name: ToolGetCallers, ChunkID: "chunk-1", Depth: 1}},
		},
		{
			name: "single quotes",
			text: `get_siblings('chunk-9')`,
			want: []ToolRequest{{Name: ToolGetSiblings, ChunkID: "chunk-9"}},
		},
		{
			name: "multiple calls keep text order",
			text: `First get_callees("a", 1), then read_chunk("b"), finally grep("handleAuth")`,
			want: []ToolRequest{
				{Name: ToolGetCallees, ChunkID: "a", Depth: 1},
				{Name: ToolReadChunk, ChunkID: "b"},
				{Name: ToolGrep, Query: "handleAuth", Limit: 20},
			},
		},
		{
			name: "similarity with limit",
			text: `find_similar("token refresh logic", 3)`,
			want: []ToolRequest{{Name: ToolFindSimilar, Query: "token refresh logic", Limit: 3}},
		},
		{
			name: "malformed call is ignored",
			text: `read_chunk(chunk-1)`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractToolRequests(tt.text))
		})
	}
}

func TestSignalsDone(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"done", true},
		{"Done.", true},
		{"DONE", true},
		{"  done  ", true},
		{"\"done\"", true},
		{"I have done some research and will continue.", false},
		{"the work is done here", false},
		{"I know enough now.\ndone", true},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, signalsDone(tt.text), "text: %q", tt.text)
	}
}
