package research

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ToolName identifies one tool in the research loop's closed catalog.
type ToolName string

const (
	ToolReadChunk   ToolName = "read_chunk"
	ToolGetCallers  ToolName = "get_callers"
	ToolGetCallees  ToolName = "get_callees"
	ToolGetSiblings ToolName = "get_siblings"
	ToolFindSimilar ToolName = "find_similar"
	ToolGrep        ToolName = "grep"
)

// ToolRequest is one invocation against the catalog. The set of variants
// is closed: the loop only ever handles requests of these shapes, and the
// free-text extractor below is the single place raw model output is
// converted into them.
type ToolRequest struct {
	Name ToolName

	// ChunkID is the target for read_chunk, get_callers, get_callees
	// and get_siblings.
	ChunkID string

	// Query is the search text for find_similar and the pattern for grep.
	Query string

	// Depth bounds graph traversal for get_callers/get_callees.
	Depth int

	// Limit bounds result counts for find_similar and grep.
	Limit int
}

func (t ToolRequest) String() string {
	switch t.Name {
	case ToolGetCallers, ToolGetCallees:
		return fmt.Sprintf("%s(%q, %d)", t.Name, t.ChunkID, t.Depth)
	case ToolFindSimilar, ToolGrep:
		return fmt.Sprintf("%s(%q)", t.Name, t.Query)
	default:
		return fmt.Sprintf("%s(%q)", t.Name, t.ChunkID)
	}
}

// One recognition pattern per tool. Each matches a call-like syntax with a
// quoted first argument and an optional numeric second argument.
var (
	reReadChunk   = regexp.MustCompile(`read_chunk\(\s*["']([^"']+)["']\s*\)`)
	reGetCallers  = regexp.MustCompile(`get_callers\(\s*["']([^"']+)["']\s*(?:,\s*(\d+)\s*)?\)`)
	reGetCallees  = regexp.MustCompile(`get_callees\(\s*["']([^"']+)["']\s*(?:,\s*(\d+)\s*)?\)`)
	reGetSiblings = regexp.MustCompile(`get_siblings\(\s*["']([^"']+)["']\s*\)`)
	reFindSimilar = regexp.MustCompile(`find_similar\(\s*["']([^"']+)["']\s*(?:,\s*(\d+)\s*)?\)`)
	reGrep        = regexp.MustCompile(`grep\(\s*["']([^"']+)["']\s*(?:,\s*(\d+)\s*)?\)`)
)

type extractedCall struct {
	offset  int
	request ToolRequest
}

// ExtractToolRequests recognizes tool invocations in free-form model text
// and returns them in the order they appear. This is the compatibility
// shim for the unstructured chat channel; everything downstream handles
// only ToolRequest values.
func ExtractToolRequests(text string) []ToolRequest {
	var calls []extractedCall

	for _, m := range reReadChunk.FindAllStringSubmatchIndex(text, -1) {
		calls = append(calls, extractedCall{m[0], ToolRequest{Name: ToolReadChunk, ChunkID: text[m[2]:m[3]]}})
	}
	for _, m := range reGetCallers.FindAllStringSubmatchIndex(text, -1) {
		calls = append(calls, extractedCall{m[0], ToolRequest{
			Name:    ToolGetCallers,
			ChunkID: text[m[2]:m[3]],
			Depth:   optionalInt(text, m, 2, 1),
		}})
	}
	for _, m := range reGetCallees.FindAllStringSubmatchIndex(text, -1) {
		calls = append(calls, extractedCall{m[0], ToolRequest{
			Name:    ToolGetCallees,
			ChunkID: text[m[2]:m[3]],
			Depth:   optionalInt(text, m, 2, 1),
		}})
	}
	for _, m := range reGetSiblings.FindAllStringSubmatchIndex(text, -1) {
		calls = append(calls, extractedCall{m[0], ToolRequest{Name: ToolGetSiblings, ChunkID: text[m[2]:m[3]]}})
	}
	for _, m := range reFindSimilar.FindAllStringSubmatchIndex(text, -1) {
		calls = append(calls, extractedCall{m[0], ToolRequest{
			Name:  ToolFindSimilar,
			Query: text[m[2]:m[3]],
			Limit: optionalInt(text, m, 2, 5),
		}})
	}
	for _, m := range reGrep.FindAllStringSubmatchIndex(text, -1) {
		calls = append(calls, extractedCall{m[0], ToolRequest{
			Name:  ToolGrep,
			Query: text[m[2]:m[3]],
			Limit: optionalInt(text, m, 2, 20),
		}})
	}

	if len(calls) == 0 {
		return nil
	}

	sort.SliceStable(calls, func(i, j int) bool { return calls[i].offset < calls[j].offset })

	requests := make([]ToolRequest, len(calls))
	for i, c := range calls {
		requests[i] = c.request
	}
	return requests
}

// optionalInt reads the nth submatch of a FindAllStringSubmatchIndex
// result as an int, falling back when the group did not participate.
func optionalInt(text string, m []int, group, fallback int) int {
	lo, hi := m[2*group], m[2*group+1]
	if lo < 0 || hi < 0 {
		return fallback
	}
	n, err := strconv.Atoi(text[lo:hi])
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// A line consisting solely of "done" is the completion signal. Matching
// the whole line keeps incidental prose mentions of the word from ending
// a run early.
var reDone = regexp.MustCompile(`(?im)^\s*"?done"?\s*[.!]?\s*$`)

func signalsDone(text string) bool {
	return reDone.MatchString(strings.TrimSpace(text))
}
