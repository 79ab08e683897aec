package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Pre-compiled regular expressions for performance.
var (
	// Code fence patterns. Newlines are optional to handle responses that
	// skip them.
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	// JSON cleanup patterns
	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// JSON extraction patterns (greedy to capture nested structures)
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// ParseOptions configures JSON extraction behavior
type ParseOptions struct {
	Context      string      // Context for error messages and logs
	MaxInputSize int         // Maximum input size in bytes (0 = default 10MB)
	Logger       *zap.Logger // Optional logger for parse diagnostics
}

const defaultMaxInputSize = 10 * 1024 * 1024

// ParseInto extracts JSON from model output text into out, trying
// progressively more forgiving strategies:
//
//  1. direct JSON parse
//  2. strip markdown code fences and retry
//  3. fix common issues (trailing commas, comments) and retry
//  4. extract an embedded object/array from mixed content and retry
func ParseInto(text string, out interface{}, opts ...ParseOptions) error {
	var options ParseOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxSize := options.MaxInputSize
	if maxSize == 0 {
		maxSize = defaultMaxInputSize
	}

	if len(text) > maxSize {
		return fmt.Errorf("input exceeds size limit (%d > %d bytes)", len(text), maxSize)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("empty input")
	}

	// Strategy 1: direct parse
	firstErr := json.Unmarshal([]byte(trimmed), out)
	if firstErr == nil {
		return nil
	}

	logger.Debug("direct JSON parse failed, trying cleanup strategies",
		zap.String("context", options.Context),
		zap.String("preview", truncate(trimmed, 100)),
		zap.Error(firstErr))

	// Strategy 2: remove code fences
	withoutFences := removeCodeFences(trimmed)
	if withoutFences != trimmed {
		if err := json.Unmarshal([]byte(withoutFences), out); err == nil {
			return nil
		}
	}

	// Strategy 3: fix common JSON issues
	cleaned := cleanupJSON(withoutFences)
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	// Strategy 4: extract JSON from mixed content
	if extracted := extractJSON(cleaned); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), out); err == nil {
			return nil
		}
	}

	return fmt.Errorf("all JSON parsing strategies failed (%s): %w", options.Context, firstErr)
}

// removeCodeFences strips markdown code fences from text
func removeCodeFences(text string) string {
	cleaned := codeFenceStartRegex.ReplaceAllString(text, "$1")
	if cleaned == text {
		cleaned = codeFenceAnyRegex.ReplaceAllString(text, "$1")
	}
	// Remove single backticks wrapping the entire content
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "`"), "`")
	}
	return strings.TrimSpace(cleaned)
}

// cleanupJSON fixes common issues in LLM-produced JSON: comments and
// trailing commas.
func cleanupJSON(text string) string {
	cleaned := multiLineCommentRegex.ReplaceAllString(text, "")
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	return strings.TrimSpace(cleaned)
}

// extractJSON pulls the first JSON object or array out of mixed content.
// Returns "" when neither is found.
func extractJSON(text string) string {
	objIdx := strings.Index(text, "{")
	arrIdx := strings.Index(text, "[")

	if objIdx == -1 && arrIdx == -1 {
		return ""
	}
	// Prefer whichever structure starts first
	if objIdx != -1 && (arrIdx == -1 || objIdx < arrIdx) {
		return objectRegex.FindString(text)
	}
	return arrayRegex.FindString(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
