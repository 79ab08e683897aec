// Package textsearch provides an optional literal/regex search backend
// over the scanned source tree. When no searcher is configured the research
// loop omits the grep tool from its catalog.
package textsearch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codelore/codelore/internal/types"
)

// Searcher finds lines matching a pattern in the source tree
type Searcher interface {
	Search(ctx context.Context, pattern string, opts Options) ([]types.SearchMatch, error)
}

// Options control one search call
type Options struct {
	Limit         int  // Maximum matches to return (default 20)
	CaseSensitive bool // Case-sensitive matching (default false)
}

// Directories never descended into during a search
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// FSSearcher walks a source root applying a compiled regex per line.
type FSSearcher struct {
	root          string
	maxFileSize   int64
	maxLineLength int
}

// NewFSSearcher creates a filesystem searcher rooted at dir
func NewFSSearcher(root string) (*FSSearcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("search root unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("search root %s is not a directory", root)
	}
	return &FSSearcher{
		root:          root,
		maxFileSize:   1 << 20, // skip files over 1MB, likely generated or binary
		maxLineLength: 500,
	}, nil
}

// Search walks the tree and returns up to opts.Limit matching lines
func (s *FSSearcher) Search(ctx context.Context, pattern string, opts Options) ([]types.SearchMatch, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	expr := pattern
	if !opts.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid search pattern: %w", err)
	}

	var matches []types.SearchMatch
	err = filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			name := info.Name()
			if skippedDirs[name] || (strings.HasPrefix(name, ".") && path != s.root) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= limit || info.Size() > s.maxFileSize {
			return nil
		}

		fileMatches, err := s.searchFile(path, re, limit-len(matches))
		if err != nil {
			return nil // skip undecodable files
		}
		matches = append(matches, fileMatches...)
		return nil
	})
	if err != nil && err != ctx.Err() {
		return nil, fmt.Errorf("search walk failed: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return matches, nil
}

func (s *FSSearcher) searchFile(path string, re *regexp.Regexp, limit int) ([]types.SearchMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}

	var matches []types.SearchMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		text := strings.TrimSpace(line)
		if len(text) > s.maxLineLength {
			text = text[:s.maxLineLength]
		}
		matches = append(matches, types.SearchMatch{Path: rel, Line: lineNo, Text: text})
		if len(matches) >= limit {
			break
		}
	}
	return matches, scanner.Err()
}
