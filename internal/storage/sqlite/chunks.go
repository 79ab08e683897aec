package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/codelore/codelore/internal/types"
)

// GetChunk retrieves a chunk by ID. Returns nil when the chunk does not exist.
func (s *SQLiteStore) GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error) {
	var c types.Chunk
	var exported int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, path, name, content, content_hash, token_count,
		       exported, pagerank, fan_in, fan_out, updated_at
		FROM chunks
		WHERE id = ?
	`, chunkID).Scan(
		&c.ID, &c.FileID, &c.Path, &c.Name, &c.Content, &c.ContentHash,
		&c.TokenCount, &exported, &c.PageRank, &c.FanIn, &c.FanOut, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	c.Exported = exported != 0
	return &c, nil
}

// UpsertChunk inserts or replaces a chunk record. The scanner and graph
// builder write through this path; the enrichment pipeline only reads.
func (s *SQLiteStore) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	exported := 0
	if chunk.Exported {
		exported = 1
	}
	updatedAt := chunk.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, file_id, path, name, content, content_hash,
		                    token_count, exported, pagerank, fan_in, fan_out, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_id = excluded.file_id,
			path = excluded.path,
			name = excluded.name,
			content = excluded.content,
			content_hash = excluded.content_hash,
			token_count = excluded.token_count,
			exported = excluded.exported,
			pagerank = excluded.pagerank,
			fan_in = excluded.fan_in,
			fan_out = excluded.fan_out,
			updated_at = excluded.updated_at
	`, chunk.ID, chunk.FileID, chunk.Path, chunk.Name, chunk.Content,
		chunk.ContentHash, chunk.TokenCount, exported, chunk.PageRank,
		chunk.FanIn, chunk.FanOut, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

// DeleteChunk removes a chunk record
func (s *SQLiteStore) DeleteChunk(ctx context.Context, chunkID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, chunkID)
	if err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

// GetFileChunks lists all chunks belonging to a file
func (s *SQLiteStore) GetFileChunks(ctx context.Context, fileID string) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, path, name, content, content_hash, token_count,
		       exported, pagerank, fan_in, fan_out, updated_at
		FROM chunks
		WHERE file_id = ?
		ORDER BY id
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// AddChunkEdge records a call/import edge between two chunks
func (s *SQLiteStore) AddChunkEdge(ctx context.Context, fromID, toID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chunk_edges (from_chunk, to_chunk) VALUES (?, ?)
	`, fromID, toID)
	if err != nil {
		return fmt.Errorf("failed to add chunk edge: %w", err)
	}
	return nil
}

// GetCallers lists chunks that (transitively) call the given chunk, up to
// depth hops through the edge graph.
func (s *SQLiteStore) GetCallers(ctx context.Context, chunkID string, depth int) ([]*types.ChunkRef, error) {
	return s.traverse(ctx, chunkID, depth, `
		WITH RECURSIVE walk(id, depth) AS (
			SELECT from_chunk, 1 FROM chunk_edges WHERE to_chunk = ?
			UNION
			SELECT e.from_chunk, w.depth + 1
			FROM chunk_edges e JOIN walk w ON e.to_chunk = w.id
			WHERE w.depth < ?
		)
		SELECT DISTINCT c.id, c.name, c.path
		FROM walk JOIN chunks c ON c.id = walk.id
		WHERE c.id != ?
	`)
}

// GetCallees lists chunks that the given chunk (transitively) calls, up to
// depth hops through the edge graph.
func (s *SQLiteStore) GetCallees(ctx context.Context, chunkID string, depth int) ([]*types.ChunkRef, error) {
	return s.traverse(ctx, chunkID, depth, `
		WITH RECURSIVE walk(id, depth) AS (
			SELECT to_chunk, 1 FROM chunk_edges WHERE from_chunk = ?
			UNION
			SELECT e.to_chunk, w.depth + 1
			FROM chunk_edges e JOIN walk w ON e.from_chunk = w.id
			WHERE w.depth < ?
		)
		SELECT DISTINCT c.id, c.name, c.path
		FROM walk JOIN chunks c ON c.id = walk.id
		WHERE c.id != ?
	`)
}

func (s *SQLiteStore) traverse(ctx context.Context, chunkID string, depth int, query string) ([]*types.ChunkRef, error) {
	if depth < 1 {
		depth = 1
	}
	rows, err := s.db.QueryContext(ctx, query, chunkID, depth, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to traverse graph: %w", err)
	}
	defer rows.Close()

	var refs []*types.ChunkRef
	for rows.Next() {
		var ref types.ChunkRef
		if err := rows.Scan(&ref.ID, &ref.Name, &ref.Path); err != nil {
			return nil, fmt.Errorf("failed to scan chunk ref: %w", err)
		}
		refs = append(refs, &ref)
	}
	return refs, rows.Err()
}

// GetSiblings lists chunks sharing the target's owning file
func (s *SQLiteStore) GetSiblings(ctx context.Context, chunkID string) ([]*types.ChunkRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.path
		FROM chunks c
		WHERE c.file_id = (SELECT file_id FROM chunks WHERE id = ?)
		  AND c.id != ?
		ORDER BY c.id
	`, chunkID, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list siblings: %w", err)
	}
	defer rows.Close()

	var refs []*types.ChunkRef
	for rows.Next() {
		var ref types.ChunkRef
		if err := rows.Scan(&ref.ID, &ref.Name, &ref.Path); err != nil {
			return nil, fmt.Errorf("failed to scan sibling: %w", err)
		}
		refs = append(refs, &ref)
	}
	return refs, rows.Err()
}

// SaveChunkEmbedding stores (or replaces) the embedding vector for a chunk
func (s *SQLiteStore) SaveChunkEmbedding(ctx context.Context, chunkID string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, vector, dimensions) VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET vector = excluded.vector, dimensions = excluded.dimensions
	`, chunkID, string(data), len(vector))
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// SimilarChunks finds the chunks whose stored embeddings are closest to the
// query vector by cosine similarity.
func (s *SQLiteStore) SimilarChunks(ctx context.Context, vector []float32, limit int) ([]*types.ChunkRef, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.chunk_id, e.vector, c.name, c.path
		FROM chunk_embeddings e
		JOIN chunks c ON c.id = e.chunk_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()

	var refs []*types.ChunkRef
	for rows.Next() {
		var ref types.ChunkRef
		var encoded string
		if err := rows.Scan(&ref.ID, &encoded, &ref.Name, &ref.Path); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		var stored []float32
		if err := json.Unmarshal([]byte(encoded), &stored); err != nil {
			continue // skip undecodable rows rather than failing the search
		}
		ref.Score = cosineSimilarity(vector, stored)
		refs = append(refs, &ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Score > refs[j].Score })
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched dimensions or zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ListCandidates returns up to limit chunks that have no active queue entry
// and no valid enrichment for the given analysis version, ordered by
// descending centrality.
func (s *SQLiteStore) ListCandidates(ctx context.Context, analysisVersion string, limit int) ([]*types.Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.file_id, c.path, c.name, c.content, c.content_hash,
		       c.token_count, c.exported, c.pagerank, c.fan_in, c.fan_out, c.updated_at
		FROM chunks c
		WHERE NOT EXISTS (
			SELECT 1 FROM enrichment_queue q
			WHERE q.chunk_id = c.id AND q.status IN ('pending', 'processing')
		)
		AND NOT EXISTS (
			SELECT 1 FROM enrichments e
			WHERE e.chunk_id = c.id
			  AND e.content_hash = c.content_hash
			  AND e.analysis_version = ?
		)
		ORDER BY c.pagerank DESC
		LIMIT ?
	`, analysisVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*types.Chunk, error) {
	var chunks []*types.Chunk
	for rows.Next() {
		var c types.Chunk
		var exported int
		err := rows.Scan(
			&c.ID, &c.FileID, &c.Path, &c.Name, &c.Content, &c.ContentHash,
			&c.TokenCount, &exported, &c.PageRank, &c.FanIn, &c.FanOut, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Exported = exported != 0
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
