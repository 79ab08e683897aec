package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codelore/codelore/internal/types"
)

// SaveEnrichment inserts or replaces the enrichment for a chunk
func (s *SQLiteStore) SaveEnrichment(ctx context.Context, e *types.Enrichment) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichments (
			chunk_id, file_id, content_hash, analysis_version,
			summary, purpose, key_operations, side_effects, state_changes,
			implicit_dependencies, design_patterns, architectural_patterns,
			anti_patterns, complexity, security_concerns, performance_concerns,
			business_rules, tags, model_used, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			file_id = excluded.file_id,
			content_hash = excluded.content_hash,
			analysis_version = excluded.analysis_version,
			summary = excluded.summary,
			purpose = excluded.purpose,
			key_operations = excluded.key_operations,
			side_effects = excluded.side_effects,
			state_changes = excluded.state_changes,
			implicit_dependencies = excluded.implicit_dependencies,
			design_patterns = excluded.design_patterns,
			architectural_patterns = excluded.architectural_patterns,
			anti_patterns = excluded.anti_patterns,
			complexity = excluded.complexity,
			security_concerns = excluded.security_concerns,
			performance_concerns = excluded.performance_concerns,
			business_rules = excluded.business_rules,
			tags = excluded.tags,
			model_used = excluded.model_used,
			confidence = excluded.confidence,
			created_at = excluded.created_at
	`,
		e.ChunkID, e.FileID, e.ContentHash, e.AnalysisVersion,
		e.Summary, e.Purpose, encodeList(e.KeyOperations), encodeList(e.SideEffects),
		encodeList(e.StateChanges), encodeList(e.ImplicitDependencies),
		encodeList(e.DesignPatterns), encodeList(e.ArchitecturalPatterns),
		encodeList(e.AntiPatterns), e.Complexity, encodeList(e.SecurityConcerns),
		encodeList(e.PerformanceConcerns), encodeList(e.BusinessRules),
		encodeList(e.Tags), e.ModelUsed, e.Confidence, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save enrichment: %w", err)
	}
	return nil
}

const enrichmentColumns = `chunk_id, file_id, content_hash, analysis_version,
	summary, purpose, key_operations, side_effects, state_changes,
	implicit_dependencies, design_patterns, architectural_patterns,
	anti_patterns, complexity, security_concerns, performance_concerns,
	business_rules, tags, model_used, confidence, created_at`

// GetEnrichment retrieves the enrichment for a chunk. Returns nil when none
// is stored. Callers wanting the validity check should go through the cache
// oracle instead.
func (s *SQLiteStore) GetEnrichment(ctx context.Context, chunkID string) (*types.Enrichment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+enrichmentColumns+` FROM enrichments WHERE chunk_id = ?
	`, chunkID)
	e, err := scanEnrichment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrichment: %w", err)
	}
	return e, nil
}

// DeleteEnrichment removes the enrichment for a chunk
func (s *SQLiteStore) DeleteEnrichment(ctx context.Context, chunkID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM enrichments WHERE chunk_id = ?`, chunkID)
	if err != nil {
		return fmt.Errorf("failed to delete enrichment: %w", err)
	}
	return nil
}

// ListStaleEnrichments returns enrichments whose content hash no longer
// matches the owning chunk or whose analysis version differs from the
// configured one. Orphans (chunk gone) are excluded; cleanup handles those.
func (s *SQLiteStore) ListStaleEnrichments(ctx context.Context, analysisVersion string) ([]*types.Enrichment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+enrichmentColumnsPrefixed("e")+`
		FROM enrichments e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE e.content_hash != c.content_hash OR e.analysis_version != ?
	`, analysisVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale enrichments: %w", err)
	}
	defer rows.Close()

	var stale []*types.Enrichment
	for rows.Next() {
		e, err := scanEnrichment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrichment: %w", err)
		}
		stale = append(stale, e)
	}
	return stale, rows.Err()
}

// DeleteAndRequeue atomically discards a chunk's enrichment and inserts (or
// reuses) a pending queue item at the given priority. Run in a single
// transaction so a crash cannot leave the chunk with neither an enrichment
// nor a queue entry.
func (s *SQLiteStore) DeleteAndRequeue(ctx context.Context, chunkID string, priority int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fileID string
	err = tx.QueryRowContext(ctx, `SELECT file_id FROM enrichments WHERE chunk_id = ?`, chunkID).Scan(&fileID)
	if err == sql.ErrNoRows {
		// No enrichment; fall back to the chunk's owning file
		err = tx.QueryRowContext(ctx, `SELECT file_id FROM chunks WHERE id = ?`, chunkID).Scan(&fileID)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve file for chunk %s: %w", chunkID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM enrichments WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("failed to delete enrichment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO enrichment_queue (chunk_id, file_id, priority, status, attempts, created_at)
		VALUES (?, ?, ?, 'pending', 0, ?)
	`, chunkID, fileID, priority, time.Now()); err != nil {
		return fmt.Errorf("failed to requeue chunk: %w", err)
	}

	return tx.Commit()
}

// AddPartialEnrichment appends a neighbor finding. Learned text beyond the
// cap is truncated rather than rejected.
func (s *SQLiteStore) AddPartialEnrichment(ctx context.Context, p *types.PartialEnrichment) error {
	if len(p.Learned) > types.MaxLearnedLength {
		p.Learned = p.Learned[:types.MaxLearnedLength]
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO partial_enrichments (chunk_id, learned, relationship, confidence, source_chunk_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ChunkID, p.Learned, p.Relationship, p.Confidence, p.SourceChunkID, createdAt)
	if err != nil {
		return fmt.Errorf("failed to add partial enrichment: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}
	return nil
}

// GetPartialEnrichments lists accumulated neighbor findings for a chunk
func (s *SQLiteStore) GetPartialEnrichments(ctx context.Context, chunkID string) ([]*types.PartialEnrichment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chunk_id, learned, relationship, confidence, source_chunk_id, created_at
		FROM partial_enrichments
		WHERE chunk_id = ?
		ORDER BY created_at ASC, id ASC
	`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list partial enrichments: %w", err)
	}
	defer rows.Close()

	var partials []*types.PartialEnrichment
	for rows.Next() {
		var p types.PartialEnrichment
		if err := rows.Scan(&p.ID, &p.ChunkID, &p.Learned, &p.Relationship, &p.Confidence, &p.SourceChunkID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan partial enrichment: %w", err)
		}
		partials = append(partials, &p)
	}
	return partials, rows.Err()
}

// EnrichmentStats reports validity counts for stored enrichments
func (s *SQLiteStore) EnrichmentStats(ctx context.Context, analysisVersion string) (*types.EnrichmentStats, error) {
	stats := &types.EnrichmentStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN c.id IS NOT NULL AND e.content_hash = c.content_hash AND e.analysis_version = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN c.id IS NOT NULL AND (e.content_hash != c.content_hash OR e.analysis_version != ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN c.id IS NULL THEN 1 ELSE 0 END), 0)
		FROM enrichments e
		LEFT JOIN chunks c ON c.id = e.chunk_id
	`, analysisVersion, analysisVersion).Scan(&stats.Total, &stats.Valid, &stats.Stale, &stats.Orphaned)
	if err != nil {
		return nil, fmt.Errorf("failed to compute enrichment stats: %w", err)
	}
	return stats, nil
}

// CleanupOrphans removes enrichments, partials and queue items whose chunks
// no longer exist, and completed queue items older than the retention
// window. Returns the number of rows removed.
func (s *SQLiteStore) CleanupOrphans(ctx context.Context, retention time.Duration) (int, error) {
	total := 0

	statements := []struct {
		query string
		args  []interface{}
	}{
		{`DELETE FROM enrichments WHERE chunk_id NOT IN (SELECT id FROM chunks)`, nil},
		{`DELETE FROM partial_enrichments WHERE chunk_id NOT IN (SELECT id FROM chunks)`, nil},
		{`DELETE FROM enrichment_queue WHERE chunk_id NOT IN (SELECT id FROM chunks)`, nil},
		{`DELETE FROM chunk_embeddings WHERE chunk_id NOT IN (SELECT id FROM chunks)`, nil},
		{`DELETE FROM enrichment_queue WHERE status = 'complete' AND processed_at < ?`,
			[]interface{}{time.Now().Add(-retention)}},
	}

	for _, stmt := range statements {
		res, err := s.db.ExecContext(ctx, stmt.query, stmt.args...)
		if err != nil {
			return total, fmt.Errorf("cleanup failed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to read rows affected: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func decodeList(encoded string) []string {
	var items []string
	if err := json.Unmarshal([]byte(encoded), &items); err != nil {
		return nil
	}
	return items
}

func enrichmentColumnsPrefixed(alias string) string {
	return alias + `.chunk_id, ` + alias + `.file_id, ` + alias + `.content_hash, ` + alias + `.analysis_version,
	` + alias + `.summary, ` + alias + `.purpose, ` + alias + `.key_operations, ` + alias + `.side_effects, ` + alias + `.state_changes,
	` + alias + `.implicit_dependencies, ` + alias + `.design_patterns, ` + alias + `.architectural_patterns,
	` + alias + `.anti_patterns, ` + alias + `.complexity, ` + alias + `.security_concerns, ` + alias + `.performance_concerns,
	` + alias + `.business_rules, ` + alias + `.tags, ` + alias + `.model_used, ` + alias + `.confidence, ` + alias + `.created_at`
}

func scanEnrichment(row rowScanner) (*types.Enrichment, error) {
	var e types.Enrichment
	var keyOps, sideEffects, stateChanges, implicitDeps string
	var designPatterns, archPatterns, antiPatterns string
	var securityConcerns, perfConcerns, businessRules, tags string

	err := row.Scan(
		&e.ChunkID, &e.FileID, &e.ContentHash, &e.AnalysisVersion,
		&e.Summary, &e.Purpose, &keyOps, &sideEffects, &stateChanges,
		&implicitDeps, &designPatterns, &archPatterns,
		&antiPatterns, &e.Complexity, &securityConcerns, &perfConcerns,
		&businessRules, &tags, &e.ModelUsed, &e.Confidence, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.KeyOperations = decodeList(keyOps)
	e.SideEffects = decodeList(sideEffects)
	e.StateChanges = decodeList(stateChanges)
	e.ImplicitDependencies = decodeList(implicitDeps)
	e.DesignPatterns = decodeList(designPatterns)
	e.ArchitecturalPatterns = decodeList(archPatterns)
	e.AntiPatterns = decodeList(antiPatterns)
	e.SecurityConcerns = decodeList(securityConcerns)
	e.PerformanceConcerns = decodeList(perfConcerns)
	e.BusinessRules = decodeList(businessRules)
	e.Tags = decodeList(tags)
	return &e, nil
}
