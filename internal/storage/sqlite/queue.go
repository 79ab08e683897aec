package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codelore/codelore/internal/types"
)

// Enqueue inserts a queue item unless an active (pending or processing)
// item already exists for the chunk. Returns true when a row was inserted.
func (s *SQLiteStore) Enqueue(ctx context.Context, item *types.QueueItem) (bool, error) {
	if err := item.Validate(); err != nil {
		return false, fmt.Errorf("validation failed: %w", err)
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO enrichment_queue (chunk_id, file_id, priority, status, attempts, created_at)
		VALUES (?, ?, ?, 'pending', 0, ?)
	`, item.ChunkID, item.FileID, item.Priority, createdAt)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		id, err := res.LastInsertId()
		if err == nil {
			item.ID = id
		}
		item.Status = types.QueuePending
		item.CreatedAt = createdAt
	}
	return n > 0, nil
}

const queueColumns = `id, chunk_id, file_id, priority, status, attempts, next_retry_at, error_message, created_at, processed_at`

// GetQueueItem returns the most recent queue item for a chunk, or nil.
func (s *SQLiteStore) GetQueueItem(ctx context.Context, chunkID string) (*types.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM enrichment_queue
		WHERE chunk_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, chunkID)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// NextPending selects eligible pending items: retry timer elapsed (or never
// set), ordered by descending priority then oldest-first.
func (s *SQLiteStore) NextPending(ctx context.Context, now time.Time, limit int) ([]*types.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM enrichment_queue
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}
	defer rows.Close()

	var items []*types.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkProcessing transitions a pending item to processing. The guard on the
// current status makes the claim atomic: a second claimer sees zero rows.
func (s *SQLiteStore) MarkProcessing(ctx context.Context, itemID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_queue SET status = 'processing'
		WHERE id = ? AND status = 'pending'
	`, itemID)
	if err != nil {
		return fmt.Errorf("failed to mark processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue item %d is not pending", itemID)
	}
	return nil
}

// MarkComplete transitions a processing item to complete
func (s *SQLiteStore) MarkComplete(ctx context.Context, itemID int64, processedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'complete', processed_at = ?, error_message = NULL, next_retry_at = NULL
		WHERE id = ?
	`, processedAt, itemID)
	if err != nil {
		return fmt.Errorf("failed to mark complete: %w", err)
	}
	return nil
}

// MarkRetry returns a failed attempt to pending with a backoff timer.
// Status, attempts, timestamp and error are applied in one statement so
// readers never observe partial state.
func (s *SQLiteStore) MarkRetry(ctx context.Context, itemID int64, attempts int, nextRetryAt time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'pending', attempts = ?, next_retry_at = ?, error_message = ?
		WHERE id = ?
	`, attempts, nextRetryAt, errMsg, itemID)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}

// MarkFailed transitions an item to the terminal failed state
func (s *SQLiteStore) MarkFailed(ctx context.Context, itemID int64, attempts int, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'failed', attempts = ?, error_message = ?, next_retry_at = NULL, processed_at = ?
		WHERE id = ?
	`, attempts, errMsg, time.Now(), itemID)
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	return nil
}

// ResetAbandoned returns items stuck in processing to pending. Run at the
// top of each pass so a crash mid-item is re-driven rather than orphaned.
func (s *SQLiteStore) ResetAbandoned(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_queue SET status = 'pending'
		WHERE status = 'processing'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset abandoned items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// QueueStats counts queue items by status
func (s *SQLiteStore) QueueStats(ctx context.Context) (*types.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM enrichment_queue GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	stats := &types.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue count: %w", err)
		}
		switch types.QueueStatus(status) {
		case types.QueuePending:
			stats.Pending = count
		case types.QueueProcessing:
			stats.Processing = count
		case types.QueueComplete:
			stats.Complete = count
		case types.QueueFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*types.QueueItem, error) {
	var item types.QueueItem
	var nextRetryAt sql.NullTime
	var processedAt sql.NullTime
	var errMsg sql.NullString

	err := row.Scan(
		&item.ID, &item.ChunkID, &item.FileID, &item.Priority, &item.Status,
		&item.Attempts, &nextRetryAt, &errMsg, &item.CreatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	if nextRetryAt.Valid {
		item.NextRetryAt = &nextRetryAt.Time
	}
	if processedAt.Valid {
		item.ProcessedAt = &processedAt.Time
	}
	if errMsg.Valid {
		item.ErrorMessage = errMsg.String
	}
	return &item, nil
}
