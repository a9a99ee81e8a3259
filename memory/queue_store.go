package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// EnqueueConversation inserts a pending item unless the conversation already
// has one. created reports whether a new item was inserted; otherwise the
// existing pending item is returned.
func (s *Store) EnqueueConversation(ctx context.Context, ownerID, conversationID string) (QueueItem, bool, error) {
	item := QueueItem{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		ConversationID: conversationID,
		Status:         QueuePending,
		CreatedAt:      s.now(),
	}
	q, args, err := StatementBuilder().
		Insert("memory_queue").Options("OR IGNORE").
		Columns("id", "owner_id", "conversation_id", "status", "created_at").
		Values(item.ID, ownerID, conversationID, string(QueuePending), item.CreatedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return QueueItem{}, false, fmt.Errorf("build enqueue: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		s.logger.Error().Str("method", "EnqueueConversation").Err(err).Msg("Failed to enqueue")
		return QueueItem{}, false, fmt.Errorf("enqueue: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return QueueItem{}, false, err
	} else if n == 1 {
		return item, true, nil
	}

	existing, err := s.queryQueueItems(ctx, StatementBuilder().
		Select(SelectQueueColumns()...).
		From("memory_queue").
		Where(sq.Eq{"conversation_id": conversationID, "status": string(QueuePending)}).
		Limit(1))
	if err != nil {
		return QueueItem{}, false, err
	}
	if len(existing) == 0 {
		// claimed between the insert and the lookup
		return QueueItem{}, false, nil
	}
	return existing[0], false, nil
}

// PendingQueueItems returns up to limit pending items, oldest first.
func (s *Store) PendingQueueItems(ctx context.Context, limit int) ([]QueueItem, error) {
	b := StatementBuilder().
		Select(SelectQueueColumns()...).
		From("memory_queue").
		Where(sq.Eq{"status": string(QueuePending)}).
		OrderBy("created_at ASC", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryQueueItems(ctx, b)
}

// ClaimQueueItem moves an item from pending to processing. It returns false
// when another drain got there first.
func (s *Store) ClaimQueueItem(ctx context.Context, id string) (bool, error) {
	return s.transitionQueueItem(ctx, id, QueuePending, QueueProcessing, "started_at", "")
}

// CompleteQueueItem marks a processing item completed. It returns false when
// the item had already left processing, e.g. failed as stale by the sweeper.
func (s *Store) CompleteQueueItem(ctx context.Context, id string) (bool, error) {
	return s.transitionQueueItem(ctx, id, QueueProcessing, QueueCompleted, "processed_at", "")
}

// FailQueueItem marks a processing item failed and keeps the reason. It
// returns false when the item had already left processing.
func (s *Store) FailQueueItem(ctx context.Context, id, reason string) (bool, error) {
	return s.transitionQueueItem(ctx, id, QueueProcessing, QueueFailed, "processed_at", reason)
}

func (s *Store) transitionQueueItem(ctx context.Context, id string, from, to QueueStatus, stampColumn, reason string) (bool, error) {
	b := StatementBuilder().
		Update("memory_queue").
		Set("status", string(to)).
		Set(stampColumn, s.now().UnixMilli()).
		Where(sq.Eq{"id": id, "status": string(from)})
	if reason != "" {
		b = b.Set("error", reason)
	}
	q, args, err := b.ToSql()
	if err != nil {
		return false, fmt.Errorf("build transition: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		s.logger.Error().Str("method", "transitionQueueItem").Str("id", id).Str("to", string(to)).Err(err).Msg("Queue transition failed")
		return false, fmt.Errorf("queue %s -> %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FailStaleQueueItems fails items stuck in processing for longer than
// olderThan, typically left behind by a crash.
func (s *Store) FailStaleQueueItems(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	q, args, err := StatementBuilder().
		Update("memory_queue").
		Set("status", string(QueueFailed)).
		Set("processed_at", now.UnixMilli()).
		Set("error", "abandoned while processing").
		Where(sq.Eq{"status": string(QueueProcessing)}).
		Where(sq.Lt{"started_at": now.Add(-olderThan).UnixMilli()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build stale sweep: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("fail stale items: %w", err)
	}
	return res.RowsAffected()
}

// GetQueueItem loads one queue item.
func (s *Store) GetQueueItem(ctx context.Context, id string) (QueueItem, error) {
	items, err := s.queryQueueItems(ctx, StatementBuilder().
		Select(SelectQueueColumns()...).
		From("memory_queue").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return QueueItem{}, err
	}
	if len(items) == 0 {
		return QueueItem{}, fmt.Errorf("queue item %s: %w", id, sql.ErrNoRows)
	}
	return items[0], nil
}

// QueueItems lists items, newest first. Empty ownerID or status match all.
func (s *Store) QueueItems(ctx context.Context, ownerID string, status QueueStatus, limit int) ([]QueueItem, error) {
	b := StatementBuilder().
		Select(SelectQueueColumns()...).
		From("memory_queue").
		OrderBy("created_at DESC", "id")
	if ownerID != "" {
		b = b.Where(sq.Eq{"owner_id": ownerID})
	}
	if status != "" {
		b = b.Where(sq.Eq{"status": string(status)})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryQueueItems(ctx, b)
}

// QueueCounts returns the number of items per status.
func (s *Store) QueueCounts(ctx context.Context) (map[QueueStatus]int, error) {
	q, args, err := StatementBuilder().
		Select("status", "COUNT(*)").
		From("memory_queue").
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	counts := map[QueueStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[QueueStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryQueueItems(ctx context.Context, b sq.SelectBuilder) ([]QueueItem, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build queue query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("queue query: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	var out []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanQueueItem(row rowScanner) (QueueItem, error) {
	var (
		item                   QueueItem
		status                 string
		errMsg                 sql.NullString
		created                int64
		startedAt, processedAt sql.NullInt64
	)
	if err := row.Scan(&item.ID, &item.OwnerID, &item.ConversationID, &status, &errMsg,
		&created, &startedAt, &processedAt); err != nil {
		return QueueItem{}, err
	}
	item.Status = QueueStatus(status)
	item.Error = errMsg.String
	item.CreatedAt = time.UnixMilli(created).UTC()
	item.StartedAt = millisPtr(startedAt)
	item.ProcessedAt = millisPtr(processedAt)
	return item, nil
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
