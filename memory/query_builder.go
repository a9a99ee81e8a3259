package memory

import (
	sq "github.com/Masterminds/squirrel"
)

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' as placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

// SelectFactColumns returns the column list scanned by scanFact.
func SelectFactColumns() []string {
	return []string{
		"id", "owner_id", "content", "embedding", "kind", "keywords_json",
		"content_hash", "valid_from", "invalid_from", "source_conversation_id", "created_at",
	}
}

// SelectQueueColumns returns the column list scanned by scanQueueItem.
func SelectQueueColumns() []string {
	return []string{
		"id", "owner_id", "conversation_id", "status", "error",
		"created_at", "started_at", "processed_at",
	}
}

// activeOnly restricts a fact query to rows that have not been invalidated.
func activeOnly() sq.Sqlizer {
	return sq.Eq{"invalid_from": nil}
}
