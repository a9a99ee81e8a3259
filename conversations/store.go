// Package conversations persists chat turns so the memory queue can read a
// conversation back when it drains.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrOwnerMismatch        = errors.New("conversation belongs to a different owner")
	ErrInvalidRole          = errors.New("invalid message role")
)

// Conversation is a thread of turns owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store handles persistence of conversations and their messages.
// It implements memory.MessageSource and memory.MessageAppender.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a new conversation Store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "conversations").Logger()}
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Create starts a new conversation for ownerID.
func (s *Store) Create(ctx context.Context, ownerID string) (Conversation, error) {
	c := Conversation{ID: uuid.NewString(), OwnerID: ownerID, CreatedAt: time.Now().UTC()}
	if err := s.insert(ctx, c); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// Ensure makes sure conversationID exists and belongs to ownerID, creating
// it when it is new. Clients that bring their own ids use this.
func (s *Store) Ensure(ctx context.Context, conversationID, ownerID string) error {
	owner, err := s.Owner(ctx, conversationID)
	switch {
	case errors.Is(err, ErrConversationNotFound):
		return s.insert(ctx, Conversation{ID: conversationID, OwnerID: ownerID, CreatedAt: time.Now().UTC()})
	case err != nil:
		return err
	case owner != ownerID:
		return fmt.Errorf("%s: %w", conversationID, ErrOwnerMismatch)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, c Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	ownerQ, ownerArgs, err := builder().
		Insert("owners").Options("OR IGNORE").
		Columns("id", "created_at").
		Values(c.OwnerID, c.CreatedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ownerQ, ownerArgs...); err != nil {
		return fmt.Errorf("ensure owner: %w", err)
	}

	q, args, err := builder().
		Insert("conversations").Options("OR IGNORE").
		Columns("id", "owner_id", "created_at").
		Values(c.ID, c.OwnerID, c.CreatedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		s.logger.Error().Err(err).Str("conversation_id", c.ID).Msg("Failed to create conversation")
		return fmt.Errorf("create conversation: %w", err)
	}
	return tx.Commit()
}

// Owner returns the owner of conversationID.
func (s *Store) Owner(ctx context.Context, conversationID string) (string, error) {
	q, args, err := builder().
		Select("owner_id").
		From("conversations").
		Where(sq.Eq{"id": conversationID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	var owner string
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%s: %w", conversationID, ErrConversationNotFound)
		}
		return "", err
	}
	return owner, nil
}

// List returns ownerID's conversations, newest first.
func (s *Store) List(ctx context.Context, ownerID string, limit int) ([]Conversation, error) {
	b := builder().
		Select("id", "owner_id", "created_at").
		From("conversations").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var created int64
		if err := rows.Scan(&c.ID, &c.OwnerID, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendMessage saves one turn. The conversation must already exist.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if _, err := s.Owner(ctx, conversationID); err != nil {
		return err
	}

	q, args, err := builder().
		Insert("messages").
		Columns("conversation_id", "role", "content", "created_at").
		Values(conversationID, role, content, time.Now().UnixMilli()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// ListMessages returns every turn of conversationID in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]memory.Message, error) {
	q, args, err := builder().
		Select("role", "content").
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var out []memory.Message
	for rows.Next() {
		var m memory.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var (
	_ memory.MessageSource   = (*Store)(nil)
	_ memory.MessageAppender = (*Store)(nil)
)
