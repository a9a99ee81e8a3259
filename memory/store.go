package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store persists facts, core profile blocks and the processing queue.
// Every mutation is a single-record insert or conditional patch.
type Store struct {
	db     *sql.DB
	index  Index
	clock  func() time.Time
	logger zerolog.Logger
}

// NewStore creates and returns a Store.
func NewStore(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	logger = logger.With().Str("component", "memory_store").Logger()
	logger.Info().Msg("Initializing memory store")
	return &Store{db: db, clock: time.Now, logger: logger}, nil
}

// SetIndex registers an external kNN index that is told about every new fact.
func (s *Store) SetIndex(idx Index) { s.index = idx }

func (s *Store) now() time.Time { return s.clock().UTC() }

// EnsureOwner creates the owner and its four empty core blocks. It is safe to
// call repeatedly.
func (s *Store) EnsureOwner(ctx context.Context, ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return errors.New("owner id is required")
	}
	ts := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q, args, err := StatementBuilder().
		Insert("owners").Options("OR IGNORE").
		Columns("id", "created_at").
		Values(ownerID, ts).
		ToSql()
	if err != nil {
		return fmt.Errorf("build owner insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		s.logger.Error().Str("method", "EnsureOwner").Str("owner_id", ownerID).Err(err).Msg("Failed to insert owner")
		return fmt.Errorf("insert owner: %w", err)
	}

	blocks := StatementBuilder().
		Insert("core_memory").Options("OR IGNORE").
		Columns("owner_id", "label", "content", "updated_at")
	for _, label := range CoreLabels {
		blocks = blocks.Values(ownerID, string(label), "", ts)
	}
	q, args, err = blocks.ToSql()
	if err != nil {
		return fmt.Errorf("build core block insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		s.logger.Error().Str("method", "EnsureOwner").Str("owner_id", ownerID).Err(err).Msg("Failed to create core blocks")
		return fmt.Errorf("insert core blocks: %w", err)
	}
	return tx.Commit()
}

// InsertFact stores a new active fact and returns it with its id, hash and
// timestamps filled in.
func (s *Store) InsertFact(ctx context.Context, f Fact) (Fact, error) {
	s.logger.Debug().
		Str("method", "InsertFact").
		Str("owner_id", f.OwnerID).
		Str("kind", string(f.Kind)).
		Str("content", truncateString(f.Content, 40)).
		Msg("called")

	f.Content = strings.TrimSpace(f.Content)
	if f.Content == "" {
		return Fact{}, ErrEmptyContent
	}
	if !f.Kind.Valid() {
		return Fact{}, fmt.Errorf("%w: %q", ErrInvalidKind, f.Kind)
	}
	if f.OwnerID == "" {
		return Fact{}, errors.New("owner id is required")
	}

	ts := s.now()
	f.ID = uuid.NewString()
	f.ContentHash = ContentHash(f.Content)
	f.CreatedAt = ts
	if f.ValidFrom.IsZero() {
		f.ValidFrom = ts
	}
	f.InvalidFrom = nil
	if f.Keywords == nil {
		f.Keywords = []string{}
	}
	keywords, err := json.Marshal(f.Keywords)
	if err != nil {
		return Fact{}, fmt.Errorf("marshal keywords: %w", err)
	}

	q, args, err := StatementBuilder().
		Insert("facts").
		Columns("id", "owner_id", "content", "embedding", "kind", "keywords_json",
			"content_hash", "valid_from", "source_conversation_id", "created_at").
		Values(f.ID, f.OwnerID, f.Content, EncodeEmbedding(f.Embedding), string(f.Kind), string(keywords),
			f.ContentHash, f.ValidFrom.UnixMilli(), nullString(f.SourceConversationID), f.CreatedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return Fact{}, fmt.Errorf("build insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.logger.Error().Str("method", "InsertFact").Err(err).Msg("Failed to insert fact")
		return Fact{}, fmt.Errorf("insert fact: %w", err)
	}

	if s.index != nil && len(f.Embedding) > 0 {
		if err := s.index.Add(ctx, f); err != nil {
			// The row is the source of truth; the index is rebuilt from it on startup.
			s.logger.Warn().Str("method", "InsertFact").Str("fact_id", f.ID).Err(err).Msg("Failed to index fact")
		}
	}

	s.logger.Info().
		Str("fact_id", f.ID).
		Str("owner_id", f.OwnerID).
		Str("kind", string(f.Kind)).
		Msg("Fact stored")
	return f, nil
}

// InvalidateFact retires an active fact by setting invalid_from. It returns
// false without error when the fact was already inactive, and
// ErrFactNotFound when no such fact belongs to the owner.
func (s *Store) InvalidateFact(ctx context.Context, ownerID, factID string) (bool, error) {
	q, args, err := StatementBuilder().
		Update("facts").
		Set("invalid_from", s.now().UnixMilli()).
		Where(sq.Eq{"id": factID, "owner_id": ownerID}).
		Where(activeOnly()).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build invalidate query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		s.logger.Error().Str("method", "InvalidateFact").Str("fact_id", factID).Err(err).Msg("Failed to invalidate fact")
		return false, fmt.Errorf("invalidate fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		s.logger.Info().Str("fact_id", factID).Str("owner_id", ownerID).Msg("Fact invalidated")
		if s.index != nil {
			if err := s.index.Remove(ctx, ownerID, factID); err != nil {
				// Searcher still filters by invalid_from, so a stale entry only costs a refill.
				s.logger.Warn().Str("method", "InvalidateFact").Str("fact_id", factID).Err(err).Msg("Failed to remove fact from index")
			}
		}
		return true, nil
	}

	existing, err := s.GetFact(ctx, factID)
	if err != nil {
		return false, err
	}
	if existing.OwnerID != ownerID {
		return false, fmt.Errorf("%w: %s", ErrFactNotFound, factID)
	}
	s.logger.Debug().Str("fact_id", factID).Msg("Fact already invalidated")
	return false, nil
}

// GetFact loads a fact by id, active or not.
func (s *Store) GetFact(ctx context.Context, factID string) (Fact, error) {
	q, args, err := StatementBuilder().
		Select(SelectFactColumns()...).
		From("facts").
		Where(sq.Eq{"id": factID}).
		ToSql()
	if err != nil {
		return Fact{}, fmt.Errorf("build get query: %w", err)
	}
	f, err := scanFact(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Fact{}, fmt.Errorf("%w: %s", ErrFactNotFound, factID)
	}
	if err != nil {
		return Fact{}, fmt.Errorf("get fact: %w", err)
	}
	return f, nil
}

// FindActiveByHash returns the owner's active fact with the given content
// hash, or nil when there is none.
func (s *Store) FindActiveByHash(ctx context.Context, ownerID, hash string) (*Fact, error) {
	q, args, err := StatementBuilder().
		Select(SelectFactColumns()...).
		From("facts").
		Where(sq.Eq{"owner_id": ownerID, "content_hash": hash}).
		Where(activeOnly()).
		OrderBy("created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build hash query: %w", err)
	}
	f, err := scanFact(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return &f, nil
}

// ListFacts returns an owner's facts, newest first. Invalidated facts are
// included only when includeInvalidated is set.
func (s *Store) ListFacts(ctx context.Context, ownerID string, includeInvalidated bool, limit int) ([]Fact, error) {
	b := StatementBuilder().
		Select(SelectFactColumns()...).
		From("facts").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC", "id")
	if !includeInvalidated {
		b = b.Where(activeOnly())
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryFacts(ctx, b)
}

// ActiveFacts returns every active fact that has an embedding, for one owner
// or for all owners when ownerID is empty.
func (s *Store) ActiveFacts(ctx context.Context, ownerID string) ([]Fact, error) {
	b := StatementBuilder().
		Select(SelectFactColumns()...).
		From("facts").
		Where(activeOnly()).
		Where(sq.NotEq{"embedding": nil}).
		OrderBy("created_at DESC")
	if ownerID != "" {
		b = b.Where(sq.Eq{"owner_id": ownerID})
	}
	return s.queryFacts(ctx, b)
}

func (s *Store) queryFacts(ctx context.Context, b sq.SelectBuilder) ([]Fact, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CoreBlocks returns the owner's four core blocks in CoreLabels order. Blocks
// that were never created come back empty.
func (s *Store) CoreBlocks(ctx context.Context, ownerID string) ([]CoreBlock, error) {
	q, args, err := StatementBuilder().
		Select("label", "content", "updated_at").
		From("core_memory").
		Where(sq.Eq{"owner_id": ownerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build core query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load core blocks: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	found := make(map[CoreLabel]CoreBlock, len(CoreLabels))
	for rows.Next() {
		var label, content string
		var updated int64
		if err := rows.Scan(&label, &content, &updated); err != nil {
			return nil, err
		}
		found[CoreLabel(label)] = CoreBlock{
			OwnerID:   ownerID,
			Label:     CoreLabel(label),
			Content:   content,
			UpdatedAt: time.UnixMilli(updated).UTC(),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]CoreBlock, 0, len(CoreLabels))
	for _, label := range CoreLabels {
		if b, ok := found[label]; ok {
			out = append(out, b)
			continue
		}
		out = append(out, CoreBlock{OwnerID: ownerID, Label: label})
	}
	return out, nil
}

// UpdateCoreBlock overwrites one core block wholesale.
func (s *Store) UpdateCoreBlock(ctx context.Context, ownerID string, label CoreLabel, content string) error {
	if !label.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	q, args, err := StatementBuilder().
		Insert("core_memory").
		Columns("owner_id", "label", "content", "updated_at").
		Values(ownerID, string(label), strings.TrimSpace(content), s.now().UnixMilli()).
		Suffix("ON CONFLICT(owner_id, label) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build core update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.logger.Error().Str("method", "UpdateCoreBlock").Str("label", string(label)).Err(err).Msg("Failed to update core block")
		return fmt.Errorf("update core block: %w", err)
	}
	s.logger.Info().Str("owner_id", ownerID).Str("label", string(label)).Msg("Core block updated")
	return nil
}

// RenderCoreProfile formats core blocks as prompt context.
func RenderCoreProfile(blocks []CoreBlock) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		content := strings.TrimSpace(b.Content)
		if content == "" {
			content = "(empty)"
		}
		fmt.Fprintf(&sb, "[%s]\n%s", b.Label, content)
	}
	return sb.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (Fact, error) {
	var (
		f            Fact
		kind         string
		embBlob      []byte
		keywordsJSON string
		validFrom    int64
		invalidFrom  sql.NullInt64
		source       sql.NullString
		createdAt    int64
	)
	if err := row.Scan(&f.ID, &f.OwnerID, &f.Content, &embBlob, &kind, &keywordsJSON,
		&f.ContentHash, &validFrom, &invalidFrom, &source, &createdAt); err != nil {
		return Fact{}, err
	}
	f.Kind = Kind(kind)
	emb, err := DecodeEmbedding(embBlob)
	if err != nil {
		return Fact{}, fmt.Errorf("decode embedding for %s: %w", f.ID, err)
	}
	f.Embedding = emb
	if keywordsJSON != "" {
		if err := json.Unmarshal([]byte(keywordsJSON), &f.Keywords); err != nil {
			return Fact{}, fmt.Errorf("decode keywords for %s: %w", f.ID, err)
		}
	}
	f.ValidFrom = time.UnixMilli(validFrom).UTC()
	f.CreatedAt = time.UnixMilli(createdAt).UTC()
	if invalidFrom.Valid {
		t := time.UnixMilli(invalidFrom.Int64).UTC()
		f.InvalidFrom = &t
	}
	f.SourceConversationID = source.String
	return f, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncateString(s string, n int) string {
	rs := []rune(s)
	if len(rs) > n {
		return string(rs[:n]) + "..."
	}
	return s
}
