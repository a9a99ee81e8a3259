package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// MessageAppender records a conversation turn.
type MessageAppender interface {
	AppendMessage(ctx context.Context, conversationID, role, content string) error
}

// AddResult is the outcome of a direct remember request.
type AddResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Service is the surface chat handlers and tools use.
type Service struct {
	store    *Store
	embedder Embedder
	finder   SimilarFinder
	queue    *Queue
	appender MessageAppender
	logger   zerolog.Logger

	addMu sync.Mutex
}

// NewService creates a Service. appender may be nil when turns are recorded elsewhere.
func NewService(store *Store, embedder Embedder, finder SimilarFinder, queue *Queue, appender MessageAppender, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		finder:   finder,
		queue:    queue,
		appender: appender,
		logger:   logger.With().Str("component", "memory_service").Logger(),
	}
}

// Enqueue schedules background extraction for a conversation. Call it once
// per completed assistant turn.
func (s *Service) Enqueue(ctx context.Context, ownerID, conversationID string) (QueueItem, bool, error) {
	if ownerID == "" || conversationID == "" {
		return QueueItem{}, false, errors.New("owner and conversation are required")
	}
	return s.queue.Enqueue(ctx, ownerID, conversationID)
}

// RecordTurn stores a turn and enqueues the conversation when the turn is
// the assistant's.
func (s *Service) RecordTurn(ctx context.Context, ownerID, conversationID, role, content string) (bool, error) {
	if s.appender == nil {
		return false, errors.New("no message store configured")
	}
	if err := s.appender.AppendMessage(ctx, conversationID, role, content); err != nil {
		return false, err
	}
	if role != "assistant" {
		return false, nil
	}
	if _, _, err := s.Enqueue(ctx, ownerID, conversationID); err != nil {
		// the turn is stored; memory is best effort
		s.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to enqueue conversation")
		return false, nil
	}
	return true, nil
}

// Search returns the owner's active facts nearest to queryVector.
func (s *Service) Search(ctx context.Context, ownerID string, queryVector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchK
	}
	return s.finder.Nearest(ctx, ownerID, queryVector, limit)
}

// SearchText embeds query and searches with it.
func (s *Service) SearchText(ctx context.Context, ownerID, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyContent
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.Search(ctx, ownerID, vec, limit)
}

// AddFromTool stores one fact directly, skipping reconciliation. An active
// fact with the same normalized content is reported as a duplicate.
func (s *Service) AddFromTool(ctx context.Context, ownerID, content, kind string, keywords []string) AddResult {
	content = strings.TrimSpace(content)
	if content == "" {
		return AddResult{Reason: "content is empty"}
	}
	k, err := ParseKind(kind)
	if err != nil {
		return AddResult{Reason: err.Error()}
	}
	if err := s.store.EnsureOwner(ctx, ownerID); err != nil {
		s.logger.Error().Err(err).Str("owner_id", ownerID).Msg("Failed to ensure owner")
		return AddResult{Reason: "storage unavailable"}
	}

	s.addMu.Lock()
	defer s.addMu.Unlock()

	dup, err := s.store.FindActiveByHash(ctx, ownerID, ContentHash(content))
	if err != nil {
		s.logger.Error().Err(err).Msg("Duplicate check failed")
		return AddResult{Reason: "storage unavailable"}
	}
	if dup != nil {
		return AddResult{ID: dup.ID, Reason: "duplicate: an identical memory already exists"}
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Error().Err(err).Msg("Embedding failed")
		return AddResult{Reason: "embedding failed"}
	}
	f, err := s.store.InsertFact(ctx, Fact{
		OwnerID:   ownerID,
		Content:   content,
		Embedding: vec,
		Kind:      k,
		Keywords:  sanitizeKeywords(keywords),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Insert failed")
		return AddResult{Reason: "storage unavailable"}
	}
	return AddResult{Success: true, ID: f.ID}
}

// CoreProfile returns the owner's core blocks.
func (s *Service) CoreProfile(ctx context.Context, ownerID string) ([]CoreBlock, error) {
	return s.store.CoreBlocks(ctx, ownerID)
}

// Facts lists facts for an owner; includeInvalidated exposes the audit trail.
func (s *Service) Facts(ctx context.Context, ownerID string, includeInvalidated bool, limit int) ([]Fact, error) {
	return s.store.ListFacts(ctx, ownerID, includeInvalidated, limit)
}

// History returns only the owner's invalidated facts, newest first.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]Fact, error) {
	all, err := s.store.ListFacts(ctx, ownerID, true, 0)
	if err != nil {
		return nil, err
	}
	retired := lo.Filter(all, func(f Fact, _ int) bool { return !f.Active() })
	sort.SliceStable(retired, func(i, j int) bool {
		return retired[i].InvalidFrom.After(*retired[j].InvalidFrom)
	})
	if limit > 0 && len(retired) > limit {
		retired = retired[:limit]
	}
	return retired, nil
}

// Drain runs the queue immediately.
func (s *Service) Drain(ctx context.Context) (DrainStats, error) {
	return s.queue.Drain(ctx)
}

// QueueStatus reports item counts and the most recent items for an owner.
func (s *Service) QueueStatus(ctx context.Context, ownerID string, limit int) (map[QueueStatus]int, []QueueItem, error) {
	counts, err := s.store.QueueCounts(ctx)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.QueueItems(ctx, ownerID, "", limit)
	if err != nil {
		return nil, nil, err
	}
	return counts, items, nil
}
