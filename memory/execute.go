package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ExecutionResult tallies what a batch of decisions did.
type ExecutionResult struct {
	Added       int      `json:"added"`
	Updated     int      `json:"updated"`
	Invalidated int      `json:"invalidated"`
	Noops       int      `json:"noops"`
	Duplicates  int      `json:"duplicates"`
	Failed      int      `json:"failed"`
	FactIDs     []string `json:"fact_ids,omitempty"`
}

// Executor applies decisions to the store one at a time. A failing decision
// is logged and does not stop the rest.
type Executor struct {
	store    *Store
	embedder Embedder
	logger   zerolog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(store *Store, embedder Embedder, logger zerolog.Logger) *Executor {
	return &Executor{
		store:    store,
		embedder: embedder,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// Execute applies decisions in order against candidates.
func (e *Executor) Execute(ctx context.Context, ownerID, conversationID string, candidates []Candidate, decisions []Decision) ExecutionResult {
	var res ExecutionResult
	for _, d := range decisions {
		if d.Index < 0 || d.Index >= len(candidates) {
			continue
		}
		c := candidates[d.Index]
		var err error
		switch d.Action {
		case ActionAdd:
			err = e.add(ctx, ownerID, conversationID, c, d, &res)
		case ActionUpdate:
			err = e.update(ctx, ownerID, conversationID, c, d, &res)
		case ActionInvalidate:
			err = e.invalidate(ctx, ownerID, d, &res)
		case ActionNoop:
			res.Noops++
		default:
			err = fmt.Errorf("unknown action %q", d.Action)
		}
		if err != nil {
			res.Failed++
			e.logger.Error().
				Err(err).
				Str("owner_id", ownerID).
				Int("index", d.Index).
				Str("action", string(d.Action)).
				Str("target_id", d.TargetID).
				Msg("Decision failed")
		}
	}
	e.logger.Info().
		Str("owner_id", ownerID).
		Str("conversation_id", conversationID).
		Int("added", res.Added).
		Int("updated", res.Updated).
		Int("invalidated", res.Invalidated).
		Int("noops", res.Noops).
		Int("duplicates", res.Duplicates).
		Int("failed", res.Failed).
		Msg("Decisions executed")
	return res
}

func (e *Executor) add(ctx context.Context, ownerID, conversationID string, c Candidate, d Decision, res *ExecutionResult) error {
	content := d.Content
	if strings.TrimSpace(content) == "" {
		content = c.Content
	}

	dup, err := e.store.FindActiveByHash(ctx, ownerID, ContentHash(content))
	if err != nil {
		return err
	}
	if dup != nil {
		res.Duplicates++
		e.logger.Debug().Str("fact_id", dup.ID).Msg("Skipping ADD of an exact duplicate")
		return nil
	}

	// Only reuse the reconciliation embedding when the text is unchanged.
	embedding := c.Embedding
	if content != c.Content || len(embedding) == 0 {
		embedding, err = e.embedder.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
	}

	f, err := e.store.InsertFact(ctx, Fact{
		OwnerID:              ownerID,
		Content:              content,
		Embedding:            embedding,
		Kind:                 c.Kind,
		Keywords:             c.Keywords,
		SourceConversationID: conversationID,
	})
	if err != nil {
		return err
	}
	res.Added++
	res.FactIDs = append(res.FactIDs, f.ID)
	return nil
}

// update supersedes the target: invalidate it, then insert the merged text
// as a new fact. The embedding is computed first so a failure there leaves
// the target untouched.
func (e *Executor) update(ctx context.Context, ownerID, conversationID string, c Candidate, d Decision, res *ExecutionResult) error {
	embedding, err := e.embedder.Embed(ctx, d.Content)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if _, err := e.store.InvalidateFact(ctx, ownerID, d.TargetID); err != nil {
		return err
	}
	f, err := e.store.InsertFact(ctx, Fact{
		OwnerID:              ownerID,
		Content:              d.Content,
		Embedding:            embedding,
		Kind:                 c.Kind,
		Keywords:             c.Keywords,
		SourceConversationID: conversationID,
	})
	if err != nil {
		return err
	}
	res.Updated++
	res.FactIDs = append(res.FactIDs, f.ID)
	return nil
}

func (e *Executor) invalidate(ctx context.Context, ownerID string, d Decision, res *ExecutionResult) error {
	changed, err := e.store.InvalidateFact(ctx, ownerID, d.TargetID)
	if err != nil {
		return err
	}
	if changed {
		res.Invalidated++
	}
	return nil
}
