package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// MessageSource lists a conversation's turns in order.
type MessageSource interface {
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// Report summarizes one conversation's trip through the pipeline.
type Report struct {
	Candidates int             `json:"candidates"`
	Decisions  []Decision      `json:"decisions,omitempty"`
	Result     ExecutionResult `json:"result"`
}

// Pipeline runs extraction, reconciliation and execution for one conversation.
type Pipeline struct {
	store      *Store
	extractor  *Extractor
	reconciler *Reconciler
	executor   *Executor
	logger     zerolog.Logger
}

// PipelineConfig wires the pipeline's collaborators.
type PipelineConfig struct {
	Store      *Store
	Embedder   Embedder
	Finder     SimilarFinder
	Extraction StructuredGenerator
	Decision   StructuredGenerator
	WindowSize int
	SearchK    int
}

// NewPipeline builds the three stages from cfg.
func NewPipeline(cfg PipelineConfig, logger zerolog.Logger) (*Pipeline, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("pipeline: store is required")
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("pipeline: %w", ErrNoEmbedder)
	case cfg.Finder == nil:
		return nil, fmt.Errorf("pipeline: similarity search is required")
	case cfg.Extraction == nil:
		return nil, fmt.Errorf("pipeline: extraction generator is required")
	}
	if cfg.Decision == nil {
		cfg.Decision = cfg.Extraction
	}
	return &Pipeline{
		store:      cfg.Store,
		extractor:  NewExtractor(cfg.Store, cfg.Extraction, cfg.WindowSize, logger),
		reconciler: NewReconciler(cfg.Embedder, cfg.Finder, cfg.Decision, cfg.SearchK, logger),
		executor:   NewExecutor(cfg.Store, cfg.Embedder, logger),
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Process runs the pipeline over messages. Extraction and decision failures
// are absorbed by their stages; anything else is returned.
func (p *Pipeline) Process(ctx context.Context, ownerID, conversationID string, messages []Message) (Report, error) {
	var report Report
	if err := p.store.EnsureOwner(ctx, ownerID); err != nil {
		return report, err
	}

	candidates, err := p.extractor.Extract(ctx, ownerID, messages)
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	enriched, decisions, err := p.reconciler.Reconcile(ctx, ownerID, candidates)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", err)
	}
	report.Decisions = decisions
	report.Result = p.executor.Execute(ctx, ownerID, conversationID, enriched, decisions)

	p.logger.Info().
		Str("owner_id", ownerID).
		Str("conversation_id", conversationID).
		Int("candidates", report.Candidates).
		Int("decisions", len(decisions)).
		Msg("Conversation processed")
	return report, nil
}
