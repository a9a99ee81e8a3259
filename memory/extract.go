package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultWindowSize is how many of the most recent turns extraction reads.
const DefaultWindowSize = 20

type extractedMemory struct {
	Content  string   `json:"content"`
	Kind     Kind     `json:"kind"`
	Keywords []string `json:"keywords"`
}

type coreUpdate struct {
	Label   CoreLabel `json:"label"`
	Content string    `json:"content"`
}

type extractionPayload struct {
	Memories          []extractedMemory `json:"memories"`
	CoreMemoryUpdates []coreUpdate      `json:"core_memory_updates"`
}

// Validate rejects memories without content or with an unknown kind. Unknown
// core labels are not an error; they are dropped later.
func (p *extractionPayload) Validate() error {
	for i, m := range p.Memories {
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("memories[%d]: %w", i, ErrEmptyContent)
		}
		if !m.Kind.Valid() {
			return fmt.Errorf("memories[%d]: %w: %q", i, ErrInvalidKind, m.Kind)
		}
	}
	return nil
}

// Extractor turns a conversation window into candidate facts and applies
// core profile updates as a side effect.
type Extractor struct {
	store      *Store
	gen        StructuredGenerator
	windowSize int
	logger     zerolog.Logger
}

// NewExtractor creates an Extractor. A windowSize of zero uses DefaultWindowSize.
func NewExtractor(store *Store, gen StructuredGenerator, windowSize int, logger zerolog.Logger) *Extractor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Extractor{
		store:      store,
		gen:        gen,
		windowSize: windowSize,
		logger:     logger.With().Str("component", "extractor").Logger(),
	}
}

// Extract returns the candidates found in messages. A failed or malformed
// model call yields no candidates and no error: memory is best effort. Only
// store reads fail the call.
func (e *Extractor) Extract(ctx context.Context, ownerID string, messages []Message) ([]Candidate, error) {
	window := messages
	if len(window) > e.windowSize {
		window = window[len(window)-e.windowSize:]
	}

	blocks, err := e.store.CoreBlocks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load core profile: %w", err)
	}

	var payload extractionPayload
	err = e.gen.Generate(ctx, StructuredRequest{
		Name:        "extract_memories",
		Description: "Record facts and core profile changes found in the conversation",
		System:      extractionSystemPrompt,
		Prompt:      buildExtractionPrompt(RenderCoreProfile(blocks), window),
		Schema:      extractionSchema,
	}, &payload)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("owner_id", ownerID).
			Bool("schemaError", IsSchemaError(err)).
			Msg("Extraction failed, treating batch as empty")
		return nil, nil
	}

	if len(payload.Memories) == 0 && len(payload.CoreMemoryUpdates) == 0 {
		e.logger.Debug().Str("owner_id", ownerID).Msg("Nothing to extract")
		return nil, nil
	}

	e.applyCoreUpdates(ctx, ownerID, payload.CoreMemoryUpdates)

	candidates := make([]Candidate, 0, len(payload.Memories))
	for _, m := range payload.Memories {
		candidates = append(candidates, Candidate{
			Content:  strings.TrimSpace(m.Content),
			Kind:     m.Kind,
			Keywords: sanitizeKeywords(m.Keywords),
		})
	}
	e.logger.Info().
		Str("owner_id", ownerID).
		Int("window", len(window)).
		Int("candidates", len(candidates)).
		Int("coreUpdates", len(payload.CoreMemoryUpdates)).
		Msg("Extraction complete")
	return candidates, nil
}

func (e *Extractor) applyCoreUpdates(ctx context.Context, ownerID string, updates []coreUpdate) {
	for _, u := range updates {
		if !u.Label.Valid() {
			e.logger.Debug().Str("label", string(u.Label)).Msg("Dropping core update with unknown label")
			continue
		}
		if err := e.store.UpdateCoreBlock(ctx, ownerID, u.Label, u.Content); err != nil {
			e.logger.Error().Err(err).Str("label", string(u.Label)).Msg("Failed to apply core update")
		}
	}
}
