package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonNoSimilar      = "no similar existing memories found"
	ReasonDecisionFailed = "decision failed, defaulting to ADD"
)

// wireDecision is a Decision as the model returns it. Index is a pointer so a
// missing index is told apart from candidate 0.
type wireDecision struct {
	Index    *int   `json:"index"`
	Action   Action `json:"action"`
	Content  string `json:"content,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	Reason   string `json:"reason"`
}

type decisionPayload struct {
	Decisions []wireDecision `json:"decisions"`
}

// Validate enforces the index, the action enum and the mandatory reason.
func (p *decisionPayload) Validate() error {
	for i, d := range p.Decisions {
		if d.Index == nil {
			return fmt.Errorf("decisions[%d]: index is required", i)
		}
		if !d.Action.Valid() {
			return fmt.Errorf("decisions[%d]: unknown action %q", i, d.Action)
		}
		if strings.TrimSpace(d.Reason) == "" {
			return fmt.Errorf("decisions[%d]: reason is required", i)
		}
	}
	return nil
}

// decisions converts a validated payload.
func (p *decisionPayload) decisions() []Decision {
	return lo.Map(p.Decisions, func(d wireDecision, _ int) Decision {
		return Decision{Index: *d.Index, Action: d.Action, Content: d.Content, TargetID: d.TargetID, Reason: d.Reason}
	})
}

// Reconciler compares candidates with the owner's existing facts and decides
// what to do with each one.
type Reconciler struct {
	embedder    Embedder
	finder      SimilarFinder
	gen         StructuredGenerator
	k           int
	parallelism int
	logger      zerolog.Logger
}

// NewReconciler creates a Reconciler that looks at the k nearest facts per candidate.
func NewReconciler(embedder Embedder, finder SimilarFinder, gen StructuredGenerator, k int, logger zerolog.Logger) *Reconciler {
	if k <= 0 {
		k = DefaultSearchK
	}
	return &Reconciler{
		embedder:    embedder,
		finder:      finder,
		gen:         gen,
		k:           k,
		parallelism: 4,
		logger:      logger.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile embeds each candidate, gathers its similar facts and returns the
// enriched candidates with the decisions to execute. Embedding and search
// errors are returned; a failed decision call falls back to adding every
// candidate.
func (r *Reconciler) Reconcile(ctx context.Context, ownerID string, candidates []Candidate) ([]Candidate, []Decision, error) {
	enriched, err := r.enrich(ctx, ownerID, candidates)
	if err != nil {
		return nil, nil, err
	}

	existing := MergeSimilar(enriched)
	if len(existing) == 0 {
		r.logger.Debug().Str("owner_id", ownerID).Int("candidates", len(enriched)).Msg("No similar facts, adding all")
		return enriched, addAll(enriched, ReasonNoSimilar), nil
	}

	prompt, err := buildDecisionPrompt(enriched, existing)
	if err != nil {
		return nil, nil, fmt.Errorf("build decision prompt: %w", err)
	}

	var payload decisionPayload
	err = r.gen.Generate(ctx, StructuredRequest{
		Name:        "reconcile_memories",
		Description: "Decide how each candidate fact changes the stored memories",
		System:      decisionSystemPrompt,
		Prompt:      prompt,
		Schema:      decisionSchema,
	}, &payload)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("owner_id", ownerID).
			Bool("schemaError", IsSchemaError(err)).
			Msg("Decision call failed, defaulting to ADD")
		return enriched, addAll(enriched, ReasonDecisionFailed), nil
	}

	proposed := payload.decisions()
	decisions := lo.Filter(proposed, func(d Decision, _ int) bool {
		if skip := admissible(d, len(enriched)); skip != "" {
			r.logger.Debug().
				Int("index", d.Index).
				Str("action", string(d.Action)).
				Str("why", skip).
				Msg("Skipping decision")
			return false
		}
		return true
	})

	r.logger.Info().
		Str("owner_id", ownerID).
		Int("candidates", len(enriched)).
		Int("existing", len(existing)).
		Int("decisions", len(decisions)).
		Int("skipped", len(proposed)-len(decisions)).
		Msg("Reconciliation complete")
	return enriched, decisions, nil
}

// enrich runs embed+search for every candidate concurrently. Results keep the
// input order.
func (r *Reconciler) enrich(ctx context.Context, ownerID string, candidates []Candidate) ([]Candidate, error) {
	out := make([]Candidate, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, c := range candidates {
		g.Go(func() error {
			emb, err := r.embedder.Embed(gctx, c.Content)
			if err != nil {
				return fmt.Errorf("embed candidate %d: %w", i, err)
			}
			similar, err := r.finder.Nearest(gctx, ownerID, emb, r.k)
			if err != nil {
				return fmt.Errorf("search candidate %d: %w", i, err)
			}
			c.Embedding = emb
			c.Similar = similar
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MergeSimilar unions the similar sets of all candidates by fact id, in
// first-seen order. When candidates disagree on a fact's score the later
// candidate's score is kept.
func MergeSimilar(candidates []Candidate) []SearchResult {
	var order []string
	byID := make(map[string]SearchResult)
	for _, c := range candidates {
		for _, s := range c.Similar {
			if _, seen := byID[s.Fact.ID]; !seen {
				order = append(order, s.Fact.ID)
			}
			byID[s.Fact.ID] = s
		}
	}
	return lo.Map(order, func(id string, _ int) SearchResult { return byID[id] })
}

func addAll(candidates []Candidate, reason string) []Decision {
	return lo.Map(candidates, func(c Candidate, i int) Decision {
		return Decision{Index: i, Action: ActionAdd, Content: c.Content, Reason: reason}
	})
}

// admissible returns why a decision must be skipped, or "" when it can run.
func admissible(d Decision, n int) string {
	if d.Index < 0 || d.Index >= n {
		return "index out of range"
	}
	switch d.Action {
	case ActionUpdate:
		if d.TargetID == "" || strings.TrimSpace(d.Content) == "" {
			return "update needs targetId and content"
		}
	case ActionInvalidate:
		if d.TargetID == "" {
			return "invalidate needs targetId"
		}
	}
	return ""
}
