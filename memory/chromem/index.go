// Package chromem provides an in-process nearest-neighbour index for facts
// built on chromem-go. Invalidated facts are removed as they are invalidated;
// the caller still checks activity against the store.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/aschepis/backscratcher/recall/memory"
	chromemgo "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
)

var errNoEmbedding = errors.New("chromem: embeddings must be computed before indexing")

// Index implements memory.Index with one chromem collection per owner.
type Index struct {
	db     *chromemgo.DB
	logger zerolog.Logger
}

// New creates an empty in-memory index.
func New(logger zerolog.Logger) *Index {
	return &Index{
		db:     chromemgo.NewDB(),
		logger: logger.With().Str("component", "chromem_index").Logger(),
	}
}

func (i *Index) collection(ownerID string) (*chromemgo.Collection, error) {
	return i.db.GetOrCreateCollection("facts:"+ownerID, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedding
	})
}

// Add implements memory.Index.
func (i *Index) Add(ctx context.Context, f memory.Fact) error {
	if isZero(f.Embedding) {
		return fmt.Errorf("fact %s: %w", f.ID, errNoEmbedding)
	}
	col, err := i.collection(f.OwnerID)
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, chromemgo.Document{
		ID:        f.ID,
		Metadata:  map[string]string{"kind": string(f.Kind)},
		Embedding: append([]float32(nil), f.Embedding...),
		Content:   f.Content,
	})
}

// Remove drops an invalidated fact from the owner's collection. Unknown ids
// are ignored.
func (i *Index) Remove(ctx context.Context, ownerID, factID string) error {
	col, err := i.collection(ownerID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, factID); err != nil {
		return fmt.Errorf("chromem delete %s: %w", factID, err)
	}
	return nil
}

// Nearest implements memory.Index.
func (i *Index) Nearest(ctx context.Context, ownerID string, vec []float32, k int) ([]memory.Hit, error) {
	if isZero(vec) {
		return nil, nil
	}
	col, err := i.collection(ownerID)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}
	res, err := col.QueryEmbedding(ctx, append([]float32(nil), vec...), k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	hits := make([]memory.Hit, 0, len(res))
	for _, r := range res {
		hits = append(hits, memory.Hit{FactID: r.ID, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// Rebuild loads facts into the index, typically every active fact at startup.
func (i *Index) Rebuild(ctx context.Context, facts []memory.Fact) error {
	loaded := 0
	for _, f := range facts {
		if isZero(f.Embedding) {
			continue
		}
		if err := i.Add(ctx, f); err != nil {
			return err
		}
		loaded++
	}
	i.logger.Info().Int("facts", loaded).Msg("Index rebuilt")
	return nil
}

func isZero(vec []float32) bool {
	var sum float64
	for _, v := range vec {
		sum += math.Abs(float64(v))
	}
	return sum == 0
}

var _ memory.Index = (*Index)(nil)
