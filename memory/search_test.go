package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

// staticIndex returns fixed hits regardless of the query.
type staticIndex struct {
	hits []Hit
}

func (i *staticIndex) Add(context.Context, Fact) error { return nil }

func (i *staticIndex) Remove(context.Context, string, string) error { return nil }

func (i *staticIndex) Nearest(context.Context, string, []float32, int) ([]Hit, error) {
	return i.hits, nil
}

func TestSearcher_ExcludesInvalidatedFacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	embedder := newSemanticEmbedder(64)

	old := insertTestFact(t, store, "alice", "Works as a nurse at the hospital", KindSemantic)
	current := insertTestFact(t, store, "alice", "Works as a nurse at the clinic", KindSemantic)
	if _, err := store.InvalidateFact(ctx, "alice", old.ID); err != nil {
		t.Fatalf("InvalidateFact: %v", err)
	}

	searcher := NewSearcher(store, NewSQLIndex(store), 0, zerolog.Nop())
	vec, _ := embedder.Embed(ctx, "Works as a nurse at the hospital")
	results, err := searcher.Nearest(ctx, "alice", vec, 5)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(results) != 1 || results[0].Fact.ID != current.ID {
		t.Fatalf("expected only the active fact, got %+v", results)
	}
}

func TestSearcher_PostFiltersIndexHits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := insertTestFact(t, store, "alice", "Likes jazz", KindSemantic)
	stale := insertTestFact(t, store, "alice", "Likes rock", KindSemantic)
	foreign := insertTestFact(t, store, "bob", "Likes jazz too", KindSemantic)
	if _, err := store.InvalidateFact(ctx, "alice", stale.ID); err != nil {
		t.Fatalf("InvalidateFact: %v", err)
	}

	index := &staticIndex{hits: []Hit{
		{FactID: stale.ID, Score: 0.99},
		{FactID: foreign.ID, Score: 0.95},
		{FactID: "deleted", Score: 0.9},
		{FactID: active.ID, Score: 0.8},
		{FactID: active.ID, Score: 0.3},
	}}
	searcher := NewSearcher(store, index, 0.5, zerolog.Nop())
	results, err := searcher.Nearest(ctx, "alice", []float32{1}, 5)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d: %+v", len(results), results)
	}
	if results[0].Fact.ID != active.ID || results[0].Score != 0.8 {
		t.Errorf("unexpected result %+v", results[0])
	}
}

func TestSQLIndex_RanksBySimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.EnsureOwner(ctx, "alice"); err != nil {
		t.Fatalf("EnsureOwner: %v", err)
	}

	vectors := map[string][]float32{
		"north":        {1, 0, 0},
		"mostly north": {0.9, 0.1, 0},
		"east":         {0, 1, 0},
	}
	ids := map[string]string{}
	for content, vec := range vectors {
		f, err := store.InsertFact(ctx, Fact{OwnerID: "alice", Content: content, Kind: KindSemantic, Embedding: vec})
		if err != nil {
			t.Fatalf("InsertFact: %v", err)
		}
		ids[content] = f.ID
	}

	hits, err := NewSQLIndex(store).Nearest(ctx, "alice", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected k=2 hits, got %d", len(hits))
	}
	if hits[0].FactID != ids["north"] || hits[1].FactID != ids["mostly north"] {
		t.Errorf("unexpected ranking: %+v", hits)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits should be sorted by descending score")
	}
}
