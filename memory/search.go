package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

// DefaultSearchK is how many similar facts reconciliation looks at per candidate.
const DefaultSearchK = 5

// Hit is a raw index match. The index may know nothing about invalidation.
type Hit struct {
	FactID string
	Score  float64
}

// Index is a k-nearest-neighbour service over fact embeddings, partitioned
// by owner. Remove is called when a fact is invalidated.
type Index interface {
	Add(ctx context.Context, f Fact) error
	Remove(ctx context.Context, ownerID, factID string) error
	Nearest(ctx context.Context, ownerID string, vec []float32, k int) ([]Hit, error)
}

// SimilarFinder returns an owner's active facts closest to vec.
type SimilarFinder interface {
	Nearest(ctx context.Context, ownerID string, vec []float32, k int) ([]SearchResult, error)
}

// Searcher layers the active-only rule on top of an Index: every hit is
// re-fetched from the store and dropped if it was invalidated, belongs to a
// different owner or scores below the minimum.
type Searcher struct {
	store    *Store
	index    Index
	minScore float64
	logger   zerolog.Logger
}

// NewSearcher creates a Searcher. minScore of zero keeps every positive match.
func NewSearcher(store *Store, index Index, minScore float64, logger zerolog.Logger) *Searcher {
	return &Searcher{
		store:    store,
		index:    index,
		minScore: minScore,
		logger:   logger.With().Str("component", "similarity_search").Logger(),
	}
}

// maxRefills bounds how often Nearest widens the index query when hits are dropped.
const maxRefills = 3

// Nearest implements SimilarFinder. When hits are dropped the index is asked
// again with a wider k so that active facts hidden behind stale entries still
// come back.
func (s *Searcher) Nearest(ctx context.Context, ownerID string, vec []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = DefaultSearchK
	}

	var (
		results []SearchResult
		hits    []Hit
		dropped int
		err     error
	)
	fetch := k
	for attempt := 0; attempt <= maxRefills; attempt++ {
		hits, err = s.index.Nearest(ctx, ownerID, vec, fetch)
		if err != nil {
			return nil, fmt.Errorf("nearest neighbour query: %w", err)
		}
		results, dropped, err = s.filter(ctx, ownerID, hits)
		if err != nil {
			return nil, err
		}
		if len(results) >= k || len(hits) < fetch || dropped == 0 {
			break
		}
		fetch *= 2
	}
	if len(results) > k {
		results = results[:k]
	}

	s.logger.Debug().
		Str("owner_id", ownerID).
		Int("hits", len(hits)).
		Int("dropped", dropped).
		Int("results", len(results)).
		Msg("Similarity search")
	return results, nil
}

func (s *Searcher) filter(ctx context.Context, ownerID string, hits []Hit) ([]SearchResult, int, error) {
	results := make([]SearchResult, 0, len(hits))
	dropped := 0
	for _, hit := range hits {
		if hit.Score <= 0 || hit.Score < s.minScore {
			dropped++
			continue
		}
		f, err := s.store.GetFact(ctx, hit.FactID)
		if errors.Is(err, ErrFactNotFound) {
			dropped++
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if !f.Active() || f.OwnerID != ownerID {
			dropped++
			continue
		}
		results = append(results, SearchResult{Fact: f, Score: hit.Score})
	}
	return results, dropped, nil
}

// SQLIndex is a brute-force cosine index over the facts table. It suits
// small stores and needs no warm-up.
type SQLIndex struct {
	store *Store
}

// NewSQLIndex creates an index that reads embeddings straight from the store.
func NewSQLIndex(store *Store) *SQLIndex {
	return &SQLIndex{store: store}
}

// Add is a no-op: the fact row already carries its embedding.
func (i *SQLIndex) Add(context.Context, Fact) error { return nil }

// Remove is a no-op: Nearest only scans active rows.
func (i *SQLIndex) Remove(context.Context, string, string) error { return nil }

// Nearest scans the owner's most recent active facts and ranks them by cosine similarity.
func (i *SQLIndex) Nearest(ctx context.Context, ownerID string, vec []float32, k int) ([]Hit, error) {
	const candidateLimit = 2000

	q, args, err := StatementBuilder().
		Select("id", "embedding").
		From("facts").
		Where(sq.Eq{"owner_id": ownerID}).
		Where(activeOnly()).
		Where(sq.NotEq{"embedding": nil}).
		OrderBy("created_at DESC").
		Limit(candidateLimit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := i.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var hits []Hit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		emb, err := DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", id, err)
		}
		score := CosineSimilarity(vec, emb)
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{FactID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
