package memory

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/recall/migrations"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory database and runs migrations. A single
// connection keeps every query on the same in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrations.RunMigrations(db, zerolog.Nop()); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(setupTestDB(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

// semanticEmbedder creates embeddings based on word content to simulate semantic similarity.
// Texts with overlapping words get similar embeddings.
type semanticEmbedder struct {
	dimensions int
}

func newSemanticEmbedder(dimensions int) *semanticEmbedder {
	return &semanticEmbedder{dimensions: dimensions}
}

func (e *semanticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	words := strings.Fields(strings.ToLower(text))
	embedding := make([]float32, e.dimensions)
	if len(words) == 0 {
		return embedding, nil
	}
	for _, word := range words {
		h := fnv.New32a()
		if _, err := h.Write([]byte(word)); err != nil {
			return nil, err
		}
		hash := h.Sum32()
		for i := 0; i < 3; i++ {
			dim := int((hash + uint32(i)*2654435761) % uint32(e.dimensions)) // nolint:gosec // Test code
			embedding[dim] += float32(math.Sin(float64(hash+uint32(i))*0.1) + 1.0) // nolint:gosec // Test code
		}
	}
	var magnitude float32
	for _, val := range embedding {
		magnitude += val * val
	}
	magnitude = float32(math.Sqrt(float64(magnitude)))
	if magnitude > 0 {
		for i := range embedding {
			embedding[i] /= magnitude
		}
	}
	return embedding, nil
}

// countingEmbedder records every text it was asked to embed.
type countingEmbedder struct {
	next Embedder
	mu   sync.Mutex
	seen []string
	fail map[string]error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{next: newSemanticEmbedder(64), fail: map[string]error{}}
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.seen = append(e.seen, text)
	err := e.fail[text]
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.next.Embed(ctx, text)
}

func (e *countingEmbedder) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

// scriptedGenerator answers structured requests by name with canned JSON.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string]error
	requests  []StructuredRequest
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{responses: map[string][]string{}, errs: map[string]error{}}
}

func (g *scriptedGenerator) respond(name, raw string) *scriptedGenerator {
	g.responses[name] = append(g.responses[name], raw)
	return g
}

func (g *scriptedGenerator) Generate(ctx context.Context, req StructuredRequest, out Validator) error {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	if err := g.errs[req.Name]; err != nil {
		g.mu.Unlock()
		return err
	}
	queue := g.responses[req.Name]
	if len(queue) == 0 {
		g.mu.Unlock()
		return errors.New("no scripted response for " + req.Name)
	}
	raw := queue[0]
	g.responses[req.Name] = queue[1:]
	g.mu.Unlock()

	if err := decodeStructured(raw, out); err != nil {
		return &SchemaError{Name: req.Name, Err: err}
	}
	return nil
}

func (g *scriptedGenerator) calls(name string) []StructuredRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []StructuredRequest
	for _, r := range g.requests {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// memSource is an in-memory MessageSource.
type memSource struct {
	mu       sync.Mutex
	messages map[string][]Message
	err      error
}

func newMemSource() *memSource {
	return &memSource{messages: map[string][]Message{}}
}

func (s *memSource) add(conversationID string, msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], msgs...)
}

func (s *memSource) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]Message(nil), s.messages[conversationID]...), nil
}

func (s *memSource) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	s.add(conversationID, Message{Role: role, Content: content})
	return nil
}

// recordingScheduler captures scheduled drains instead of running them.
type recordingScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (r *recordingScheduler) schedule(d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	r.fns = append(r.fns, fn)
}

func (r *recordingScheduler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fns)
}

// insertTestFact stores content with a semantic embedding.
func insertTestFact(t *testing.T, store *Store, ownerID, content string, kind Kind) Fact {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsureOwner(ctx, ownerID); err != nil {
		t.Fatalf("EnsureOwner: %v", err)
	}
	vec, err := newSemanticEmbedder(64).Embed(ctx, content)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	f, err := store.InsertFact(ctx, Fact{OwnerID: ownerID, Content: content, Kind: kind, Embedding: vec})
	if err != nil {
		t.Fatalf("InsertFact: %v", err)
	}
	return f
}

func countFacts(t *testing.T, store *Store, ownerID string, includeInvalidated bool) int {
	t.Helper()
	facts, err := store.ListFacts(context.Background(), ownerID, includeInvalidated, 0)
	if err != nil {
		t.Fatalf("ListFacts: %v", err)
	}
	return len(facts)
}
