package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStore_InsertAndGetFact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f, err := store.InsertFact(ctx, Fact{
		OwnerID:              "alice",
		Content:              "  Partner's name is Sam  ",
		Embedding:            []float32{0.1, 0.2, 0.3},
		Kind:                 KindSemantic,
		Keywords:             []string{"partner", "name"},
		SourceConversationID: "conv-1",
	})
	if err != nil {
		t.Fatalf("InsertFact: %v", err)
	}
	if f.ID == "" {
		t.Fatal("expected an id to be assigned")
	}

	got, err := store.GetFact(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if got.Content != "Partner's name is Sam" {
		t.Errorf("expected trimmed content, got %q", got.Content)
	}
	if !got.Active() {
		t.Error("new fact should be active")
	}
	if got.ContentHash != ContentHash("partner's name is sam") {
		t.Errorf("unexpected content hash %s", got.ContentHash)
	}
	if len(got.Embedding) != 3 || got.Embedding[2] != 0.3 {
		t.Errorf("embedding did not round-trip: %v", got.Embedding)
	}
	if strings.Join(got.Keywords, ",") != "partner,name" {
		t.Errorf("keywords did not round-trip: %v", got.Keywords)
	}
	if got.SourceConversationID != "conv-1" {
		t.Errorf("expected source conversation conv-1, got %q", got.SourceConversationID)
	}
	if got.ValidFrom.IsZero() || got.CreatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestStore_InsertFactValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertFact(ctx, Fact{OwnerID: "alice", Content: "   ", Kind: KindSemantic}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := store.InsertFact(ctx, Fact{OwnerID: "alice", Content: "x", Kind: "opinion"}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}
}

func TestStore_InvalidateFact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	f := insertTestFact(t, store, "alice", "Works as a nurse", KindSemantic)

	changed, err := store.InvalidateFact(ctx, "alice", f.ID)
	if err != nil || !changed {
		t.Fatalf("first invalidate: changed=%v err=%v", changed, err)
	}

	got, err := store.GetFact(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if got.Active() {
		t.Fatal("fact should be inactive after invalidation")
	}
	if got.Content != "Works as a nurse" {
		t.Errorf("invalidation must not touch content, got %q", got.Content)
	}
	firstInvalidFrom := *got.InvalidFrom

	changed, err = store.InvalidateFact(ctx, "alice", f.ID)
	if err != nil || changed {
		t.Fatalf("second invalidate should be a no-op: changed=%v err=%v", changed, err)
	}
	again, _ := store.GetFact(ctx, f.ID)
	if !again.InvalidFrom.Equal(firstInvalidFrom) {
		t.Error("invalid_from must not move once set")
	}

	if _, err := store.InvalidateFact(ctx, "bob", f.ID); !errors.Is(err, ErrFactNotFound) {
		t.Errorf("expected ErrFactNotFound for another owner, got %v", err)
	}
	if _, err := store.InvalidateFact(ctx, "alice", "missing"); !errors.Is(err, ErrFactNotFound) {
		t.Errorf("expected ErrFactNotFound for unknown id, got %v", err)
	}
}

func TestStore_FindActiveByHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	f := insertTestFact(t, store, "alice", "Likes green tea", KindSemantic)

	got, err := store.FindActiveByHash(ctx, "alice", ContentHash("  LIKES GREEN TEA "))
	if err != nil {
		t.Fatalf("FindActiveByHash: %v", err)
	}
	if got == nil || got.ID != f.ID {
		t.Fatalf("expected to find %s, got %+v", f.ID, got)
	}

	other, err := store.FindActiveByHash(ctx, "bob", f.ContentHash)
	if err != nil || other != nil {
		t.Fatalf("hash lookup must be owner scoped: %+v %v", other, err)
	}

	if _, err := store.InvalidateFact(ctx, "alice", f.ID); err != nil {
		t.Fatalf("InvalidateFact: %v", err)
	}
	gone, err := store.FindActiveByHash(ctx, "alice", f.ContentHash)
	if err != nil || gone != nil {
		t.Fatalf("invalidated facts should not match: %+v %v", gone, err)
	}
}

func TestStore_ListFacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := insertTestFact(t, store, "alice", "Has a dog named Rex", KindSemantic)
	insertTestFact(t, store, "alice", "Went hiking last weekend", KindEpisodic)
	insertTestFact(t, store, "bob", "Unrelated", KindSemantic)

	if _, err := store.InvalidateFact(ctx, "alice", a.ID); err != nil {
		t.Fatalf("InvalidateFact: %v", err)
	}

	if n := countFacts(t, store, "alice", false); n != 1 {
		t.Errorf("expected 1 active fact, got %d", n)
	}
	if n := countFacts(t, store, "alice", true); n != 2 {
		t.Errorf("expected 2 facts including history, got %d", n)
	}
}

func TestStore_CoreBlocks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureOwner(ctx, "alice"); err != nil {
		t.Fatalf("EnsureOwner: %v", err)
	}
	if err := store.EnsureOwner(ctx, "alice"); err != nil {
		t.Fatalf("EnsureOwner should be idempotent: %v", err)
	}

	blocks, err := store.CoreBlocks(ctx, "alice")
	if err != nil {
		t.Fatalf("CoreBlocks: %v", err)
	}
	if len(blocks) != len(CoreLabels) {
		t.Fatalf("expected %d blocks, got %d", len(CoreLabels), len(blocks))
	}
	for i, b := range blocks {
		if b.Label != CoreLabels[i] || b.Content != "" {
			t.Errorf("block %d: expected empty %s, got %+v", i, CoreLabels[i], b)
		}
	}

	if err := store.UpdateCoreBlock(ctx, "alice", CorePartnerInfo, "Partner is Sam"); err != nil {
		t.Fatalf("UpdateCoreBlock: %v", err)
	}
	if err := store.UpdateCoreBlock(ctx, "alice", CorePartnerInfo, "Partner is Sam, a nurse"); err != nil {
		t.Fatalf("UpdateCoreBlock: %v", err)
	}
	blocks, _ = store.CoreBlocks(ctx, "alice")
	if blocks[1].Content != "Partner is Sam, a nurse" {
		t.Errorf("expected block to be overwritten, got %q", blocks[1].Content)
	}

	if err := store.UpdateCoreBlock(ctx, "alice", "hobbies", "x"); !errors.Is(err, ErrInvalidLabel) {
		t.Errorf("expected ErrInvalidLabel, got %v", err)
	}
}

func TestRenderCoreProfile(t *testing.T) {
	out := RenderCoreProfile([]CoreBlock{
		{Label: CoreUserProfile, Content: "Alice, 34"},
		{Label: CorePartnerInfo},
	})
	want := "[user_profile]\nAlice, 34\n\n[partner_info]\n(empty)"
	if out != want {
		t.Errorf("unexpected rendering:\n%s", out)
	}
}

func TestContentHashNormalizes(t *testing.T) {
	if ContentHash("Hello World") != ContentHash("  hello world\n") {
		t.Error("hash should ignore case and surrounding whitespace")
	}
	if ContentHash("hello world") == ContentHash("hello  world") {
		t.Error("inner whitespace is significant")
	}
}
