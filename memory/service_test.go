package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newTestService(t *testing.T) (*Service, *Store, *memSource, *recordingScheduler) {
	t.Helper()
	store := newTestStore(t)
	source := newMemSource()
	sched := &recordingScheduler{}
	queue := NewQueue(store, source, &fakeProcessor{}, zerolog.Nop(), WithScheduler(sched.schedule))
	searcher := NewSearcher(store, NewSQLIndex(store), 0, zerolog.Nop())
	svc := NewService(store, newSemanticEmbedder(64), searcher, queue, source, zerolog.Nop())
	return svc, store, source, sched
}

func TestService_AddFromToolRejectsDuplicates(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	first := svc.AddFromTool(ctx, "alice", "Allergic to peanuts", "semantic", []string{"Allergy"})
	if !first.Success || first.ID == "" {
		t.Fatalf("first add should succeed, got %+v", first)
	}

	second := svc.AddFromTool(ctx, "alice", "  allergic to PEANUTS ", "semantic", nil)
	if second.Success {
		t.Fatal("duplicate add should not succeed")
	}
	if second.ID != first.ID || second.Reason != "duplicate: an identical memory already exists" {
		t.Errorf("unexpected duplicate result %+v", second)
	}
	if n := countFacts(t, store, "alice", true); n != 1 {
		t.Errorf("expected 1 fact, got %d", n)
	}

	other := svc.AddFromTool(ctx, "bob", "Allergic to peanuts", "semantic", nil)
	if !other.Success {
		t.Errorf("duplicates are per owner, got %+v", other)
	}
}

func TestService_AddFromToolValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if res := svc.AddFromTool(ctx, "alice", "   ", "semantic", nil); res.Success || res.Reason == "" {
		t.Errorf("empty content should be rejected, got %+v", res)
	}
	if res := svc.AddFromTool(ctx, "alice", "Plays chess", "opinion", nil); res.Success || res.Reason == "" {
		t.Errorf("unknown kind should be rejected, got %+v", res)
	}
}

func TestService_AddAfterInvalidationSucceeds(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	first := svc.AddFromTool(ctx, "alice", "Drinks coffee daily", "procedural", nil)
	if _, err := store.InvalidateFact(ctx, "alice", first.ID); err != nil {
		t.Fatalf("InvalidateFact: %v", err)
	}
	again := svc.AddFromTool(ctx, "alice", "Drinks coffee daily", "procedural", nil)
	if !again.Success || again.ID == first.ID {
		t.Errorf("an invalidated fact should not block a re-add, got %+v", again)
	}
}

func TestService_SearchTextReturnsActiveFacts(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	keep := svc.AddFromTool(ctx, "alice", "Favourite food is ramen", "semantic", nil)
	drop := svc.AddFromTool(ctx, "alice", "Favourite food is pizza", "semantic", nil)
	if _, err := store.InvalidateFact(ctx, "alice", drop.ID); err != nil {
		t.Fatalf("InvalidateFact: %v", err)
	}

	results, err := svc.SearchText(ctx, "alice", "favourite food", 5)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(results) != 1 || results[0].Fact.ID != keep.ID {
		t.Fatalf("expected only %s, got %+v", keep.ID, results)
	}
	if _, err := svc.SearchText(ctx, "alice", " ", 5); err == nil {
		t.Error("empty query should be rejected")
	}
}

func TestService_RecordTurnEnqueuesOnAssistantTurns(t *testing.T) {
	svc, _, source, sched := newTestService(t)
	ctx := context.Background()

	enqueued, err := svc.RecordTurn(ctx, "alice", "conv-1", "user", "We're moving to Berlin")
	if err != nil || enqueued {
		t.Fatalf("user turn should not enqueue: %v %v", enqueued, err)
	}
	enqueued, err = svc.RecordTurn(ctx, "alice", "conv-1", "assistant", "Exciting!")
	if err != nil || !enqueued {
		t.Fatalf("assistant turn should enqueue: %v %v", enqueued, err)
	}

	msgs, _ := source.ListMessages(ctx, "conv-1")
	if len(msgs) != 2 {
		t.Errorf("expected both turns stored, got %d", len(msgs))
	}
	if sched.count() != 1 {
		t.Errorf("expected one drain scheduled, got %d", sched.count())
	}
	counts, _, err := svc.QueueStatus(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	if counts[QueuePending] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestService_HistoryListsOnlyInvalidated(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	kept := svc.AddFromTool(ctx, "alice", "Lives in Lisbon", "semantic", nil)
	retired := svc.AddFromTool(ctx, "alice", "Lives in Porto", "semantic", nil)
	if !kept.Success || !retired.Success {
		t.Fatalf("setup adds failed: %+v %+v", kept, retired)
	}
	if _, err := store.InvalidateFact(ctx, "alice", retired.ID); err != nil {
		t.Fatalf("InvalidateFact: %v", err)
	}

	history, err := svc.History(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].ID != retired.ID {
		t.Fatalf("expected only the invalidated fact, got %+v", history)
	}
	if history[0].Active() {
		t.Error("history entries must carry invalid_from")
	}

	if other, _ := svc.History(ctx, "bob", 0); len(other) != 0 {
		t.Errorf("history is per owner, got %d entries for bob", len(other))
	}
}
