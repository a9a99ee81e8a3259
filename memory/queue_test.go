package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeProcessor records calls and lets a test decide the outcome per conversation.
type fakeProcessor struct {
	mu    sync.Mutex
	calls []string
	fn    func(conversationID string, messages []Message) error
}

func (p *fakeProcessor) Process(ctx context.Context, ownerID, conversationID string, messages []Message) (Report, error) {
	p.mu.Lock()
	p.calls = append(p.calls, conversationID)
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		return Report{}, fn(conversationID, messages)
	}
	return Report{}, nil
}

func newTestQueue(t *testing.T, source MessageSource, proc Processor) (*Queue, *Store, *recordingScheduler) {
	t.Helper()
	store := newTestStore(t)
	sched := &recordingScheduler{}
	q := NewQueue(store, source, proc, zerolog.Nop(), WithScheduler(sched.schedule), WithDrainDelay(time.Second))
	return q, store, sched
}

func TestQueue_EnqueueCollapsesPendingItems(t *testing.T) {
	q, store, sched := newTestQueue(t, newMemSource(), &fakeProcessor{})
	ctx := context.Background()

	first, created, err := q.Enqueue(ctx, "alice", "conv-1")
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	second, created, err := q.Enqueue(ctx, "alice", "conv-1")
	if err != nil || created {
		t.Fatalf("second enqueue: created=%v err=%v", created, err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the pending item to be reused, got %s and %s", first.ID, second.ID)
	}
	if sched.count() != 1 {
		t.Errorf("expected one scheduled drain, got %d", sched.count())
	}
	if sched.delays[0] != time.Second {
		t.Errorf("expected the configured delay, got %v", sched.delays[0])
	}

	items, err := store.QueueItems(ctx, "alice", "", 0)
	if err != nil {
		t.Fatalf("QueueItems: %v", err)
	}
	if len(items) != 1 || items[0].Status != QueuePending {
		t.Fatalf("expected one pending item, got %+v", items)
	}
}

func TestQueue_EnqueueAfterCompletionCreatesNewItem(t *testing.T) {
	source := newMemSource()
	source.add("conv-1", Message{Role: "user", Content: "hi"})
	q, store, sched := newTestQueue(t, source, &fakeProcessor{})
	ctx := context.Background()

	first, _, _ := q.Enqueue(ctx, "alice", "conv-1")
	if _, err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	second, created, err := q.Enqueue(ctx, "alice", "conv-1")
	if err != nil || !created || second.ID == first.ID {
		t.Fatalf("expected a fresh item after completion: created=%v err=%v", created, err)
	}
	if sched.count() != 2 {
		t.Errorf("expected two scheduled drains, got %d", sched.count())
	}
	done, _ := store.GetQueueItem(ctx, first.ID)
	if done.Status != QueueCompleted || done.ProcessedAt == nil || done.StartedAt == nil {
		t.Errorf("unexpected completed item %+v", done)
	}
}

func TestQueue_DrainCompletesEmptyConversation(t *testing.T) {
	proc := &fakeProcessor{}
	q, store, _ := newTestQueue(t, newMemSource(), proc)
	ctx := context.Background()

	item, _, _ := q.Enqueue(ctx, "alice", "empty")
	stats, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Completed != 1 {
		t.Errorf("expected 1 completed, got %+v", stats)
	}
	if len(proc.calls) != 0 {
		t.Error("processor should not run for an empty conversation")
	}
	got, _ := store.GetQueueItem(ctx, item.ID)
	if got.Status != QueueCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestQueue_DrainMarksFailuresAndContinues(t *testing.T) {
	source := newMemSource()
	for _, conv := range []string{"boom", "panic", "ok"} {
		source.add(conv, Message{Role: "user", Content: "hello"})
	}
	proc := &fakeProcessor{fn: func(conv string, _ []Message) error {
		switch conv {
		case "boom":
			return errors.New("reconcile: index offline")
		case "panic":
			panic("nil map")
		}
		return nil
	}}
	q, store, _ := newTestQueue(t, source, proc)
	ctx := context.Background()

	ids := map[string]string{}
	for _, conv := range []string{"boom", "panic", "ok"} {
		item, _, err := q.Enqueue(ctx, "alice", conv)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids[conv] = item.ID
	}

	stats, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Claimed != 3 || stats.Completed != 1 || stats.Failed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	boom, _ := store.GetQueueItem(ctx, ids["boom"])
	if boom.Status != QueueFailed || !strings.Contains(boom.Error, "index offline") {
		t.Errorf("unexpected failed item %+v", boom)
	}
	pan, _ := store.GetQueueItem(ctx, ids["panic"])
	if pan.Status != QueueFailed || !strings.Contains(pan.Error, "panic") {
		t.Errorf("panics should fail the item, got %+v", pan)
	}
	ok, _ := store.GetQueueItem(ctx, ids["ok"])
	if ok.Status != QueueCompleted {
		t.Errorf("expected ok to complete, got %s", ok.Status)
	}
}

func TestQueue_DrainRespectsBatchSize(t *testing.T) {
	source := newMemSource()
	q, store, _ := newTestQueue(t, source, &fakeProcessor{})
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		conv := fmt.Sprintf("conv-%02d", i)
		source.add(conv, Message{Role: "user", Content: "hi"})
		if _, _, err := q.Enqueue(ctx, "alice", conv); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	stats, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Fetched != DefaultDrainBatch || stats.Completed != DefaultDrainBatch {
		t.Fatalf("expected a full batch, got %+v", stats)
	}
	pending, _ := store.PendingQueueItems(ctx, 0)
	if len(pending) != 2 {
		t.Errorf("expected 2 items left pending, got %d", len(pending))
	}
}

func TestQueue_ClaimIsExclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item, _, err := store.EnqueueConversation(ctx, "alice", "conv-1")
	if err != nil {
		t.Fatalf("EnqueueConversation: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimQueueItem(ctx, item.ID)
			if err != nil {
				t.Errorf("ClaimQueueItem: %v", err)
				return
			}
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim to win, got %d", wins)
	}
}

func TestQueue_FailStale(t *testing.T) {
	q, store, _ := newTestQueue(t, newMemSource(), &fakeProcessor{})
	ctx := context.Background()
	item, _, _ := q.Enqueue(ctx, "alice", "conv-1")
	if claimed, err := store.ClaimQueueItem(ctx, item.ID); err != nil || !claimed {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	n, err := q.FailStale(ctx, 15*time.Minute)
	if err != nil || n != 0 {
		t.Fatalf("fresh items should not be swept: n=%d err=%v", n, err)
	}

	store.clock = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = q.FailStale(ctx, 15*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected one stale item: n=%d err=%v", n, err)
	}
	got, _ := store.GetQueueItem(ctx, item.ID)
	if got.Status != QueueFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

func TestQueue_StopRejectsWork(t *testing.T) {
	source := newMemSource()
	source.add("conv-1", Message{Role: "user", Content: "hi"})
	proc := &fakeProcessor{}
	q, _, sched := newTestQueue(t, source, proc)
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, "alice", "conv-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Stop()

	if _, _, err := q.Enqueue(ctx, "alice", "conv-2"); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("expected ErrQueueStopped, got %v", err)
	}
	sched.fns[0]()
	if len(proc.calls) != 0 {
		t.Error("a drain scheduled before Stop should not run afterwards")
	}
}

func TestQueue_ScheduledDrainProcessesItems(t *testing.T) {
	source := newMemSource()
	source.add("conv-1", Message{Role: "user", Content: "I adopted a cat"}, Message{Role: "assistant", Content: "Congrats!"})
	proc := &fakeProcessor{}
	q, store, sched := newTestQueue(t, source, proc)
	ctx := context.Background()

	item, _, _ := q.Enqueue(ctx, "alice", "conv-1")
	sched.fns[0]()

	if len(proc.calls) != 1 || proc.calls[0] != "conv-1" {
		t.Fatalf("expected conv-1 to be processed, got %v", proc.calls)
	}
	got, _ := store.GetQueueItem(ctx, item.ID)
	if got.Status != QueueCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	counts, err := store.QueueCounts(ctx)
	if err != nil {
		t.Fatalf("QueueCounts: %v", err)
	}
	if counts[QueueCompleted] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestQueue_DrainDoesNotCompleteItemsFailedWhileRunning(t *testing.T) {
	source := newMemSource()
	source.add("conv-1", Message{Role: "user", Content: "hi"})
	proc := &fakeProcessor{}
	q, store, _ := newTestQueue(t, source, proc)
	ctx := context.Background()

	proc.fn = func(string, []Message) error {
		// The sweeper decides the item is stale while the pipeline is still running.
		store.clock = func() time.Time { return time.Now().Add(time.Hour) }
		n, err := store.FailStaleQueueItems(ctx, 15*time.Minute)
		if err != nil || n != 1 {
			t.Errorf("expected the running item to be swept: n=%d err=%v", n, err)
		}
		return nil
	}

	item, _, err := q.Enqueue(ctx, "alice", "conv-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stats, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Completed != 0 || stats.Failed != 1 {
		t.Errorf("expected the swept item to count as failed, got %+v", stats)
	}
	got, err := store.GetQueueItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetQueueItem: %v", err)
	}
	if got.Status != QueueFailed {
		t.Errorf("expected the item to stay failed, got %s", got.Status)
	}

	if ok, err := store.CompleteQueueItem(ctx, item.ID); err != nil || ok {
		t.Errorf("completing a failed item should not change it: ok=%v err=%v", ok, err)
	}
}
