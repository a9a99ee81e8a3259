package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultDrainDelay = 10 * time.Second
	DefaultDrainBatch = 10
)

// Processor runs the memory pipeline for one conversation.
type Processor interface {
	Process(ctx context.Context, ownerID, conversationID string, messages []Message) (Report, error)
}

// Scheduler runs fn once after delay.
type Scheduler func(delay time.Duration, fn func())

// DrainStats summarizes one drain run.
type DrainStats struct {
	Fetched   int `json:"fetched"`
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue coalesces finished turns into per-conversation jobs and drains them
// after a short delay so extraction sees a fuller exchange. Failed items are
// not retried; the next message on the conversation creates a new item.
type Queue struct {
	store     *Store
	source    MessageSource
	processor Processor
	delay     time.Duration
	batch     int
	schedule  Scheduler
	logger    zerolog.Logger

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// QueueOption customizes a Queue.
type QueueOption func(*Queue)

// WithDrainDelay sets how long after an enqueue the drain runs.
func WithDrainDelay(d time.Duration) QueueOption {
	return func(q *Queue) { q.delay = d }
}

// WithDrainBatch caps how many items one drain processes.
func WithDrainBatch(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.batch = n
		}
	}
}

// WithScheduler replaces time.AfterFunc, mainly for tests.
func WithScheduler(s Scheduler) QueueOption {
	return func(q *Queue) { q.schedule = s }
}

// NewQueue creates a Queue.
func NewQueue(store *Store, source MessageSource, processor Processor, logger zerolog.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		store:     store,
		source:    source,
		processor: processor,
		delay:     DefaultDrainDelay,
		batch:     DefaultDrainBatch,
		schedule:  func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		logger:    logger.With().Str("component", "memory_queue").Logger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue records that conversationID has new turns. Repeated calls while an
// item is pending collapse into that item. A drain is scheduled only when a
// new item is created.
func (q *Queue) Enqueue(ctx context.Context, ownerID, conversationID string) (QueueItem, bool, error) {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return QueueItem{}, false, ErrQueueStopped
	}

	item, created, err := q.store.EnqueueConversation(ctx, ownerID, conversationID)
	if err != nil {
		return QueueItem{}, false, err
	}
	if !created {
		q.logger.Debug().Str("conversation_id", conversationID).Msg("Conversation already pending")
		return item, false, nil
	}

	q.logger.Info().
		Str("item_id", item.ID).
		Str("owner_id", ownerID).
		Str("conversation_id", conversationID).
		Dur("delay", q.delay).
		Msg("Conversation enqueued")
	q.schedule(q.delay, q.scheduledDrain)
	return item, true, nil
}

// scheduledDrain runs detached from the request that triggered it.
func (q *Queue) scheduledDrain() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.inflight.Add(1)
	q.mu.Unlock()
	defer q.inflight.Done()

	if _, err := q.Drain(context.Background()); err != nil {
		q.logger.Error().Err(err).Msg("Scheduled drain failed")
	}
}

// Drain processes up to the batch size of pending items, one after another.
// A failing item is marked failed and the drain moves on.
func (q *Queue) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats
	items, err := q.store.PendingQueueItems(ctx, q.batch)
	if err != nil {
		return stats, fmt.Errorf("fetch pending items: %w", err)
	}
	stats.Fetched = len(items)

	for _, item := range items {
		claimed, err := q.store.ClaimQueueItem(ctx, item.ID)
		if err != nil {
			q.logger.Error().Err(err).Str("item_id", item.ID).Msg("Failed to claim item")
			continue
		}
		if !claimed {
			q.logger.Debug().Str("item_id", item.ID).Msg("Item claimed by another drain")
			continue
		}
		stats.Claimed++

		if err := q.processItem(ctx, item); err != nil {
			stats.Failed++
			q.logger.Error().
				Err(err).
				Str("item_id", item.ID).
				Str("conversation_id", item.ConversationID).
				Msg("Queue item failed")
			if _, ferr := q.store.FailQueueItem(ctx, item.ID, err.Error()); ferr != nil {
				q.logger.Error().Err(ferr).Str("item_id", item.ID).Msg("Failed to mark item failed")
			}
			continue
		}
		completed, err := q.store.CompleteQueueItem(ctx, item.ID)
		if err != nil {
			q.logger.Error().Err(err).Str("item_id", item.ID).Msg("Failed to mark item completed")
			continue
		}
		if !completed {
			// The sweeper failed it as stale while it was running; the row stays failed.
			stats.Failed++
			q.logger.Warn().Str("item_id", item.ID).Msg("Item left processing before it completed")
			continue
		}
		stats.Completed++
	}

	if stats.Fetched > 0 {
		q.logger.Info().
			Int("fetched", stats.Fetched).
			Int("claimed", stats.Claimed).
			Int("completed", stats.Completed).
			Int("failed", stats.Failed).
			Msg("Drain finished")
	}
	return stats, nil
}

func (q *Queue) processItem(ctx context.Context, item QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing: %v", r)
		}
	}()

	messages, err := q.source.ListMessages(ctx, item.ConversationID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if len(messages) == 0 {
		q.logger.Debug().Str("item_id", item.ID).Msg("Conversation has no messages")
		return nil
	}
	_, err = q.processor.Process(ctx, item.OwnerID, item.ConversationID, messages)
	return err
}

// FailStale marks items abandoned in processing as failed.
func (q *Queue) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := q.store.FailStaleQueueItems(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Warn().Int64("count", n).Dur("olderThan", olderThan).Msg("Failed stale queue items")
	}
	return n, nil
}

// Stop refuses new work and waits for scheduled drains that already started.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.inflight.Wait()
}
