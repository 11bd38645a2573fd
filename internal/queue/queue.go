package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/trip-sync/internal/models"
)

// Queue buffers state-changing actions attempted without connectivity.
// Items are strictly FIFO: replay never reorders, and an item leaves the
// queue only after its remote write is confirmed.
type Queue struct {
	mu    sync.Mutex
	items []models.OfflineQueueItem
}

func New() *Queue {
	return &Queue{}
}

// Restore seeds the queue from a rehydrated snapshot.
func (q *Queue) Restore(items []models.OfflineQueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items[:0], items...)
}

func (q *Queue) Enqueue(action string, payload any) (models.OfflineQueueItem, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return models.OfflineQueueItem{}, err
		}
		raw = b
	}
	item := models.OfflineQueueItem{
		ID:         uuid.NewString(),
		Action:     action,
		Payload:    raw,
		EnqueuedAt: time.Now(),
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return item, nil
}

// Clear drops every queued item.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = q.items[:0]
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Items() []models.OfflineQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.OfflineQueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Drain replays queued items in submission order. It stops at the first
// failure, leaving the failed item and everything behind it queued for a
// later attempt. Returns the number of items confirmed and removed.
func (q *Queue) Drain(ctx context.Context, apply func(ctx context.Context, item models.OfflineQueueItem) error) (int, error) {
	applied := 0
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return applied, nil
		}
		head := q.items[0]
		q.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := apply(ctx, head); err != nil {
			return applied, err
		}

		q.mu.Lock()
		// confirmed: drop the head
		if len(q.items) > 0 && q.items[0].ID == head.ID {
			q.items = q.items[1:]
		}
		q.mu.Unlock()
		applied++
	}
}
