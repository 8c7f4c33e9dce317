package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-memory Queue. Entries do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]*Entry)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, e *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.entries[e.ID]; dup {
		return nil
	}
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	q.entries[e.ID] = &cp
	return nil
}

func (q *MemoryQueue) Due(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*Entry
	for _, e := range q.entries {
		if !e.Dead && !e.NextAttemptAt.After(now) {
			cp := *e
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].EnqueuedAt.Equal(due[j].EnqueuedAt) {
			return due[i].EnqueuedAt.Before(due[j].EnqueuedAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, id string, payload []byte, lastErr string, next time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return nil
	}
	e.Attempts++
	e.LastError = lastErr
	if payload != nil {
		e.Payload = append([]byte(nil), payload...)
	}
	if next.IsZero() {
		e.Dead = true
	} else {
		e.NextAttemptAt = next
	}
	return nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, e := range q.entries {
		if e.Dead {
			s.Dead++
		} else {
			s.Pending++
		}
	}
	return s, nil
}

func (q *MemoryQueue) Close() error { return nil }
