package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/limits"
	"mercator-hq/costgate/pkg/limits/budget"
)

// Kind is the type of a queued event.
type Kind string

const (
	KindUsage   Kind = "usage"
	KindOutcome Kind = "outcome"
)

// Entry is one queued event.
type Entry struct {
	ID            string
	Kind          Kind
	Payload       []byte
	Attempts      int
	LastError     string
	EnqueuedAt    time.Time
	NextAttemptAt time.Time

	// Dead entries exhausted their attempts and are kept for inspection only.
	Dead bool
}

// usagePayload is the payload of a KindUsage entry.
type usagePayload struct {
	Record  *budget.UsageRecord `json:"record"`
	Targets []string            `json:"targets"`
}

// Queue stores pending entries. Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue adds an entry due immediately.
	Enqueue(ctx context.Context, e *Entry) error

	// Due returns up to limit live entries whose next attempt is at or before now,
	// oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// Complete removes an entry.
	Complete(ctx context.Context, id string) error

	// Retry records a failed attempt, replaces the payload and schedules the
	// next attempt. A zero next marks the entry dead.
	Retry(ctx context.Context, id string, payload []byte, lastErr string, next time.Time) error

	// Stats counts live and dead entries.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// Stats summarizes a queue.
type Stats struct {
	Pending int `json:"pending"`
	Dead    int `json:"dead"`
}

// sink adapts a Queue to the budget.UsageSink and limits.OutcomeSink interfaces.
type sink struct {
	queue Queue
	clock clock.Clock
}

func (s sink) EnqueueUsage(ctx context.Context, rec *budget.UsageRecord, targetIDs []string) error {
	payload, err := json.Marshal(usagePayload{Record: rec, Targets: targetIDs})
	if err != nil {
		return fmt.Errorf("encode usage entry: %w", err)
	}
	return s.enqueue(ctx, KindUsage, payload)
}

func (s sink) EnqueueOutcome(ctx context.Context, o limits.Outcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome entry: %w", err)
	}
	return s.enqueue(ctx, KindOutcome, payload)
}

func (s sink) enqueue(ctx context.Context, kind Kind, payload []byte) error {
	now := s.clock.Now()
	return s.queue.Enqueue(ctx, &Entry{
		ID:            uuid.NewString(),
		Kind:          kind,
		Payload:       payload,
		EnqueuedAt:    now,
		NextAttemptAt: now,
	})
}

// Sink returns an adapter that enqueues into q, stamping entries with c
// (the real clock when nil). It satisfies both budget.UsageSink and
// limits.OutcomeSink.
func Sink(q Queue, c clock.Clock) interface {
	budget.UsageSink
	limits.OutcomeSink
} {
	return sink{queue: q, clock: clock.OrReal(c)}
}
