// Package queue holds the durable FIFO log of not-yet-confirmed job
// mutations. The queue is the sole owner of pending mutations and the sole
// writer of its storage key.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/movingmountains/driversync/internal/core/domain"
	"github.com/movingmountains/driversync/internal/infra/storage"
	"github.com/movingmountains/driversync/internal/sync/classifier"
	"github.com/movingmountains/driversync/internal/sync/events"
	"github.com/movingmountains/driversync/internal/sync/metrics"
)

// StorageKey is the single blob the queue persists under.
const StorageKey = "pendingActions"

// Executor submits one mutation to the backend.
type Executor interface {
	Execute(ctx context.Context, m *domain.Mutation) (*domain.Job, *classifier.Error)
}

// persistedAction is the durable wire form of a queued mutation.
type persistedAction struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	ActionType string          `json:"actionType"`
	Payload    json.RawMessage `json:"payload"`
}

// Queue is the ordered, durable pending-mutation log. Mutations for the same
// job are never reordered relative to each other.
type Queue struct {
	store storage.BlobStore
	bus   *events.Bus
	log   *slog.Logger

	mu         sync.Mutex
	items      []*domain.Mutation
	hasPending bool
	loaded     bool

	draining atomic.Bool
}

// New creates an empty queue over the given store. Load must run before the
// first Enqueue.
func New(store storage.BlobStore, bus *events.Bus) *Queue {
	return &Queue{
		store: store,
		bus:   bus,
		log:   slog.Default().With("component", "queue"),
	}
}

// Load rehydrates the queue from durable storage. Undecodable entries are
// dropped with a diagnostic rather than retried: garbage data can never
// succeed, and it must not block the rest of the queue.
func (q *Queue) Load(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := q.store.Get(ctx, StorageKey)
	if err == storage.ErrNotFound {
		q.items = nil
		q.hasPending = false
		q.loaded = true
		metrics.QueueDepth.Set(0)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load pending actions: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// The whole blob is garbage. Start fresh rather than wedge.
		q.log.Warn("Pending actions blob undecodable, discarding", "error", err)
		q.items = nil
		q.hasPending = false
		q.loaded = true
		metrics.QueueDepth.Set(0)
		return nil
	}

	items := make([]*domain.Mutation, 0, len(raw))
	dropped := 0
	for _, entry := range raw {
		m, err := decodeAction(entry)
		if err != nil {
			dropped++
			q.log.Warn("Dropping undecodable pending action", "error", err)
			continue
		}
		items = append(items, m)
	}
	if dropped > 0 {
		q.log.Warn("Rehydrated queue with malformed entries dropped", "kept", len(items), "dropped", dropped)
	}

	q.items = items
	q.hasPending = len(items) > 0
	q.loaded = true
	metrics.QueueDepth.Set(float64(len(items)))

	if dropped > 0 {
		return q.persistLocked(ctx)
	}
	return nil
}

func decodeAction(data []byte) (*domain.Mutation, error) {
	var pa persistedAction
	if err := json.Unmarshal(data, &pa); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	kind := domain.MutationKind(pa.ActionType)
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown action type %q", pa.ActionType)
	}
	var ref struct {
		JobID int64 `json:"jobId"`
	}
	if err := json.Unmarshal(pa.Payload, &ref); err != nil || ref.JobID == 0 {
		return nil, fmt.Errorf("action %s has no decodable jobId", pa.ID)
	}
	return &domain.Mutation{
		ID:        pa.ID,
		Kind:      kind,
		JobID:     ref.JobID,
		Payload:   pa.Payload,
		CreatedAt: pa.Timestamp,
	}, nil
}

// Enqueue appends a mutation and persists the full queue before returning,
// so the mutation is never lost to a crash.
func (q *Queue) Enqueue(ctx context.Context, m *domain.Mutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.loaded {
		return fmt.Errorf("queue not rehydrated yet")
	}

	q.items = append(q.items, m)
	if err := q.persistLocked(ctx); err != nil {
		q.items = q.items[:len(q.items)-1]
		return fmt.Errorf("persist pending actions: %w", err)
	}
	q.hasPending = true
	metrics.QueueDepth.Set(float64(len(q.items)))
	metrics.MutationsEnqueued.WithLabelValues(string(m.Kind)).Inc()
	q.log.Info("Queued mutation for later sync", "id", m.ID, "kind", m.Kind, "job", m.JobID)
	return nil
}

func (q *Queue) persistLocked(ctx context.Context) error {
	actions := make([]persistedAction, len(q.items))
	for i, m := range q.items {
		actions[i] = persistedAction{
			ID:         m.ID,
			Timestamp:  m.CreatedAt,
			ActionType: string(m.Kind),
			Payload:    m.Payload,
		}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, StorageKey, data)
}

// HasPending reports whether unconfirmed mutations exist.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasPending
}

// Len returns the number of pending mutations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the pending mutations, head first.
func (q *Queue) Items() []*domain.Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.Mutation, len(q.items))
	copy(out, q.items)
	return out
}

// Drain submits pending mutations head-first while online holds. At most one
// drain runs at a time; extra calls are no-ops, so reachability flapping
// cannot start duplicate drains.
//
// Success removes the head and persists before the next submission, which
// makes replay after a crash idempotent. A non-retryable failure also
// removes the head (it can never succeed) and surfaces it on the bus. A
// retryable failure stops the drain so a later mutation never runs ahead of
// a stuck earlier one.
func (q *Queue) Drain(ctx context.Context, exec Executor, online func() bool) error {
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)

	start := time.Now()
	defer func() { metrics.DrainDuration.Observe(time.Since(start).Seconds()) }()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if online != nil && !online() {
			return nil
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.hasPending = false
			q.mu.Unlock()
			return nil
		}
		head := q.items[0]
		q.mu.Unlock()

		_, cerr := exec.Execute(ctx, head)
		if cerr == nil {
			if err := q.removeHead(ctx, head.ID); err != nil {
				return err
			}
			continue
		}

		head.AttemptCount++

		if !cerr.Retryable {
			// Unrecoverable, e.g. a stale conflict. Drop it and tell the
			// UI rather than silently losing the mutation.
			q.log.Warn("Dropping unrecoverable mutation",
				"id", head.ID, "kind", head.Kind, "job", head.JobID, "error", cerr)
			if err := q.removeHead(ctx, head.ID); err != nil {
				return err
			}
			metrics.MutationsRejected.WithLabelValues(string(head.Kind), string(cerr.Kind)).Inc()
			if q.bus != nil {
				q.bus.PublishMutationRejected(events.MutationRejected{
					Mutation:  head,
					Message:   cerr.Message,
					Retryable: false,
				})
			}
			continue
		}

		// Retryable: stop here to preserve order; the caller reschedules.
		q.log.Info("Drain paused on retryable failure",
			"id", head.ID, "kind", head.Kind, "attempts", head.AttemptCount, "error", cerr)
		return cerr
	}
}

func (q *Queue) removeHead(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].ID != id {
		return nil
	}
	q.items = q.items[1:]
	q.hasPending = len(q.items) > 0
	metrics.QueueDepth.Set(float64(len(q.items)))
	if err := q.persistLocked(ctx); err != nil {
		return fmt.Errorf("persist after dequeue: %w", err)
	}
	return nil
}
