// Package events is the typed in-process signal path between the mutation
// pipeline and the list projections. It replaces stringly-typed global
// broadcasts with explicit subscriptions.
package events

import (
	"sync"

	"github.com/movingmountains/driversync/internal/core/domain"
)

// StatusChanged announces a confirmed job status transition.
type StatusChanged struct {
	JobID     int64
	NewStatus domain.JobStatus
}

// AcceptConflict announces a lost accept race: the job is gone and the
// available-list projection should prune it.
type AcceptConflict struct {
	JobID   int64
	Message string
}

// MutationRejected announces a terminal, non-retryable mutation failure
// surfaced to the UI layer.
type MutationRejected struct {
	Mutation *domain.Mutation
	Message  string
	// Retryable drives the UI's "retry available" affordance. Always false
	// for rejections coming off the queue, kept explicit so the UI never
	// hand-codes per-kind retry logic.
	Retryable bool
}

// Bus fans events out to subscribers. Dispatch is synchronous and in
// subscription order; subscribers must not block.
type Bus struct {
	mu            sync.RWMutex
	statusSubs    []func(StatusChanged)
	conflictSubs  []func(AcceptConflict)
	rejectionSubs []func(MutationRejected)
}

func NewBus() *Bus {
	return &Bus{}
}

// SubscribeStatusChanged registers a status-change listener.
func (b *Bus) SubscribeStatusChanged(fn func(StatusChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusSubs = append(b.statusSubs, fn)
}

// SubscribeAcceptConflict registers a lost-race listener.
func (b *Bus) SubscribeAcceptConflict(fn func(AcceptConflict)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conflictSubs = append(b.conflictSubs, fn)
}

// SubscribeMutationRejected registers a terminal-failure listener.
func (b *Bus) SubscribeMutationRejected(fn func(MutationRejected)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectionSubs = append(b.rejectionSubs, fn)
}

// PublishStatusChanged notifies status-change subscribers.
func (b *Bus) PublishStatusChanged(ev StatusChanged) {
	b.mu.RLock()
	subs := b.statusSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// PublishAcceptConflict notifies lost-race subscribers.
func (b *Bus) PublishAcceptConflict(ev AcceptConflict) {
	b.mu.RLock()
	subs := b.conflictSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// PublishMutationRejected notifies terminal-failure subscribers.
func (b *Bus) PublishMutationRejected(ev MutationRejected) {
	b.mu.RLock()
	subs := b.rejectionSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
