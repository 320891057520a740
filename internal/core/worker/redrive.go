package worker

import (
	"context"
	"log/slog"
	"time"
)

// Drainer replays the pending mutation queue.
type Drainer interface {
	Drain(ctx context.Context) error
}

// PendingChecker reports whether replayable work exists.
type PendingChecker interface {
	HasPending() bool
}

// Redriver is a safety net behind the reachability-driven drain: it
// periodically replays the pending queue in case a connectivity transition
// was missed or an earlier drain gave up.
type Redriver struct {
	interval time.Duration
	drainer  Drainer
	pending  PendingChecker
	online   func() bool
	log      *slog.Logger
}

// NewRedriver creates a Redriver worker. interval <= 0 disables it.
func NewRedriver(interval time.Duration, drainer Drainer, pending PendingChecker, online func() bool) *Redriver {
	return &Redriver{
		interval: interval,
		drainer:  drainer,
		pending:  pending,
		online:   online,
		log:      slog.Default().With("component", "redriver"),
	}
}

// Start runs the redrive loop until ctx is cancelled.
func (r *Redriver) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.redrive(ctx)
		}
	}
}

func (r *Redriver) redrive(ctx context.Context) {
	if !r.pending.HasPending() || !r.online() {
		return
	}
	r.log.Debug("Redriving pending mutations")
	if err := r.drainer.Drain(ctx); err != nil && ctx.Err() == nil {
		r.log.Warn("Redrive failed", "error", err)
	}
}
