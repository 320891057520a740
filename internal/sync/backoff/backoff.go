// Package backoff computes retry delays for named operations. It decides
// when, never whether to execute; execution belongs to the caller.
package backoff

import (
	"context"
	"sync"
	"time"
)

// Config defines retry pacing.
type Config struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	MaxAttempts: 3,
}

type retryState struct {
	attempts      int
	lastAttemptAt time.Time
}

// Scheduler keeps per-operation retry counters. Counters are process-lifetime
// only; a manual user-triggered refresh resets the operation to zero.
type Scheduler struct {
	cfg Config

	mu  sync.Mutex
	ops map[string]*retryState
}

// NewScheduler creates a scheduler. Zero config fields fall back to defaults.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	return &Scheduler{cfg: cfg, ops: make(map[string]*retryState)}
}

// NextDelay returns the delay before the given attempt of an operation:
// base * 2^attempt, capped at MaxDelay.
func (s *Scheduler) NextDelay(op string, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := s.cfg.BaseDelay << uint(attempt)
	if delay <= 0 || delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}
	return delay
}

// Record registers a failed attempt and returns the attempt number (1-based).
func (s *Scheduler) Record(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.ops[op]
	if !ok {
		st = &retryState{}
		s.ops[op] = st
	}
	st.attempts++
	st.lastAttemptAt = time.Now()
	return st.attempts
}

// Attempts returns the recorded attempt count for an operation.
func (s *Scheduler) Attempts(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.ops[op]; ok {
		return st.attempts
	}
	return 0
}

// ExceededMax reports whether an operation has used up its retry budget.
func (s *Scheduler) ExceededMax(op string) bool {
	return s.Attempts(op) >= s.cfg.MaxAttempts
}

// Reset clears the counter for one operation (manual refresh).
func (s *Scheduler) Reset(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, op)
}

// ResetAll clears every counter (logout).
func (s *Scheduler) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = make(map[string]*retryState)
}

// Wait suspends for the delay of the operation's current attempt. The wait is
// a suspension, not a busy-loop, and honors ctx cancellation.
func (s *Scheduler) Wait(ctx context.Context, op string) error {
	delay := s.NextDelay(op, s.Attempts(op))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
