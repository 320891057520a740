// Package syncer orchestrates the offline-tolerant mutation pipeline:
// optimistic local apply, immediate submission when online, retry with
// backoff, durable queueing, and reachability-driven replay.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/movingmountains/driversync/internal/core/domain"
	"github.com/movingmountains/driversync/internal/core/status"
	"github.com/movingmountains/driversync/internal/infra/api"
	"github.com/movingmountains/driversync/internal/sync/backoff"
	"github.com/movingmountains/driversync/internal/sync/classifier"
	"github.com/movingmountains/driversync/internal/sync/events"
	"github.com/movingmountains/driversync/internal/sync/metrics"
	"github.com/movingmountains/driversync/internal/sync/queue"
	"github.com/movingmountains/driversync/internal/sync/reachability"
)

// ErrDimensionsRequired is returned when a pickup transition is submitted
// without a completed package-dimensions capture.
var ErrDimensionsRequired = fmt.Errorf("package dimensions must be captured before pickup")

// Lister fetches job projections; the list path shares the syncer's backoff
// counters so a manual refresh resets them.
type Lister interface {
	GetJobs(ctx context.Context, q api.JobQuery) ([]domain.Job, error)
}

// Deps wires the syncer's collaborators; each is constructed once at startup
// and passed in explicitly.
type Deps struct {
	Queue     *queue.Queue
	Executor  queue.Executor
	Scheduler *backoff.Scheduler
	Reach     *reachability.Monitor
	Tracker   *status.Tracker
	Bus       *events.Bus
	Lister    Lister
}

// Syncer is the single entry point UI code uses to mutate jobs.
type Syncer struct {
	deps Deps
	log  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	runCtx  context.Context
	started bool

	wg sync.WaitGroup
}

// New creates a syncer; Start must be called before submitting mutations.
func New(deps Deps) *Syncer {
	return &Syncer{
		deps: deps,
		log:  slog.Default().With("component", "syncer"),
	}
}

// UpdateOptions carries the optional fields of a status-update submission.
type UpdateOptions struct {
	Notes      string
	Dimensions *domain.PackageDimensions
	Photos     []string
}

// Result reports how a submission ended: confirmed now, or parked in the
// pending queue awaiting connectivity.
type Result struct {
	Job    *domain.Job
	Queued bool
}

// Start rehydrates the queue and begins reacting to reachability changes.
// Rehydration completes before any new mutation may be enqueued.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	if err := s.deps.Queue.Load(runCtx); err != nil {
		return fmt.Errorf("rehydrate queue: %w", err)
	}

	// The monitor announces; the syncer acts.
	s.deps.Reach.Subscribe(func(online bool) {
		if online {
			metrics.Online.Set(1)
			s.log.Info("Back online, draining pending mutations")
			s.drainAsync()
		} else {
			metrics.Online.Set(0)
			s.log.Info("Connection lost, mutations will queue")
		}
	})

	if s.deps.Reach.IsOnline() {
		metrics.Online.Set(1)
		if s.deps.Queue.HasPending() {
			s.drainAsync()
		}
	} else {
		metrics.Online.Set(0)
	}
	return nil
}

// AcceptJob claims an available job. A lost race surfaces as a Conflict and
// is never retried; the available-list projection is pruned via the bus.
func (s *Syncer) AcceptJob(ctx context.Context, jobID int64) (*Result, error) {
	m, err := domain.NewMutation(domain.MutationAcceptJob, jobID, domain.AcceptPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, m, "acceptJob")
}

// UpdateStatus advances a job through the pipeline. The local projection
// moves immediately; backend rejection rolls it back.
func (s *Syncer) UpdateStatus(ctx context.Context, jobID int64, to domain.JobStatus, opts UpdateOptions) (*Result, error) {
	from, ok := s.deps.Tracker.Status(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", status.ErrUnknownJob, jobID)
	}
	if status.RequiresDimensions(from, to) && !opts.Dimensions.Complete() {
		return nil, ErrDimensionsRequired
	}

	if err := s.deps.Tracker.TentativeApply(jobID, to); err != nil {
		return nil, err
	}

	m, err := domain.NewMutation(domain.MutationUpdateStatus, jobID, domain.StatusUpdatePayload{
		JobID:      jobID,
		Status:     to,
		Notes:      opts.Notes,
		Dimensions: opts.Dimensions,
		Photos:     opts.Photos,
	})
	if err != nil {
		s.deps.Tracker.RollbackNewest(jobID)
		return nil, err
	}

	res, err := s.submitTracked(ctx, m, "updateJobStatus")
	return res, err
}

// CompleteJob closes out a delivered job with optional notes and photos.
func (s *Syncer) CompleteJob(ctx context.Context, jobID int64, notes string, photos []string) (*Result, error) {
	m, err := domain.NewMutation(domain.MutationCompleteJob, jobID, domain.CompletePayload{
		JobID:  jobID,
		Notes:  notes,
		Photos: photos,
	})
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, m, "completeJob")
}

// FetchJobs lists jobs with retry. A manual refresh (manual=true) resets the
// operation's backoff counter first.
func (s *Syncer) FetchJobs(ctx context.Context, q api.JobQuery, manual bool) ([]domain.Job, error) {
	const op = "fetchJobs"
	if manual {
		s.deps.Scheduler.Reset(op)
	}

	for {
		jobs, err := s.deps.Lister.GetJobs(ctx, q)
		if err == nil {
			s.deps.Scheduler.Reset(op)
			for i := range jobs {
				s.deps.Tracker.Seed(jobs[i].ID, jobs[i].Status)
			}
			return jobs, nil
		}

		cerr := classifier.Classify(err, classifier.Context{Operation: op})
		if !cerr.Retryable || s.deps.Scheduler.ExceededMax(op) {
			return nil, cerr
		}
		s.deps.Scheduler.Record(op)
		if werr := s.deps.Scheduler.Wait(ctx, op); werr != nil {
			return nil, werr
		}
	}
}

// submitTracked is submit plus confirm/rollback of the optimistic status.
func (s *Syncer) submitTracked(ctx context.Context, m *domain.Mutation, op string) (*Result, error) {
	res, err := s.submit(ctx, m, op)
	switch {
	case err != nil:
		// Terminal rejection: the backend refused this transition, so only
		// it reverts; earlier queued transitions stay pending.
		s.deps.Tracker.RollbackNewest(m.JobID)
		return nil, err
	case res.Queued:
		// Still tentative until the queued mutation confirms during drain.
		return res, nil
	default:
		s.deps.Tracker.Confirm(m.JobID)
		return res, nil
	}
}

// submit tries the mutation immediately when online, retrying retryable
// failures up to the backoff cap; exhaustion or offline parks it in the
// durable queue. Non-retryable failures are returned to the caller.
func (s *Syncer) submit(ctx context.Context, m *domain.Mutation, op string) (*Result, error) {
	if !s.deps.Reach.IsOnline() {
		if err := s.deps.Queue.Enqueue(ctx, m); err != nil {
			return nil, err
		}
		return &Result{Queued: true}, nil
	}

	for {
		job, cerr := s.deps.Executor.Execute(ctx, m)
		if cerr == nil {
			s.deps.Scheduler.Reset(op)
			metrics.MutationsConfirmed.WithLabelValues(string(m.Kind)).Inc()
			return &Result{Job: job}, nil
		}

		m.AttemptCount++

		if !cerr.Retryable {
			metrics.MutationsRejected.WithLabelValues(string(m.Kind), string(cerr.Kind)).Inc()
			return nil, cerr
		}

		if cerr.Kind == classifier.KindOffline {
			s.deps.Reach.SetOnline(false)
			break
		}
		if s.deps.Scheduler.ExceededMax(op) {
			s.log.Warn("Retry budget exhausted, queueing mutation",
				"op", op, "job", m.JobID, "attempts", m.AttemptCount)
			break
		}

		s.deps.Scheduler.Record(op)
		if werr := s.deps.Scheduler.Wait(ctx, op); werr != nil {
			return nil, werr
		}
	}

	if err := s.deps.Queue.Enqueue(ctx, m); err != nil {
		return nil, err
	}
	return &Result{Queued: true}, nil
}

// Drain replays the pending queue now. Safe to call at any time; concurrent
// or offline drains are no-ops.
func (s *Syncer) Drain(ctx context.Context) error {
	err := s.deps.Queue.Drain(ctx, s.trackedExecutor(), s.deps.Reach.IsOnline)
	if cerr, ok := err.(*classifier.Error); ok && cerr.Retryable {
		// Paused on a stuck head; try again after a backoff delay.
		s.deps.Scheduler.Record("drain")
		if !s.deps.Scheduler.ExceededMax("drain") {
			s.redrainLater(ctx)
			return nil
		}
		s.deps.Scheduler.Reset("drain")
		return cerr
	}
	if err == nil {
		s.deps.Scheduler.Reset("drain")
	}
	return err
}

func (s *Syncer) drainAsync() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Drain(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("Queue drain failed", "error", err)
		}
	}()
}

func (s *Syncer) redrainLater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.deps.Scheduler.Wait(ctx, "drain"); err != nil {
			return
		}
		if err := s.Drain(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("Queue redrain failed", "error", err)
		}
	}()
}

// trackedExecutor wraps the executor so that confirmed queued mutations also
// advance the status projection and rejected ones roll it back. A drain
// rejection hits the oldest pending transition, which invalidates the whole
// chain stacked on it.
func (s *Syncer) trackedExecutor() queue.Executor {
	return execFunc(func(ctx context.Context, m *domain.Mutation) (*domain.Job, *classifier.Error) {
		job, cerr := s.deps.Executor.Execute(ctx, m)
		if m.Kind == domain.MutationUpdateStatus {
			switch {
			case cerr == nil:
				s.deps.Tracker.Confirm(m.JobID)
			case !cerr.Retryable:
				s.deps.Tracker.Rollback(m.JobID)
			}
		}
		if cerr == nil {
			metrics.MutationsConfirmed.WithLabelValues(string(m.Kind)).Inc()
		}
		return job, cerr
	})
}

type execFunc func(ctx context.Context, m *domain.Mutation) (*domain.Job, *classifier.Error)

func (f execFunc) Execute(ctx context.Context, m *domain.Mutation) (*domain.Job, *classifier.Error) {
	return f(ctx, m)
}

// Logout atomically stops all in-flight retries and clears queue-derived UI
// state. The durable queue blob survives: a queued mutation persists until
// it succeeds or terminally fails.
func (s *Syncer) Logout() {
	s.mu.Lock()
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.deps.Scheduler.ResetAll()
	s.deps.Tracker.Clear()
	s.log.Info("Logged out, in-flight retries cancelled")
}

// Stop is Logout plus a grace period for observability consumers.
func (s *Syncer) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Logout()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
