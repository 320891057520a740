// Package executor submits single mutations to the backend and interprets
// the outcome through the error classifier.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/movingmountains/driversync/internal/core/domain"
	"github.com/movingmountains/driversync/internal/infra/api"
	"github.com/movingmountains/driversync/internal/sync/classifier"
	"github.com/movingmountains/driversync/internal/sync/events"
	"github.com/movingmountains/driversync/internal/sync/metrics"
)

// Backend is the slice of the API client the executor needs.
type Backend interface {
	AcceptJob(ctx context.Context, jobID int64) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID int64, req api.StatusUpdateRequest) (*domain.Job, error)
	CompleteJob(ctx context.Context, jobID int64, req api.CompleteRequest) (*domain.Job, error)
}

// SessionInvalidator is notified when the backend rejects our credentials.
type SessionInvalidator interface {
	Invalidate()
}

// Executor decodes a mutation's payload, calls the backend, and classifies
// any failure exactly once. The queued payload is always decoded, then
// called, then removed by the caller on success — never dropped uncalled.
type Executor struct {
	backend Backend
	auth    SessionInvalidator
	bus     *events.Bus
	log     *slog.Logger
}

// New creates an executor. auth may be nil when no session handling exists.
func New(backend Backend, auth SessionInvalidator, bus *events.Bus) *Executor {
	return &Executor{
		backend: backend,
		auth:    auth,
		bus:     bus,
		log:     slog.Default().With("component", "executor"),
	}
}

// Execute submits one mutation. On failure it returns the classified error;
// the caller decides between commit, requeue and permanent rejection.
func (e *Executor) Execute(ctx context.Context, m *domain.Mutation) (*domain.Job, *classifier.Error) {
	job, err := e.call(ctx, m)
	if err == nil {
		metrics.APIRequests.WithLabelValues(string(m.Kind), "success").Inc()
		return job, nil
	}

	cerr := classifier.Classify(err, classifier.Context{
		JobID:     m.JobID,
		Operation: string(m.Kind),
	})
	metrics.APIRequests.WithLabelValues(string(m.Kind), string(cerr.Kind)).Inc()

	// Classification is pure; side effects happen here.
	if cerr.Kind == classifier.KindAuth && e.auth != nil {
		e.log.Warn("Session rejected by backend, invalidating", "job", m.JobID)
		e.auth.Invalidate()
	}

	// Losing the accept race is expected behavior, not an anomaly: the job
	// belongs to another driver now. Announce it so the available-list
	// projection prunes the stale entry; never retry.
	if m.Kind == domain.MutationAcceptJob && cerr.Kind == classifier.KindConflict {
		e.log.Info("Job already accepted by another driver", "job", m.JobID)
		if e.bus != nil {
			e.bus.PublishAcceptConflict(events.AcceptConflict{
				JobID:   m.JobID,
				Message: cerr.Message,
			})
		}
	}

	return nil, cerr
}

func (e *Executor) call(ctx context.Context, m *domain.Mutation) (*domain.Job, error) {
	switch m.Kind {
	case domain.MutationAcceptJob:
		var p domain.AcceptPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, &api.DecodeError{Err: err}
		}
		return e.backend.AcceptJob(ctx, p.JobID)

	case domain.MutationUpdateStatus:
		var p domain.StatusUpdatePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, &api.DecodeError{Err: err}
		}
		return e.backend.UpdateJobStatus(ctx, p.JobID, api.StatusUpdateRequest{
			Status:     string(p.Status),
			Notes:      p.Notes,
			Photos:     p.Photos,
			Dimensions: p.Dimensions,
		})

	case domain.MutationCompleteJob:
		var p domain.CompletePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, &api.DecodeError{Err: err}
		}
		return e.backend.CompleteJob(ctx, p.JobID, api.CompleteRequest{
			Notes:  p.Notes,
			Photos: p.Photos,
		})

	default:
		return nil, fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}
