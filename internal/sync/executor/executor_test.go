package executor

import (
	"context"
	"testing"

	"github.com/movingmountains/driversync/internal/core/domain"
	"github.com/movingmountains/driversync/internal/infra/api"
	"github.com/movingmountains/driversync/internal/sync/classifier"
	"github.com/movingmountains/driversync/internal/sync/events"
)

type mockBackend struct {
	acceptErr   error
	statusErr   error
	completeErr error

	lastStatusReq   api.StatusUpdateRequest
	lastCompleteReq api.CompleteRequest
	acceptCalls     int
}

func (b *mockBackend) AcceptJob(ctx context.Context, jobID int64) (*domain.Job, error) {
	b.acceptCalls++
	if b.acceptErr != nil {
		return nil, b.acceptErr
	}
	return &domain.Job{ID: jobID, Status: domain.StatusAssigned}, nil
}

func (b *mockBackend) UpdateJobStatus(ctx context.Context, jobID int64, req api.StatusUpdateRequest) (*domain.Job, error) {
	b.lastStatusReq = req
	if b.statusErr != nil {
		return nil, b.statusErr
	}
	return &domain.Job{ID: jobID, Status: domain.JobStatus(req.Status)}, nil
}

func (b *mockBackend) CompleteJob(ctx context.Context, jobID int64, req api.CompleteRequest) (*domain.Job, error) {
	b.lastCompleteReq = req
	if b.completeErr != nil {
		return nil, b.completeErr
	}
	return &domain.Job{ID: jobID, Status: domain.StatusCompleted}, nil
}

type mockInvalidator struct {
	calls int
}

func (m *mockInvalidator) Invalidate() { m.calls++ }

func acceptMutation(t *testing.T, jobID int64) *domain.Mutation {
	t.Helper()
	m, err := domain.NewMutation(domain.MutationAcceptJob, jobID, domain.AcceptPayload{JobID: jobID})
	if err != nil {
		t.Fatalf("new mutation: %v", err)
	}
	return m
}

func TestExecuteAcceptSuccess(t *testing.T) {
	backend := &mockBackend{}
	e := New(backend, nil, nil)

	job, cerr := e.Execute(context.Background(), acceptMutation(t, 12))
	if cerr != nil {
		t.Fatalf("unexpected error: %v", cerr)
	}
	if job.ID != 12 {
		t.Errorf("expected job 12, got %d", job.ID)
	}
}

func TestExecuteAcceptConflictPublishesAndNeverRetries(t *testing.T) {
	backend := &mockBackend{acceptErr: &api.HTTPError{Status: 409}}
	bus := events.NewBus()

	var conflicts []events.AcceptConflict
	bus.SubscribeAcceptConflict(func(ev events.AcceptConflict) {
		conflicts = append(conflicts, ev)
	})

	e := New(backend, nil, bus)
	_, cerr := e.Execute(context.Background(), acceptMutation(t, 31))

	if cerr == nil {
		t.Fatal("expected conflict error")
	}
	if cerr.Kind != classifier.KindConflict {
		t.Errorf("expected conflict kind, got %s", cerr.Kind)
	}
	if cerr.Retryable {
		t.Error("a lost accept race must not be retryable")
	}
	if len(conflicts) != 1 || conflicts[0].JobID != 31 {
		t.Fatalf("expected 1 conflict event for job 31, got %v", conflicts)
	}
}

func TestExecuteAuthFailureInvalidatesSession(t *testing.T) {
	backend := &mockBackend{acceptErr: &api.HTTPError{Status: 401}}
	auth := &mockInvalidator{}

	e := New(backend, auth, nil)
	_, cerr := e.Execute(context.Background(), acceptMutation(t, 7))

	if cerr == nil || cerr.Kind != classifier.KindAuth {
		t.Fatalf("expected auth error, got %v", cerr)
	}
	if auth.calls != 1 {
		t.Errorf("expected session invalidated once, got %d", auth.calls)
	}
}

func TestExecuteStatusUpdateCarriesDimensions(t *testing.T) {
	backend := &mockBackend{}
	e := New(backend, nil, nil)

	dims := &domain.PackageDimensions{WeightKG: 45, LengthCM: 120, WidthCM: 80, HeightCM: 100}
	m, err := domain.NewMutation(domain.MutationUpdateStatus, 4, domain.StatusUpdatePayload{
		JobID:      4,
		Status:     domain.StatusPickedUp,
		Dimensions: dims,
	})
	if err != nil {
		t.Fatalf("new mutation: %v", err)
	}

	job, cerr := e.Execute(context.Background(), m)
	if cerr != nil {
		t.Fatalf("unexpected error: %v", cerr)
	}
	if job.Status != domain.StatusPickedUp {
		t.Errorf("expected picked_up, got %s", job.Status)
	}
	if backend.lastStatusReq.Dimensions == nil || backend.lastStatusReq.Dimensions.WeightKG != 45 {
		t.Error("dimensions not forwarded to the backend")
	}
}

func TestExecuteCorruptPayloadIsNotRetryable(t *testing.T) {
	e := New(&mockBackend{}, nil, nil)

	m := &domain.Mutation{
		ID:      "corrupt",
		Kind:    domain.MutationCompleteJob,
		JobID:   3,
		Payload: []byte(`{"jobId": "not a number"`),
	}

	_, cerr := e.Execute(context.Background(), m)
	if cerr == nil {
		t.Fatal("expected error")
	}
	if cerr.Retryable {
		t.Error("a payload that cannot decode must never be retried")
	}
}

func TestExecuteUnknownKind(t *testing.T) {
	e := New(&mockBackend{}, nil, nil)

	m := &domain.Mutation{ID: "x", Kind: "teleportJob", JobID: 1, Payload: []byte(`{}`)}
	_, cerr := e.Execute(context.Background(), m)
	if cerr == nil {
		t.Fatal("expected error for unknown kind")
	}
	if cerr.Retryable {
		t.Error("unknown kinds must not be retried")
	}
}
