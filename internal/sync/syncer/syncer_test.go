package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/movingmountains/driversync/internal/core/domain"
	"github.com/movingmountains/driversync/internal/core/status"
	"github.com/movingmountains/driversync/internal/infra/api"
	"github.com/movingmountains/driversync/internal/infra/storage/memory"
	"github.com/movingmountains/driversync/internal/sync/backoff"
	"github.com/movingmountains/driversync/internal/sync/classifier"
	"github.com/movingmountains/driversync/internal/sync/events"
	"github.com/movingmountains/driversync/internal/sync/queue"
	"github.com/movingmountains/driversync/internal/sync/reachability"
)

// scriptedExecutor answers errors from a per-kind script, then succeeds.
type scriptedExecutor struct {
	mu     sync.Mutex
	script map[domain.MutationKind][]*classifier.Error
	calls  []domain.MutationKind
}

func (e *scriptedExecutor) Execute(ctx context.Context, m *domain.Mutation) (*domain.Job, *classifier.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, m.Kind)

	if pending := e.script[m.Kind]; len(pending) > 0 {
		cerr := pending[0]
		e.script[m.Kind] = pending[1:]
		if cerr != nil {
			return nil, cerr
		}
	}
	return &domain.Job{ID: m.JobID}, nil
}

func (e *scriptedExecutor) callCount(kind domain.MutationKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, k := range e.calls {
		if k == kind {
			n++
		}
	}
	return n
}

type staticLister struct {
	jobs []domain.Job
	err  error
}

func (l *staticLister) GetJobs(ctx context.Context, q api.JobQuery) ([]domain.Job, error) {
	return l.jobs, l.err
}

type fixture struct {
	syncer  *Syncer
	exec    *scriptedExecutor
	queue   *queue.Queue
	reach   *reachability.Monitor
	tracker *status.Tracker
	bus     *events.Bus
	lister  *staticLister
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := events.NewBus()
	exec := &scriptedExecutor{script: map[domain.MutationKind][]*classifier.Error{}}
	f := &fixture{
		exec:    exec,
		queue:   queue.New(memory.NewStore(), bus),
		reach:   reachability.NewMonitor(func(ctx context.Context) bool { return true }, time.Minute),
		tracker: status.NewTracker(bus),
		bus:     bus,
		lister:  &staticLister{},
	}
	f.syncer = New(Deps{
		Queue:     f.queue,
		Executor:  exec,
		Scheduler: backoff.NewScheduler(backoff.Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3}),
		Reach:     f.reach,
		Tracker:   f.tracker,
		Bus:       bus,
		Lister:    f.lister,
	})
	if err := f.syncer.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(f.syncer.Logout)
	return f
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestUpdateStatusConfirmsOptimisticApply(t *testing.T) {
	f := newFixture(t)
	f.tracker.Seed(1, domain.StatusAssigned)

	dims := &domain.PackageDimensions{WeightKG: 1, LengthCM: 1, WidthCM: 1, HeightCM: 1}
	res, err := f.syncer.UpdateStatus(context.Background(), 1, domain.StatusPickedUp, UpdateOptions{Dimensions: dims})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Queued {
		t.Error("expected immediate confirmation while online")
	}
	if got, _ := f.tracker.Status(1); got != domain.StatusPickedUp {
		t.Errorf("expected picked_up confirmed, got %s", got)
	}
}

func TestUpdateStatusRequiresDimensionsForPickup(t *testing.T) {
	f := newFixture(t)
	f.tracker.Seed(1, domain.StatusAssigned)

	_, err := f.syncer.UpdateStatus(context.Background(), 1, domain.StatusPickedUp, UpdateOptions{})
	if !errors.Is(err, ErrDimensionsRequired) {
		t.Fatalf("expected ErrDimensionsRequired, got %v", err)
	}
	if got, _ := f.tracker.Status(1); got != domain.StatusAssigned {
		t.Errorf("status must not move without dimensions, got %s", got)
	}
	if f.exec.callCount(domain.MutationUpdateStatus) != 0 {
		t.Error("nothing should reach the backend")
	}
}

func TestUpdateStatusRollsBackOnRejection(t *testing.T) {
	f := newFixture(t)
	f.tracker.Seed(2, domain.StatusPickedUp)
	f.exec.script[domain.MutationUpdateStatus] = []*classifier.Error{
		{Kind: classifier.KindConflict, Retryable: false, Message: "stale transition"},
	}

	_, err := f.syncer.UpdateStatus(context.Background(), 2, domain.StatusInTransit, UpdateOptions{})
	if err == nil {
		t.Fatal("expected rejection")
	}
	if got, _ := f.tracker.Status(2); got != domain.StatusPickedUp {
		t.Errorf("expected rollback to picked_up, got %s", got)
	}
}

func TestOfflineSubmissionQueuesAndDrainsOnReconnect(t *testing.T) {
	f := newFixture(t)
	f.tracker.Seed(3, domain.StatusPickedUp)
	f.reach.SetOnline(false)

	res, err := f.syncer.UpdateStatus(context.Background(), 3, domain.StatusInTransit, UpdateOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !res.Queued {
		t.Fatal("expected mutation queued while offline")
	}
	if f.exec.callCount(domain.MutationUpdateStatus) != 0 {
		t.Error("no backend call may happen while offline")
	}
	// The projection stays optimistically moved while the mutation waits.
	if got, _ := f.tracker.Status(3); got != domain.StatusInTransit {
		t.Errorf("expected tentative in_transit, got %s", got)
	}

	f.reach.SetOnline(true)

	waitFor(t, func() bool { return !f.queue.HasPending() }, "queue never drained after reconnect")
	waitFor(t, func() bool {
		got, _ := f.tracker.Confirmed(3)
		return got == domain.StatusInTransit
	}, "queued status update never confirmed")
}

func TestOfflineUpdatesChainAndDrainInOrder(t *testing.T) {
	f := newFixture(t)
	f.tracker.Seed(9, domain.StatusAssigned)
	f.reach.SetOnline(false)

	dims := &domain.PackageDimensions{WeightKG: 2, LengthCM: 40, WidthCM: 30, HeightCM: 20}
	steps := []struct {
		to   domain.JobStatus
		opts UpdateOptions
	}{
		{domain.StatusPickedUp, UpdateOptions{Dimensions: dims}},
		{domain.StatusInTransit, UpdateOptions{}},
		{domain.StatusDelivered, UpdateOptions{}},
	}
	for _, step := range steps {
		res, err := f.syncer.UpdateStatus(context.Background(), 9, step.to, step.opts)
		if err != nil {
			t.Fatalf("offline update to %s: %v", step.to, err)
		}
		if !res.Queued {
			t.Fatalf("expected update to %s queued while offline", step.to)
		}
	}

	// The whole disconnected trip is stacked locally and parked durably.
	if got, _ := f.tracker.Status(9); got != domain.StatusDelivered {
		t.Errorf("optimistic status = %s, want delivered", got)
	}
	if f.queue.Len() != 3 {
		t.Fatalf("expected 3 queued updates, got %d", f.queue.Len())
	}

	f.reach.SetOnline(true)

	waitFor(t, func() bool { return !f.queue.HasPending() }, "queue never drained after reconnect")
	waitFor(t, func() bool {
		got, _ := f.tracker.Confirmed(9)
		return got == domain.StatusDelivered
	}, "stacked updates never confirmed in order")
}

func TestDrainRejectionRollsBackPendingChain(t *testing.T) {
	f := newFixture(t)
	f.tracker.Seed(11, domain.StatusPickedUp)
	f.reach.SetOnline(false)

	for _, to := range []domain.JobStatus{domain.StatusInTransit, domain.StatusDelivered} {
		if _, err := f.syncer.UpdateStatus(context.Background(), 11, to, UpdateOptions{}); err != nil {
			t.Fatalf("offline update to %s: %v", to, err)
		}
	}
	f.exec.script[domain.MutationUpdateStatus] = []*classifier.Error{
		{Kind: classifier.KindConflict, Retryable: false, Message: "stale transition"},
		{Kind: classifier.KindConflict, Retryable: false, Message: "stale transition"},
	}

	f.reach.SetOnline(true)

	waitFor(t, func() bool { return !f.queue.HasPending() }, "queue never drained")
	// The oldest pending transition was refused, so the chain built on it
	// reverts with it.
	waitFor(t, func() bool {
		got, _ := f.tracker.Status(11)
		return got == domain.StatusPickedUp
	}, "rejected chain never rolled back")
}

func TestRetryExhaustionParksMutation(t *testing.T) {
	f := newFixture(t)
	f.exec.script[domain.MutationAcceptJob] = []*classifier.Error{
		{Kind: classifier.KindServerFault, Retryable: true},
		{Kind: classifier.KindServerFault, Retryable: true},
		{Kind: classifier.KindServerFault, Retryable: true},
		{Kind: classifier.KindServerFault, Retryable: true},
	}

	res, err := f.syncer.AcceptJob(context.Background(), 8)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !res.Queued {
		t.Fatal("expected exhausted mutation parked in the queue")
	}
	if f.queue.Len() != 1 {
		t.Errorf("expected 1 queued mutation, got %d", f.queue.Len())
	}
}

func TestOfflineClassificationFlipsMonitor(t *testing.T) {
	f := newFixture(t)
	f.exec.script[domain.MutationAcceptJob] = []*classifier.Error{
		{Kind: classifier.KindOffline, Retryable: true, Message: "connection refused"},
	}

	res, err := f.syncer.AcceptJob(context.Background(), 4)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !res.Queued {
		t.Fatal("expected mutation queued")
	}
	if f.reach.IsOnline() {
		t.Error("an offline classification must flip the monitor")
	}
	if f.exec.callCount(domain.MutationAcceptJob) != 1 {
		t.Error("offline failures must not spin retries")
	}
}

func TestAcceptConflictSurfacesWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.exec.script[domain.MutationAcceptJob] = []*classifier.Error{
		{Kind: classifier.KindConflict, Retryable: false, Message: "Job #5 has already been claimed by another driver"},
	}

	_, err := f.syncer.AcceptJob(context.Background(), 5)
	var cerr *classifier.Error
	if !errors.As(err, &cerr) || cerr.Kind != classifier.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.exec.callCount(domain.MutationAcceptJob) != 1 {
		t.Error("a lost accept race must not be retried")
	}
	if f.queue.Len() != 0 {
		t.Error("a lost accept race must not be queued")
	}
}

func TestFetchJobsSeedsTracker(t *testing.T) {
	f := newFixture(t)
	f.lister.jobs = []domain.Job{
		{ID: 1, Status: domain.StatusAssigned},
		{ID: 2, Status: domain.StatusInTransit},
	}

	jobs, err := f.syncer.FetchJobs(context.Background(), api.JobQuery{}, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if got, ok := f.tracker.Status(2); !ok || got != domain.StatusInTransit {
		t.Errorf("expected tracker seeded with in_transit, got %s", got)
	}
}

func TestFetchJobsReturnsNonRetryableImmediately(t *testing.T) {
	f := newFixture(t)
	f.lister.err = &api.HTTPError{Status: 403}

	_, err := f.syncer.FetchJobs(context.Background(), api.JobQuery{}, false)
	var cerr *classifier.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if cerr.Retryable {
		t.Error("a 403 must not be retried")
	}
}

func TestLogoutCancelsButKeepsQueue(t *testing.T) {
	f := newFixture(t)
	f.reach.SetOnline(false)

	res, err := f.syncer.AcceptJob(context.Background(), 6)
	if err != nil || !res.Queued {
		t.Fatalf("expected queued accept, got res=%v err=%v", res, err)
	}

	f.syncer.Logout()

	// The durable queue outlives the session.
	if f.queue.Len() != 1 {
		t.Errorf("expected queued mutation to survive logout, got %d", f.queue.Len())
	}
	if _, ok := f.tracker.Status(6); ok {
		t.Error("expected tracker cleared on logout")
	}
}
