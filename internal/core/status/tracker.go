package status

import (
	"errors"
	"fmt"
	"sync"

	"github.com/movingmountains/driversync/internal/core/domain"
	"github.com/movingmountains/driversync/internal/sync/events"
)

var (
	// ErrIllegalTransition is returned for anything but the one legal step.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrUnknownJob is returned for jobs the tracker has not seen.
	ErrUnknownJob = errors.New("unknown job")
)

// jobState is the optimistic projection of a single job's status: the last
// backend-confirmed status plus the ordered chain of tentative transitions
// awaiting confirmation. Several transitions stack up while offline; the
// pending queue replays them in the same order.
type jobState struct {
	confirmed domain.JobStatus
	pending   []domain.JobStatus
}

// optimistic returns the status the UI should show: the newest pending
// transition when any exist, otherwise the confirmed one.
func (st jobState) optimistic() domain.JobStatus {
	if n := len(st.pending); n > 0 {
		return st.pending[n-1]
	}
	return st.confirmed
}

// tentativeApply validates the transition against the optimistic head and
// appends it to the pending chain.
func tentativeApply(st jobState, to domain.JobStatus) (jobState, error) {
	from := st.optimistic()
	if !CanTransition(from, to) {
		return st, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	st.pending = append(append([]domain.JobStatus(nil), st.pending...), to)
	return st, nil
}

// confirm promotes the oldest pending transition to confirmed.
func confirm(st jobState) jobState {
	if len(st.pending) > 0 {
		st.confirmed = st.pending[0]
		st.pending = append([]domain.JobStatus(nil), st.pending[1:]...)
	}
	return st
}

// rollback drops every pending transition. Once the backend rejects the
// oldest, everything chained on it is invalid too.
func rollback(st jobState) jobState {
	st.pending = nil
	return st
}

// rollbackNewest drops only the most recent pending transition, for a
// submission rejected before anything newer chained on it.
func rollbackNewest(st jobState) jobState {
	if n := len(st.pending); n > 0 {
		st.pending = append([]domain.JobStatus(nil), st.pending[:n-1]...)
	}
	return st
}

// Tracker owns the local job status projections. Status is advanced
// optimistically on submit and rolled back if the backend rejects the
// transition; no transition is final until backend confirmation.
type Tracker struct {
	mu   sync.Mutex
	jobs map[int64]jobState
	bus  *events.Bus
}

// NewTracker creates a tracker publishing confirmed transitions to bus.
func NewTracker(bus *events.Bus) *Tracker {
	return &Tracker{jobs: make(map[int64]jobState), bus: bus}
}

// Seed records the backend-confirmed status of a job, e.g. from a list
// fetch. It never overwrites pending tentative transitions.
func (t *Tracker) Seed(jobID int64, s domain.JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if ok && len(st.pending) > 0 {
		return
	}
	st.confirmed = s
	t.jobs[jobID] = st
}

// TentativeApply optimistically advances the local status. The backend has
// not confirmed anything yet; a disconnected driver may stack several
// transitions on one job and they confirm in order as the queue drains.
func (t *Tracker) TentativeApply(jobID int64, to domain.JobStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownJob, jobID)
	}
	next, err := tentativeApply(st, to)
	if err != nil {
		return err
	}
	t.jobs[jobID] = next
	return nil
}

// Confirm finalizes the oldest pending transition and publishes the change.
func (t *Tracker) Confirm(jobID int64) {
	t.mu.Lock()
	st, ok := t.jobs[jobID]
	if !ok || len(st.pending) == 0 {
		t.mu.Unlock()
		return
	}
	next := confirm(st)
	t.jobs[jobID] = next
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.PublishStatusChanged(events.StatusChanged{JobID: jobID, NewStatus: next.confirmed})
	}
}

// Rollback drops the whole pending chain after the backend rejects the
// oldest queued transition.
func (t *Tracker) Rollback(jobID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return
	}
	t.jobs[jobID] = rollback(st)
}

// RollbackNewest reverts only the most recent tentative transition, after an
// immediate submission was rejected.
func (t *Tracker) RollbackNewest(jobID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return
	}
	t.jobs[jobID] = rollbackNewest(st)
}

// Status returns the optimistic projection: the newest pending transition
// when any exist, otherwise the confirmed one.
func (t *Tracker) Status(jobID int64) (domain.JobStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return "", false
	}
	return st.optimistic(), true
}

// Confirmed returns the last backend-confirmed status.
func (t *Tracker) Confirmed(jobID int64) (domain.JobStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[jobID]
	if !ok {
		return "", false
	}
	return st.confirmed, true
}

// Forget drops a job from the tracker (e.g. lost accept race).
func (t *Tracker) Forget(jobID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jobID)
}

// Clear drops every projection (logout).
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs = make(map[int64]jobState)
}
