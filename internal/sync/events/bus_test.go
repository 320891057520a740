package events

import (
	"testing"

	"github.com/movingmountains/driversync/internal/core/domain"
)

func TestStatusChangedFanOut(t *testing.T) {
	bus := NewBus()

	var first, second []StatusChanged
	bus.SubscribeStatusChanged(func(ev StatusChanged) { first = append(first, ev) })
	bus.SubscribeStatusChanged(func(ev StatusChanged) { second = append(second, ev) })

	bus.PublishStatusChanged(StatusChanged{JobID: 1, NewStatus: domain.StatusPickedUp})

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected both subscribers notified, got %d and %d", len(first), len(second))
	}
	if first[0].NewStatus != domain.StatusPickedUp {
		t.Errorf("unexpected status: %s", first[0].NewStatus)
	}
}

func TestEventTypesAreIndependent(t *testing.T) {
	bus := NewBus()

	var conflicts int
	bus.SubscribeAcceptConflict(func(AcceptConflict) { conflicts++ })

	bus.PublishStatusChanged(StatusChanged{JobID: 2, NewStatus: domain.StatusDelivered})
	bus.PublishMutationRejected(MutationRejected{Message: "dropped"})

	if conflicts != 0 {
		t.Errorf("conflict subscriber fired for unrelated events: %d", conflicts)
	}

	bus.PublishAcceptConflict(AcceptConflict{JobID: 2, Message: "claimed"})
	if conflicts != 1 {
		t.Errorf("expected 1 conflict, got %d", conflicts)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	bus.PublishStatusChanged(StatusChanged{JobID: 1})
	bus.PublishAcceptConflict(AcceptConflict{JobID: 1})
	bus.PublishMutationRejected(MutationRejected{})
}
