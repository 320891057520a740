// Package status defines the job status state machine. The pipeline is
// strictly linear: at most one forward transition is ever legal, nothing
// skips a state or moves backward.
package status

import (
	"github.com/movingmountains/driversync/internal/core/domain"
)

// pipeline is the ordered set of driver-facing statuses.
var pipeline = []domain.JobStatus{
	domain.StatusApproved,
	domain.StatusAssigned,
	domain.StatusPickedUp,
	domain.StatusInTransit,
	domain.StatusDelivered,
}

// LegalNext returns the single legal next status for current, or false when
// current is terminal or outside the pipeline.
func LegalNext(current domain.JobStatus) (domain.JobStatus, bool) {
	for i, s := range pipeline {
		if s == current {
			if i+1 < len(pipeline) {
				return pipeline[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is the one legal forward step.
func CanTransition(from, to domain.JobStatus) bool {
	next, ok := LegalNext(from)
	return ok && next == to
}

// Terminal reports whether s ends the pipeline.
func Terminal(s domain.JobStatus) bool {
	return s == domain.StatusDelivered
}

// RequiresDimensions reports whether the transition needs a completed
// package-dimensions capture attached to the same mutation. Only pickup
// does: weight and measurements are recorded when the driver takes custody.
func RequiresDimensions(from, to domain.JobStatus) bool {
	return from == domain.StatusAssigned && to == domain.StatusPickedUp
}
