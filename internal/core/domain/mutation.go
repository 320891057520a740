package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MutationKind identifies the backend operation a pending mutation performs.
// The string values double as the persisted actionType.
type MutationKind string

const (
	MutationAcceptJob    MutationKind = "acceptJob"
	MutationUpdateStatus MutationKind = "updateJobStatus"
	MutationCompleteJob  MutationKind = "completeJob"
)

// Valid reports whether k is a known mutation kind.
func (k MutationKind) Valid() bool {
	switch k {
	case MutationAcceptJob, MutationUpdateStatus, MutationCompleteJob:
		return true
	}
	return false
}

// Mutation is a single pending state-changing request awaiting backend
// confirmation. Kind, JobID and Payload are fixed at creation; only
// AttemptCount changes afterwards.
type Mutation struct {
	ID           string          `json:"id"`
	Kind         MutationKind    `json:"actionType"`
	JobID        int64           `json:"jobId"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"timestamp"`
	AttemptCount int             `json:"-"`
}

// NewMutation creates a mutation with a fresh ID and the payload encoded.
func NewMutation(kind MutationKind, jobID int64, payload any) (*Mutation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown mutation kind %q", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &Mutation{
		ID:        uuid.NewString(),
		Kind:      kind,
		JobID:     jobID,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// AcceptPayload is the body of an acceptJob mutation.
type AcceptPayload struct {
	JobID int64 `json:"jobId"`
}

// StatusUpdatePayload is the body of an updateJobStatus mutation.
type StatusUpdatePayload struct {
	JobID      int64              `json:"jobId"`
	Status     JobStatus          `json:"status"`
	Notes      string             `json:"notes,omitempty"`
	Dimensions *PackageDimensions `json:"dimensions,omitempty"`
	Photos     []string           `json:"photos,omitempty"`
}

// CompletePayload is the body of a completeJob mutation.
type CompletePayload struct {
	JobID  int64    `json:"jobId"`
	Notes  string   `json:"notes,omitempty"`
	Photos []string `json:"photos,omitempty"`
}
