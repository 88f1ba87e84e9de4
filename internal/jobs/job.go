// Package jobs owns the Job entity: its state machine, the repository
// that persists it through the data-routing writer/reader faces, and
// optimistic-concurrency transitions. It generalizes the teacher's
// per-entity CRUD pattern (internal/service/syncservice/*_service.go in
// the source repo) from many synced entity kinds into a single job
// aggregate with an explicit transition DAG.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Status is one of the five points in the job lifecycle DAG.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Priority is the dispatch queue family a job routes to.
type Priority string

const (
	PriorityExpress Priority = "EXPRESS"
	PriorityHigh    Priority = "HIGH"
	PriorityNormal  Priority = "NORMAL"
	PriorityLow     Priority = "LOW"
)

// transitions enumerates the legal successors of each status, per
// spec.md §3: PENDING -> {PROCESSING, CANCELLED, FAILED},
// PROCESSING -> {COMPLETED, FAILED, CANCELLED}; terminal states have none.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCancelled:  true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// IsTerminal reports whether a status has no further legal transitions.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether from -> to is a legal edge in the DAG.
func CanTransition(from, to Status) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Job is the central entity owned by the gateway core.
type Job struct {
	ID               uuid.UUID
	SubjectID        string
	SubmittedAt      time.Time
	JDURL            string
	ResumeURI        string
	ModelProvider    string
	ModelName        string
	Status           Status
	Priority         Priority
	Version          int
	UpdatedAt        time.Time
	ArtifactRef      *string
	FailureReason    *string
}

// validateInvariants checks the structural invariants from spec.md §3:
// artifact ref set iff COMPLETED, failure reason set iff FAILED.
func (j *Job) validateInvariants() error {
	hasArtifact := j.ArtifactRef != nil && *j.ArtifactRef != ""
	hasFailure := j.FailureReason != nil && *j.FailureReason != ""

	if hasArtifact && j.Status != StatusCompleted {
		return errInvariant("artifact reference set on non-COMPLETED job")
	}
	if j.Status == StatusCompleted && !hasArtifact {
		return errInvariant("COMPLETED job missing artifact reference")
	}
	if hasFailure && j.Status != StatusFailed {
		return errInvariant("failure reason set on non-FAILED job")
	}
	if j.Status == StatusFailed && !hasFailure {
		return errInvariant("FAILED job missing failure reason")
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
