// Package lifecycle is the single orchestrator service behind the job
// admission and cancel endpoints, per spec.md §4.11 / §4.7: authenticate
// has already happened upstream in internal/security; this package
// picks up from quota check through dispatch and response, with a
// compensating FAILED transition if dispatch never succeeds. It mirrors
// the teacher's constructor-composed, dependency-injection-free style
// (cmd/server/main.go wires concrete structs directly, no container).
package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/brainhub-io/gateway/internal/apperr"
	"github.com/brainhub-io/gateway/internal/dispatch"
	"github.com/brainhub-io/gateway/internal/jobs"
	"github.com/brainhub-io/gateway/internal/quota"
	"github.com/brainhub-io/gateway/internal/trace"
)

// SubmitRequest is the validated admission-layer request body for
// POST /applications.
type SubmitRequest struct {
	JDURL         string
	ResumeURI     string
	ModelProvider string
	ModelName     string
	Priority      jobs.Priority
}

// Service composes the job repository, quota enforcement, and dispatch
// gateway into the admit/cancel operations spec.md §4.11 describes.
type Service struct {
	repo  *jobs.Repository
	quota *quota.Service
	gw    *dispatch.Gateway
}

func NewService(repo *jobs.Repository, quotaSvc *quota.Service, gw *dispatch.Gateway) *Service {
	return &Service{repo: repo, quota: quotaSvc, gw: gw}
}

// Submit runs quota -> create(PENDING) -> dispatch -> response. A
// dispatch failure after the PENDING row is already durable transitions
// the job straight to FAILED rather than leaving an orphaned PENDING
// row nothing will ever pick up, per spec.md §4.11's compensating
// transition.
func (s *Service) Submit(ctx context.Context, subjectID string, req SubmitRequest) (*jobs.Job, error) {
	if req.Priority == "" {
		req.Priority = jobs.PriorityNormal
	}

	if err := validateSubmitRequest(req); err != nil {
		return nil, err
	}

	if err := s.quota.Check(ctx, subjectID); err != nil {
		return nil, err
	}

	job := &jobs.Job{
		SubjectID:     subjectID,
		JDURL:         req.JDURL,
		ResumeURI:     req.ResumeURI,
		ModelProvider: req.ModelProvider,
		ModelName:     req.ModelName,
		Priority:      req.Priority,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	descriptor := dispatch.JobDescriptor{
		JobID:         job.ID,
		ResumeURI:     job.ResumeURI,
		JDURL:         job.JDURL,
		ModelProvider: job.ModelProvider,
		ModelName:     job.ModelName,
		SubjectID:     job.SubjectID,
		TraceID:       trace.CorrelationID(ctx),
		Priority:      job.Priority,
	}

	if err := s.gw.Publish(ctx, descriptor); err != nil {
		reason := fmt.Sprintf("dispatch failed: %v", apperr.KindOf(err))
		if _, ferr := s.repo.Transition(ctx, job.ID, job.Version, jobs.StatusPending, jobs.StatusFailed, jobs.Patch{
			FailureReason: &reason,
		}); ferr != nil {
			log.Error().Err(ferr).Str("job_id", job.ID.String()).Msg("failed to record compensating FAILED transition")
		}
		return nil, err
	}

	s.quota.RecordUsage(ctx, subjectID, 1)
	return job, nil
}

// Cancel transitions a job owned by subjectID to CANCELLED and notifies
// the worker, per spec.md §4.11's cancel path. Cancelling a job already
// in a terminal state returns ErrConflict, which the handler maps to a
// 409 the client can safely ignore or retry as a no-op check.
func (s *Service) Cancel(ctx context.Context, subjectID string, jobID uuid.UUID) (*jobs.Job, error) {
	current, err := s.repo.Get(ctx, jobID, subjectID, true)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, jobs.ErrConflict
	}

	updated, err := s.repo.Transition(ctx, jobID, current.Version, current.Status, jobs.StatusCancelled, jobs.Patch{})
	if err != nil {
		return nil, err
	}

	if err := s.gw.PublishCancel(ctx, jobID.String()); err != nil {
		log.Warn().Err(err).Str("job_id", jobID.String()).Msg("failed to publish cancel control message, worker will observe DB state on next poll")
	}

	return updated, nil
}
