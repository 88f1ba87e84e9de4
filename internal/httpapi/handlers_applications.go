package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brainhub-io/gateway/internal/apperr"
	"github.com/brainhub-io/gateway/internal/jobs"
	"github.com/brainhub-io/gateway/internal/lifecycle"
	"github.com/brainhub-io/gateway/internal/security"
)

type submitRequest struct {
	JDURL         string `json:"jd_url"`
	ResumeURI     string `json:"resume_uri"`
	ModelProvider string `json:"model_provider"`
	ModelName     string `json:"model_name"`
	Priority      string `json:"priority,omitempty"`
}

type jobResponse struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	Priority      string  `json:"priority"`
	SubmittedAt   string  `json:"submitted_at"`
	ArtifactRef   *string `json:"artifact_ref,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

func toJobResponse(j *jobs.Job) jobResponse {
	return jobResponse{
		JobID:         j.ID.String(),
		Status:        string(j.Status),
		Priority:      string(j.Priority),
		SubmittedAt:   j.SubmittedAt.Format("2006-01-02T15:04:05Z07:00"),
		ArtifactRef:   j.ArtifactRef,
		FailureReason: j.FailureReason,
	}
}

// SubmitApplication is POST /applications: quota check, create PENDING
// job, dispatch, respond, per spec.md §4.11.
func (s *Server) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.JDURL == "" || req.ResumeURI == "" {
		writeError(w, r, http.StatusBadRequest, "jd_url and resume_uri are required")
		return
	}

	subjectID := security.SubjectID(r.Context())
	job, err := s.Lifecycle.Submit(r.Context(), subjectID, lifecycle.SubmitRequest{
		JDURL:         req.JDURL,
		ResumeURI:     req.ResumeURI,
		ModelProvider: req.ModelProvider,
		ModelName:     req.ModelName,
		Priority:      jobs.Priority(req.Priority),
	})
	if err != nil {
		writeAppErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

// GetApplication is GET /applications/{jobId}.
func (s *Server) GetApplication(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}
	subjectID := security.SubjectID(r.Context())

	job, err := s.Repo.Get(r.Context(), jobID, subjectID, false)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// CancelApplication is POST /applications/{jobId}/cancel.
func (s *Server) CancelApplication(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}
	subjectID := security.SubjectID(r.Context())

	job, err := s.Lifecycle.Cancel(r.Context(), subjectID, jobID)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

type artifactMeta struct {
	JobID         string `json:"jobId"`
	ModelProvider string `json:"modelProvider"`
	ModelName     string `json:"modelName"`
	CompletedAt   string `json:"completedAt"`
}

type artifactResponse struct {
	GeneratedText string       `json:"generatedText"`
	Meta          artifactMeta `json:"meta"`
}

// GetArtifact is GET /applications/{jobId}/artifact: fetches the
// completed job's generated text from the object store and relays it
// as JSON, per spec.md §6. The core only indexes the object-store key
// (spec.md §1's Non-goal on persisting artifact content); this handler
// is the on-demand read side of that split, not a violation of it.
func (s *Server) GetArtifact(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}
	subjectID := security.SubjectID(r.Context())

	job, err := s.Repo.Get(r.Context(), jobID, subjectID, false)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if job.Status != jobs.StatusCompleted || job.ArtifactRef == nil {
		writeError(w, r, http.StatusConflict, "job has no artifact yet")
		return
	}

	text, err := s.Artifacts.Fetch(r.Context(), *job.ArtifactRef)
	if err != nil {
		writeAppErr(w, r, apperr.Dependency(apperr.OriginObjectStore, err))
		return
	}

	writeJSON(w, http.StatusOK, artifactResponse{
		GeneratedText: text,
		Meta: artifactMeta{
			JobID:         job.ID.String(),
			ModelProvider: job.ModelProvider,
			ModelName:     job.ModelName,
			CompletedAt:   job.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		},
	})
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "jobId")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func writeAppErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, jobs.ErrConflict) {
		writeError(w, r, http.StatusConflict, "job is in a terminal or conflicting state")
		return
	}
	if e := apperr.As(err); e != nil {
		writeError(w, r, e.Status(), e.Error())
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal error")
}
