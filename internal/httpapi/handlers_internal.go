package httpapi

import (
	"net/http"
	"time"

	"github.com/brainhub-io/gateway/internal/jobs"
	"github.com/brainhub-io/gateway/internal/statushub"
)

type internalStatusRequest struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	ArtifactRef   *string `json:"artifact_ref,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// InternalStatus is POST /internal/status: a fallback HTTP path for the
// worker to report status directly when the broker consumer path is
// unavailable to it, applying the same idempotent transition the
// broker consumer uses.
func (s *Server) InternalStatus(w http.ResponseWriter, r *http.Request) {
	var req internalStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	jobID, ok := uuidFromString(req.JobID)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	patch := jobs.Patch{ArtifactRef: req.ArtifactRef, FailureReason: req.FailureReason}
	if _, err := s.Repo.TransitionByID(r.Context(), jobID, jobs.Status(req.Status), patch); err != nil {
		writeAppErr(w, r, err)
		return
	}

	s.Registry.Publish(statushub.StatusEvent{
		JobID:         jobID,
		Status:        jobs.Status(req.Status),
		ArtifactRef:   req.ArtifactRef,
		FailureReason: req.FailureReason,
		ObservedAt:    time.Now().UTC(),
	})

	w.WriteHeader(http.StatusNoContent)
}
