package httpapi

import (
	"net/http"
	"time"

	"github.com/brainhub-io/gateway/internal/security"
	"github.com/brainhub-io/gateway/internal/stream"
)

// StreamApplication is GET /applications/{jobId}/stream: an SSE push
// stream of the job's status changes, per spec.md §4.10.
func (s *Server) StreamApplication(w http.ResponseWriter, r *http.Request) {
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

	maxDuration := time.Duration(s.StreamMaxDuration) * time.Second
	js, err := stream.NewJobStream(r.Context(), w, maxDuration)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer js.Close()

	heartbeat := time.Duration(s.StreamHeartbeat) * time.Second
	unsubscribeRemote := s.Hub.SubscribeRemote(r.Context(), jobID)
	defer unsubscribeRemote()

	stream.Watch(r.Context(), js, s.Registry, jobID, job, heartbeat)
}
