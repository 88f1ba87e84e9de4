// Package statushub fans a job's status changes out to whoever is
// watching it, per spec.md §4.9. A broker consumer persists terminal
// transitions and republishes them on a per-job Redis channel; an
// in-process subscriber registry lets the SSE layer (internal/stream)
// attach a bounded channel to a job id without caring which gateway
// instance actually consumed the worker's status event.
package statushub

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/brainhub-io/gateway/internal/jobs"
)

// StatusEvent is the decoded payload of a worker status message, or of
// a republished cross-instance fan-out message.
type StatusEvent struct {
	JobID         uuid.UUID    `json:"job_id"`
	Status        jobs.Status  `json:"status"`
	ArtifactRef   *string      `json:"artifact_ref,omitempty"`
	FailureReason *string      `json:"failure_reason,omitempty"`
	ObservedAt    time.Time    `json:"observed_at"`
}

func decodeStatusEvent(raw []byte) (StatusEvent, error) {
	var e StatusEvent
	err := json.Unmarshal(raw, &e)
	return e, err
}

func encodeStatusEvent(e StatusEvent) ([]byte, error) {
	return json.Marshal(e)
}

// channelForJob is the Redis pubsub channel a single job's events
// republish on, so any gateway instance's stream handler can subscribe
// without needing to have been the one that consumed the original
// broker message.
func channelForJob(id uuid.UUID) string {
	return "statushub:job:" + id.String()
}
