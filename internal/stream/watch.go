package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/brainhub-io/gateway/internal/jobs"
	"github.com/brainhub-io/gateway/internal/statushub"
)

// statusFrame is the JSON payload sent on each "status" SSE event.
type statusFrame struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	ArtifactRef   *string `json:"artifact_ref,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// errorFrame is the terminal frame sent on any unrecoverable condition.
type errorFrame struct {
	Error string `json:"error"`
}

// Watch runs a JobStream to completion: it sends one immediate status
// frame for the job's current state, then blocks delivering further
// events from registry until the job reaches a terminal status, the
// client disconnects (write error), or the max duration elapses; a
// heartbeat only sends a keep-alive and does not end the stream.
// It returns only once the stream is done; callers run it directly off
// the request goroutine.
func Watch(ctx context.Context, js *JobStream, registry *statushub.Registry, jobID uuid.UUID, current *jobs.Job, heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	if err := sendJobFrame(js, current); err != nil {
		return
	}
	if current.Status.IsTerminal() {
		js.Close()
		return
	}

	events, unsubscribe := registry.Subscribe(jobID)
	defer unsubscribe()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-js.Done():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := js.Heartbeat(); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := sendStatusEvent(js, e); err != nil {
				return
			}
			if e.Status.IsTerminal() {
				return
			}
		}
	}
}

func sendJobFrame(js *JobStream, j *jobs.Job) error {
	frame := statusFrame{
		JobID:         j.ID.String(),
		Status:        string(j.Status),
		ArtifactRef:   j.ArtifactRef,
		FailureReason: j.FailureReason,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal initial status frame")
		return err
	}
	return js.SendStatus(data)
}

func sendStatusEvent(js *JobStream, e statushub.StatusEvent) error {
	frame := statusFrame{
		JobID:         e.JobID.String(),
		Status:        string(e.Status),
		ArtifactRef:   e.ArtifactRef,
		FailureReason: e.FailureReason,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return js.SendStatus(data)
}

// SendFatal emits a terminal error frame, used when setup fails after
// headers have already been written (e.g. ownership check racing a
// delete), matching spec.md §7's "terminal event: error frame".
func SendFatal(js *JobStream, message string) {
	data, err := json.Marshal(errorFrame{Error: message})
	if err != nil {
		return
	}
	_ = js.SendError(data)
}
