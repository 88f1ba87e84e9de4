// Package stream pushes job status changes to an open HTTP connection
// as Server-Sent Events, adapting the teacher's mcpserver SSE stream
// (internal/mcpserver/server/sse.go) from a generic JSON-RPC message
// stream to a single job's typed status events, per spec.md §4.10.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultHeartbeat keeps intermediate proxies from closing an idle
	// connection while a job sits in PENDING or PROCESSING.
	DefaultHeartbeat = 30 * time.Second
	// DefaultMaxDuration bounds how long a single stream connection is
	// allowed to stay open, after which the client is expected to
	// reconnect (e.g. a job stuck well past any realistic completion).
	DefaultMaxDuration = 10 * time.Minute
)

// JobStream manages one SSE connection watching a single job.
type JobStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	eventID int
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewJobStream prepares w for event-stream output and derives a
// connection-scoped context bounded by maxDuration.
func NewJobStream(ctx context.Context, w http.ResponseWriter, maxDuration time.Duration) (*JobStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	streamCtx, cancel := context.WithTimeout(ctx, maxDuration)

	return &JobStream{
		w:       w,
		flusher: flusher,
		ctx:     streamCtx,
		cancel:  cancel,
	}, nil
}

// sendRaw writes one framed SSE event and flushes. Write failures are
// surfaced to the caller, which should treat them as a client
// disconnect and tear the stream down.
func (s *JobStream) sendRaw(event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventID++
	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\n", s.eventID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendStatus emits a "status" event carrying data as its payload.
func (s *JobStream) SendStatus(data []byte) error {
	return s.sendRaw("status", data)
}

// SendError emits a terminal "error" event, per spec.md §7; callers
// close the stream immediately afterward.
func (s *JobStream) SendError(data []byte) error {
	return s.sendRaw("error", data)
}

// Heartbeat emits a comment line, ignored by EventSource clients but
// enough to keep intermediaries from timing out an idle connection.
func (s *JobStream) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Done returns a channel closed when the stream's context is cancelled
// (client disconnect upstream, or maxDuration elapsed).
func (s *JobStream) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close releases the stream's context.
func (s *JobStream) Close() {
	s.cancel()
}
