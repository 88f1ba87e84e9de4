package statushub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 16

// subscriber is a single stream handler's mailbox for one job.
type subscriber struct {
	ch      chan StatusEvent
	dropped int
}

// Registry is the in-process fan-out from job id to however many local
// SSE connections are watching it. Cross-instance delivery is handled
// separately by the Redis pubsub republish in hub.go; the registry only
// ever holds subscribers local to this process.
type Registry struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

// Subscribe registers interest in jobID and returns a channel of events
// plus an unsubscribe func the caller must defer. The channel is
// bounded; if the subscriber falls behind, the oldest buffered event is
// dropped to make room rather than blocking the publisher, matching
// spec.md §4.9's "bounded buffer per subscriber, drop-oldest on full".
func (r *Registry) Subscribe(jobID uuid.UUID) (<-chan StatusEvent, func()) {
	sub := &subscriber{ch: make(chan StatusEvent, subscriberBuffer)}

	r.mu.Lock()
	if r.subs[jobID] == nil {
		r.subs[jobID] = make(map[*subscriber]struct{})
	}
	r.subs[jobID][sub] = struct{}{}
	r.mu.Unlock()

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.subs[jobID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(r.subs, jobID)
			}
		}
		close(sub.ch)
	}

	return sub.ch, unsubscribe
}

// Publish delivers e to every local subscriber of e.JobID.
func (r *Registry) Publish(e StatusEvent) {
	r.mu.Lock()
	set, ok := r.subs[e.JobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- e:
		default:
			// Buffer full: drop the oldest queued event to make room
			// rather than block the publisher or the other subscribers.
			select {
			case <-s.ch:
				s.dropped++
				log.Warn().Str("job_id", e.JobID.String()).Int("dropped", s.dropped).
					Msg("status subscriber buffer full, dropped oldest event")
			default:
			}
			select {
			case s.ch <- e:
			default:
			}
		}
	}
}

// SubscriberCount reports how many local subscribers are watching
// jobID, for diagnostics and tests.
func (r *Registry) SubscriberCount(jobID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[jobID])
}
