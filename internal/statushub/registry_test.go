package statushub

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brainhub-io/gateway/internal/jobs"
)

func TestRegistryDeliversToSubscriber(t *testing.T) {
	r := NewRegistry()
	jobID := uuid.New()

	ch, unsubscribe := r.Subscribe(jobID)
	defer unsubscribe()

	r.Publish(StatusEvent{JobID: jobID, Status: jobs.StatusProcessing})

	select {
	case e := <-ch:
		if e.Status != jobs.StatusProcessing {
			t.Errorf("got status %v, want PROCESSING", e.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRegistryDropsOldestWhenFull(t *testing.T) {
	r := NewRegistry()
	jobID := uuid.New()

	ch, unsubscribe := r.Subscribe(jobID)
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		r.Publish(StatusEvent{JobID: jobID, Status: jobs.StatusProcessing})
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count > subscriberBuffer {
				t.Fatalf("buffered %d events, want at most %d", count, subscriberBuffer)
			}
			return
		}
	}
}

func TestRegistryIsolatesJobs(t *testing.T) {
	r := NewRegistry()
	jobA := uuid.New()
	jobB := uuid.New()

	chA, unsubA := r.Subscribe(jobA)
	defer unsubA()
	chB, unsubB := r.Subscribe(jobB)
	defer unsubB()

	r.Publish(StatusEvent{JobID: jobA, Status: jobs.StatusCompleted})

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("jobA subscriber never received its event")
	}

	select {
	case <-chB:
		t.Fatal("jobB subscriber should not have received jobA's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryUnsubscribeRemovesChannel(t *testing.T) {
	r := NewRegistry()
	jobID := uuid.New()

	_, unsubscribe := r.Subscribe(jobID)
	if r.SubscriberCount(jobID) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", r.SubscriberCount(jobID))
	}
	unsubscribe()
	if r.SubscriberCount(jobID) != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", r.SubscriberCount(jobID))
	}
}
