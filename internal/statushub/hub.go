package statushub

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/google/uuid"

	"github.com/brainhub-io/gateway/internal/jobs"
)

// Hub ties the broker consumer, the local subscriber Registry, and the
// Redis republish channel together. One Hub runs per gateway instance.
type Hub struct {
	repo     *jobs.Repository
	registry *Registry
	redis    *redis.Client
}

func NewHub(repo *jobs.Repository, registry *Registry, redisClient *redis.Client) *Hub {
	return &Hub{repo: repo, registry: registry, redis: redisClient}
}

// ConsumeStatus runs the broker consumer loop against queueName until
// ctx is cancelled. Each message is persisted idempotently via
// TransitionByID before being acked, so a crash between consume and ack
// only ever causes redelivery of an already-applied (and therefore
// no-op, ErrConflict) transition, never data loss -- matching spec.md
// §4.9's "ack only after the DB transition commits".
func (h *Hub) ConsumeStatus(ctx context.Context, channel *amqp.Channel, queueName string) error {
	deliveries, err := channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			h.handleDelivery(ctx, d)
		}
	}
}

func (h *Hub) handleDelivery(ctx context.Context, d amqp.Delivery) {
	event, err := decodeStatusEvent(d.Body)
	if err != nil {
		log.Error().Err(err).Msg("status event undecodable, dropping without requeue")
		_ = d.Nack(false, false)
		return
	}

	patch := jobs.Patch{ArtifactRef: event.ArtifactRef, FailureReason: event.FailureReason}
	if _, err := h.repo.TransitionByID(ctx, event.JobID, event.Status, patch); err != nil {
		if err == jobs.ErrConflict {
			// Already terminal or already at this status: treat as a
			// duplicate delivery, ack so it doesn't loop forever.
			_ = d.Ack(false)
			h.republish(ctx, event)
			return
		}
		log.Error().Err(err).Str("job_id", event.JobID.String()).Msg("failed to persist status transition")
		_ = d.Nack(false, false)
		return
	}

	_ = d.Ack(false)
	h.republish(ctx, event)
}

// republish fans e out to this instance's local subscribers and to any
// other instance's subscribers via Redis pubsub, so an SSE connection
// held open against a different gateway pod than the one that consumed
// the worker's message still sees the update.
func (h *Hub) republish(ctx context.Context, e StatusEvent) {
	h.registry.Publish(e)

	raw, err := encodeStatusEvent(e)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode status event for republish")
		return
	}
	if err := h.redis.Publish(ctx, channelForJob(e.JobID), raw).Err(); err != nil {
		log.Warn().Err(err).Str("job_id", e.JobID.String()).Msg("failed to republish status event on redis")
	}
}

// SubscribeRemote listens on the cross-instance channel for jobID and
// feeds matching events into the local Registry, so a stream handler on
// this instance observes status changes consumed by any instance. The
// returned cancel func must be called to stop the subscription.
func (h *Hub) SubscribeRemote(ctx context.Context, jobID uuid.UUID) func() {
	pubsub := h.redis.Subscribe(ctx, channelForJob(jobID))
	done := make(chan struct{})

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := decodeStatusEvent([]byte(msg.Payload))
				if err != nil {
					continue
				}
				h.registry.Publish(event)
			}
		}
	}()

	return func() {
		close(done)
		_ = pubsub.Close()
	}
}
