package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/brainhub-io/gateway/internal/apperr"
	"github.com/brainhub-io/gateway/internal/jobs"
)

const (
	confirmTimeout  = 30 * time.Second
	backpressureMax = 1 * time.Second
	dlqTTL          = 5 * time.Minute
	dlqMaxRetries   = 3
)

// Gateway publishes JobDescriptors onto the broker with publisher
// confirms, exponential retry, and back-pressure, per spec.md §4.8.
type Gateway struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	confirm chan amqp.Confirmation

	shardsPerPriority int
	shardCounter      uint64
}

// NewGateway connects to the broker and declares the jobs.exchange /
// per-priority queue / DLQ topology if absent.
func NewGateway(ctx context.Context, brokerURL string, shardsPerPriority int) (*Gateway, error) {
	conn, err := amqp.Dial(brokerURL)
	if err != nil {
		return nil, apperr.Dependency(apperr.OriginBroker, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, apperr.Dependency(apperr.OriginBroker, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, apperr.Dependency(apperr.OriginBroker, err)
	}

	if shardsPerPriority <= 0 {
		shardsPerPriority = 4
	}

	g := &Gateway{
		conn:              conn,
		channel:           ch,
		confirm:           ch.NotifyPublish(make(chan amqp.Confirmation, 16)),
		shardsPerPriority: shardsPerPriority,
	}

	if err := g.declareTopology(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Gateway) declareTopology() error {
	if err := g.channel.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return apperr.Dependency(apperr.OriginBroker, err)
	}

	if _, err := g.channel.QueueDeclare(DLQName, true, false, false, false, amqp.Table{
		"x-message-ttl": int32(dlqTTL.Milliseconds()),
	}); err != nil {
		return apperr.Dependency(apperr.OriginBroker, err)
	}

	for _, p := range []jobs.Priority{jobs.PriorityExpress, jobs.PriorityHigh, jobs.PriorityNormal, jobs.PriorityLow} {
		for shard := 0; shard < g.shardsPerPriority; shard++ {
			key := RoutingKey(p, shard, g.shardsPerPriority)
			queueName := "jobs." + routingSuffix(p) + "." + fmt.Sprint(shard)
			if _, err := g.channel.QueueDeclare(queueName, true, false, false, false, amqp.Table{
				"x-dead-letter-exchange": "",
				"x-dead-letter-routing-key": DLQName,
				"x-max-retries":             dlqMaxRetries,
			}); err != nil {
				return apperr.Dependency(apperr.OriginBroker, err)
			}
			if err := g.channel.QueueBind(queueName, key, ExchangeName, false, nil); err != nil {
				return apperr.Dependency(apperr.OriginBroker, err)
			}
		}
	}
	return nil
}

// Publish encodes and publishes d, requiring a broker confirm before
// returning success. Retries with exponential backoff (multiplier 2,
// initial 1s, max 10s, 3 attempts); on final failure returns a
// "dispatch" error the caller transitions the job to FAILED on.
func (g *Gateway) Publish(ctx context.Context, d JobDescriptor) error {
	body, err := Encode(d)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, apperr.OriginBroker, "failed to encode job descriptor", err)
	}

	shard := int(atomic.AddUint64(&g.shardCounter, 1)) % g.shardsPerPriority
	key := RoutingKey(d.Priority, shard, g.shardsPerPriority)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second
	retryPolicy := backoff.WithMaxRetries(b, 2) // 3 total attempts

	operation := func() error {
		return g.publishOnce(ctx, key, body)
	}

	if err := backoff.Retry(operation, backoff.WithContext(retryPolicy, ctx)); err != nil {
		log.Error().Err(err).Str("job_id", d.JobID.String()).Msg("dispatch failed after retries")
		return apperr.Wrap(apperr.KindDispatch, apperr.OriginBroker, "failed to dispatch job", err)
	}
	return nil
}

func (g *Gateway) publishOnce(ctx context.Context, routingKey string, body []byte) error {
	pctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	// Back-pressure: block briefly if the confirm channel is saturated
	// before attempting another publish, per spec.md §4.8.
	if len(g.confirm) == cap(g.confirm) {
		select {
		case <-time.After(jitter(backpressureMax)):
		case <-pctx.Done():
			return apperr.New(apperr.KindDependency, "broker back-pressure timeout")
		}
	}

	if err := g.channel.PublishWithContext(pctx, ExchangeName, routingKey, true, false, amqp.Publishing{
		ContentType:  "application/octet-stream",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}); err != nil {
		return apperr.Dependency(apperr.OriginBroker, err)
	}

	select {
	case confirmed, ok := <-g.confirm:
		if !ok {
			return apperr.New(apperr.KindDispatch, "broker confirm channel closed")
		}
		if !confirmed.Ack {
			return apperr.New(apperr.KindDispatch, "broker nacked publish")
		}
		return nil
	case <-pctx.Done():
		return apperr.New(apperr.KindDispatch, "timed out waiting for broker confirm")
	}
}

// jitter avoids a thundering herd of back-pressure waits landing on the
// same tick when many requests dispatch concurrently.
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) / 4))
}

// PublishCancel sends a cancel control message for jobID, per spec.md
// §4.11's cancellation flow.
func (g *Gateway) PublishCancel(ctx context.Context, jobID string) error {
	pctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	return g.channel.PublishWithContext(pctx, ExchangeName, "jobs.control.cancel", false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte(jobID),
	})
}

// Close tears down the channel and connection.
func (g *Gateway) Close() error {
	if g.channel != nil {
		_ = g.channel.Close()
	}
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}
