// Package queue provides the JetStream work queue between the dispatcher and
// the reflection workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/reflection-service/internal/core"
	"github.com/book-expert/reflection-service/internal/events"
)

const fetchWait = 5 * time.Second

// Handler processes one work item. A nil return acknowledges the item; any
// error triggers redelivery until the consumer's MaxDeliver is exhausted.
type Handler func(ctx context.Context, item core.WorkItem) error

// NatsQueue implements core.WorkQueue on a JetStream work-queue stream. Each
// item is delivered to exactly one worker; unacknowledged items redeliver.
type NatsQueue struct {
	jetstreamContext nats.JetStreamContext
	streamName       string
	subject          string
	consumerName     string
	maxDeliver       int
	ackWait          time.Duration
	log              *logger.Logger
}

// New creates a NatsQueue, creating or binding the underlying stream. The
// ack wait must exceed the per-item processing budget, otherwise items
// redeliver while still being worked on.
func New(
	jetstreamContext nats.JetStreamContext,
	streamName, subject, consumerName string,
	maxDeliver int,
	ackWait time.Duration,
	log *logger.Logger,
) (*NatsQueue, error) {
	_, err := jetstreamContext.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		// If the stream already exists with this configuration, bind to it.
		_, infoErr := jetstreamContext.StreamInfo(streamName)
		if infoErr != nil {
			return nil, fmt.Errorf("failed to create or bind stream '%s': %w", streamName, err)
		}
	}

	return &NatsQueue{
		jetstreamContext: jetstreamContext,
		streamName:       streamName,
		subject:          subject,
		consumerName:     consumerName,
		maxDeliver:       maxDeliver,
		ackWait:          ackWait,
		log:              log,
	}, nil
}

// Enqueue publishes one work item as a reflection-requested event.
func (q *NatsQueue) Enqueue(ctx context.Context, item core.WorkItem) error {
	event := events.ReflectionRequestedEvent{
		Header:     events.NewHeader(),
		Subscriber: item.Subscriber,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal work item event: %w", err)
	}

	_, err = q.jetstreamContext.Publish(q.subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish work item for '%s': %w", item.Subscriber, err)
	}

	return nil
}

// Consume runs the given number of workers against the queue until the
// context is cancelled.
func (q *NatsQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	sub, err := q.jetstreamContext.PullSubscribe(
		q.subject,
		q.consumerName,
		nats.BindStream(q.streamName),
		nats.AckExplicit(),
		nats.AckWait(q.ackWait),
		nats.MaxDeliver(q.maxDeliver),
	)
	if err != nil {
		return fmt.Errorf("failed to create pull consumer '%s': %w", q.consumerName, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	for range workers {
		group.Go(func() error {
			q.consumeLoop(groupCtx, sub, handler)

			return nil
		})
	}

	waitErr := group.Wait()

	drainErr := sub.Drain()
	if drainErr != nil {
		q.log.Warn("Failed to drain consumer '%s': %v", q.consumerName, drainErr)
	}

	if waitErr != nil {
		return fmt.Errorf("worker group failed: %w", waitErr)
	}

	return nil
}

func (q *NatsQueue) consumeLoop(ctx context.Context, sub *nats.Subscription, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}

			if ctx.Err() != nil {
				return
			}

			q.log.Error("Failed to fetch from queue: %v", err)

			continue
		}

		for _, msg := range msgs {
			q.handleMessage(ctx, msg, handler)
		}
	}
}

func (q *NatsQueue) handleMessage(ctx context.Context, msg *nats.Msg, handler Handler) {
	var event events.ReflectionRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		// A message that cannot parse will never parse; drop it.
		q.log.Error("Failed to unmarshal work item event, discarding: %v", err)

		ackErr := msg.Ack()
		if ackErr != nil {
			q.log.Warn("Failed to ack poison message: %v", ackErr)
		}

		return
	}

	handleErr := handler(ctx, core.WorkItem{Subscriber: event.Subscriber})
	if handleErr != nil {
		q.log.Error(
			"Work item %s for %s failed, releasing for redelivery: %v",
			event.Header.EventID, event.Subscriber, handleErr,
		)

		nakErr := msg.Nak()
		if nakErr != nil {
			q.log.Warn("Failed to nak work item %s: %v", event.Header.EventID, nakErr)
		}

		return
	}

	ackErr := msg.Ack()
	if ackErr != nil {
		q.log.Warn("Failed to ack work item %s: %v", event.Header.EventID, ackErr)
	}
}
