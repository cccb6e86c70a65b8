// Package dispatch fans one work item per eligible subscriber out onto the
// work queue.
package dispatch

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/reflection-service/internal/core"
	"github.com/book-expert/reflection-service/internal/metrics"
)

// Dispatcher walks the subscriber directory and enqueues one work item per
// eligible subscriber. A failed enqueue is logged and counted, never fatal:
// one subscriber's broken item must not cost everyone else their run.
type Dispatcher struct {
	directory core.SubscriberDirectory
	queue     core.WorkQueue
	log       *logger.Logger
}

// New creates a dispatcher.
func New(directory core.SubscriberDirectory, queue core.WorkQueue, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		queue:     queue,
		log:       log,
	}
}

// Dispatch enqueues one work item per active, verified subscriber and
// returns the number actually enqueued.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	subscribers, err := d.directory.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active subscribers: %w", err)
	}

	enqueued := 0

	for _, subscriber := range subscribers {
		enqueueErr := d.queue.Enqueue(ctx, core.WorkItem{Subscriber: subscriber.Email})
		if enqueueErr != nil {
			metrics.DispatchFailures.Inc()
			d.log.Error("Failed to enqueue work for %s: %v", subscriber.Email, enqueueErr)

			continue
		}

		metrics.ItemsDispatched.Inc()
		enqueued++
	}

	d.log.Info("Dispatched %d of %d eligible subscriber(s)", enqueued, len(subscribers))

	return enqueued, nil
}
