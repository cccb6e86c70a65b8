// Package metrics exposes the pipeline's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsDispatched counts work items enqueued by the dispatcher.
	ItemsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reflection_items_dispatched_total",
		Help: "Work items enqueued for eligible subscribers.",
	})

	// DispatchFailures counts subscribers the dispatcher could not enqueue.
	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reflection_dispatch_failures_total",
		Help: "Subscribers skipped during dispatch because enqueue failed.",
	})

	// ItemsCompleted counts pipeline outcomes by terminal state.
	ItemsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reflection_items_completed_total",
		Help: "Work items reaching a terminal state, by outcome.",
	}, []string{"outcome"})

	// NotificationsSent counts delivered reflection links.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reflection_notifications_sent_total",
		Help: "Reflection link emails delivered to subscribers.",
	})

	// StageDuration observes per-stage pipeline latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reflection_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})
)

// Terminal outcome labels for ItemsCompleted.
const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)
