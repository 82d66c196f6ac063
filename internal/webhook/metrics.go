package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcome counters, served via the process /metrics endpoint.
var (
	eventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsync_webhook_events_delivered_total",
		Help: "Webhook events acknowledged with HTTP 200 by the subscriber.",
	})
	eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsync_webhook_events_failed_total",
		Help: "Webhook events that failed delivery and were requeued.",
	})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsync_webhook_events_dropped_total",
		Help: "Queued events dropped because their directory is gone, deactivated, or has no webhook.",
	})
	systemicFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsync_webhook_systemic_failures_total",
		Help: "Drain cycles in which every fetched event had already failed; signals a wedged queue.",
	})
)
