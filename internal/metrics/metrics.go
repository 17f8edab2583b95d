package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pewsoft"

var (
	// WebhookEventsTotal counts inbound provider events by normalized kind and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Inbound provider webhook events by provider, kind and outcome.",
	}, []string{"provider", "kind", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Provider webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// SubscriptionTransitionsTotal counts applied status transitions.
	SubscriptionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "subscription_transitions_total",
		Help:      "Subscription status transitions by source status, target status and event.",
	}, []string{"from", "to", "event"})

	// RemindersQueuedTotal counts dunning reminders queued by live runs.
	RemindersQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "reminders_queued_total",
		Help:      "Dunning reminders queued.",
	})

	// RemindersDeliveredTotal counts reminder deliveries by outcome.
	RemindersDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "reminders_delivered_total",
		Help:      "Reminder deliveries to the communications service by outcome.",
	}, []string{"outcome"})

	// SweepActionsTotal counts time based transitions applied by the sweep.
	SweepActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "sweep_actions_total",
		Help:      "Sweep actions by kind and outcome.",
	}, []string{"action", "outcome"})

	// ProviderCallsTotal counts outbound provider calls made by services.
	ProviderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "provider_calls_total",
		Help:      "Outbound billing provider calls by provider, operation and outcome.",
	}, []string{"provider", "operation", "outcome"})

	// DBQueryDuration tracks postgres round trips by statement kind.
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "postgres",
		Name:      "query_duration_seconds",
		Help:      "Postgres query duration by operation and outcome.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation", "outcome"})

	// HTTPRequestDuration tracks API latency per route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration observed at the API layer.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "route", "status"})
)

// Outcome labels
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeSkipped   = "skipped"
)

// ObserveProviderCall records the outcome of an outbound provider call
func ObserveProviderCall(provider, operation string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	ProviderCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
}
