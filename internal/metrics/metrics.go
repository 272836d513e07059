package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "leadsradar"

var (
	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Webhook ingestion attempts by outcome.",
	}, []string{"outcome"})

	LeadsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leads_created_total",
		Help:      "Leads created from ingestion.",
	})

	RateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_decisions_total",
		Help:      "Rate limit checks by resource and decision.",
	}, []string{"resource", "decision"})

	StatusUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lead_status_updates_total",
		Help:      "Lead status changes by outcome.",
	}, []string{"outcome"})

	PitchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pitch_generation_seconds",
		Help:      "Latency of upstream pitch generation calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 6, 8, 10, 15},
	}, []string{"success"})

	FeedSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lead_feed_subscribers",
		Help:      "Open lead feed subscriptions.",
	})
)

func init() {
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(LeadsCreated)
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(StatusUpdates)
	prometheus.MustRegister(PitchLatency)
	prometheus.MustRegister(FeedSubscribers)
}

func IncWebhookEvent(outcome string) {
	WebhookEvents.WithLabelValues(outcome).Inc()
}

func IncLeadCreated() {
	LeadsCreated.Inc()
}

func ObserveRateLimit(resource string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	RateLimitDecisions.WithLabelValues(resource, decision).Inc()
}

func IncStatusUpdate(outcome string) {
	StatusUpdates.WithLabelValues(outcome).Inc()
}

func ObservePitchLatency(seconds float64, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	PitchLatency.WithLabelValues(label).Observe(seconds)
}

func AddFeedSubscribers(delta int) {
	FeedSubscribers.Add(float64(delta))
}
