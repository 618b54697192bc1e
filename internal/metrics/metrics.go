// Package metrics holds the Prometheus collectors for the messaging service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vetchat"

// Feed event dispositions.
const (
	FeedRelevant   = "relevant"
	FeedIrrelevant = "irrelevant"
	FeedDuplicate  = "duplicate"
	FeedEcho       = "echo"
	FeedMalformed  = "malformed"
)

var (
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of signed-in live sessions.",
	})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Send attempts by outcome.",
	}, []string{"outcome"})

	FeedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_events_total",
		Help:      "Realtime feed events received by sessions, by disposition.",
	}, []string{"disposition"})

	ProfileFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "profile_fallbacks_total",
		Help:      "Profiles synthesized because no record could be loaded.",
	})

	FeedSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_subscribers",
		Help:      "Open realtime feed subscriptions.",
	})
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(FeedEvents)
	prometheus.MustRegister(ProfileFallbacks)
	prometheus.MustRegister(FeedSubscribers)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
