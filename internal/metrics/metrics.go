package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_events_applied_total",
		Help: "Change events folded into the entity store",
	}, []string{"table"})
	EventsDeduplicated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_events_deduplicated_total",
		Help: "Change events that matched state already applied optimistically",
	}, []string{"table"})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_events_dropped_total",
		Help: "Malformed or unappliable change events",
	}, []string{"table"})
	Mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_mutations_total",
		Help: "Optimistic mutations applied",
	}, []string{"kind"})
	Rollbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_rollbacks_total",
		Help: "Optimistic mutations reverted after a remote failure",
	}, []string{"kind"})
	RemoteWriteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedsync_remote_write_seconds",
		Help:    "Remote write latency from enqueue to completion",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})
	RelayPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_relay_published_total",
		Help: "Outbox entries published to the change broker",
	}, []string{"table"})
)

func init() {
	prometheus.MustRegister(EventsApplied, EventsDeduplicated, EventsDropped,
		Mutations, Rollbacks, RemoteWriteDuration, RelayPublished)
}

// ObserveRemoteWrite records a write that was enqueued at start.
func ObserveRemoteWrite(table string, start time.Time) {
	RemoteWriteDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
}
