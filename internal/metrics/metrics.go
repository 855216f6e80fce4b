package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Live views
	LiveViews = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livesync_live_views",
		Help: "The current number of live views",
	}, []string{"collection"})

	Attachments = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livesync_attachments",
		Help: "The current number of observers attached to live views",
	}, []string{"collection"})

	Reconciliations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_reconciliations_total",
		Help: "The total number of change events reconciled into live views",
	}, []string{"collection", "op"})

	ReconcileLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "livesync_reconcile_latency_seconds",
		Help: "The latency of reconciling one change event into one live view",
	}, []string{"collection"})

	Backfills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_backfills_total",
		Help: "The total number of backfill queries issued after removals",
	}, []string{"collection"})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_notifications_total",
		Help: "The total number of notifications pushed to observers",
	}, []string{"collection", "op"})

	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_store_errors_total",
		Help: "The total number of store failures seen by the live query engine",
	}, []string{"collection", "op"})

	// Connections
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livesync_connections",
		Help: "The current number of realtime connections",
	})

	// Event bridge
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_events_published_total",
		Help: "The total number of collection events published to NATS",
	}, []string{"collection", "result"})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_events_dropped_total",
		Help: "The total number of collection events dropped because a queue was full",
	}, []string{"collection"})
)

func init() {
	prometheus.MustRegister(LiveViews)
	prometheus.MustRegister(Attachments)
	prometheus.MustRegister(Reconciliations)
	prometheus.MustRegister(ReconcileLatency)
	prometheus.MustRegister(Backfills)
	prometheus.MustRegister(Notifications)
	prometheus.MustRegister(StoreErrors)
	prometheus.MustRegister(Connections)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDropped)
}
