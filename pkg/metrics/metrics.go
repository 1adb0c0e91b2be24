package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the sync engine.
type Metrics struct {
	syncRequestsTotal    *prometheus.CounterVec
	syncFailuresTotal    *prometheus.CounterVec
	fatalErrorsTotal     prometheus.Counter
	eventsProcessedTotal *prometheus.CounterVec
	eventsDroppedTotal   *prometheus.CounterVec
	notificationsTotal   *prometheus.CounterVec
	activeRooms          prometheus.Gauge
	backoffSeconds       prometheus.Histogram
	listenerPanicsTotal  prometheus.Counter
}

// NewMetrics creates and registers all sync engine metrics on the given
// registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		syncRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixsync_sync_requests_total",
			Help: "Total sync requests by outcome (success, error)",
		}, []string{"status"}),
		syncFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixsync_sync_failures_total",
			Help: "Total transient sync failures by kind (network, server, ratelimit)",
		}, []string{"kind"}),
		fatalErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matrixsync_fatal_errors_total",
			Help: "Total fatal authentication errors that terminated the session",
		}),
		eventsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixsync_events_processed_total",
			Help: "Total events processed by section (presence, state, timeline, ephemeral)",
		}, []string{"section"}),
		eventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixsync_events_dropped_total",
			Help: "Total malformed events dropped by section",
		}, []string{"section"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixsync_notifications_total",
			Help: "Total notifications emitted by channel",
		}, []string{"channel"}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matrixsync_rooms",
			Help: "Number of rooms known to the session",
		}),
		backoffSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matrixsync_backoff_seconds",
			Help:    "Retry backoff delays applied after transient sync failures",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		listenerPanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matrixsync_listener_panics_total",
			Help: "Total panics recovered inside notification listeners",
		}),
	}

	registry.MustRegister(
		m.syncRequestsTotal,
		m.syncFailuresTotal,
		m.fatalErrorsTotal,
		m.eventsProcessedTotal,
		m.eventsDroppedTotal,
		m.notificationsTotal,
		m.activeRooms,
		m.backoffSeconds,
		m.listenerPanicsTotal,
	)

	return m
}

// RecordSyncRequest records the outcome of one sync request.
func (m *Metrics) RecordSyncRequest(status string) {
	m.syncRequestsTotal.WithLabelValues(status).Inc()
}

// RecordSyncFailure records a transient sync failure by kind.
func (m *Metrics) RecordSyncFailure(kind string) {
	m.syncFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordFatalError records a fatal authentication error.
func (m *Metrics) RecordFatalError() {
	m.fatalErrorsTotal.Inc()
}

// RecordEventProcessed records one processed event for a section.
func (m *Metrics) RecordEventProcessed(section string) {
	m.eventsProcessedTotal.WithLabelValues(section).Inc()
}

// RecordEventDropped records one dropped malformed event for a section.
func (m *Metrics) RecordEventDropped(section string) {
	m.eventsDroppedTotal.WithLabelValues(section).Inc()
}

// RecordNotification records one emitted notification for a channel.
func (m *Metrics) RecordNotification(channel string) {
	m.notificationsTotal.WithLabelValues(channel).Inc()
}

// SetActiveRooms sets the known-room gauge.
func (m *Metrics) SetActiveRooms(n int) {
	m.activeRooms.Set(float64(n))
}

// ObserveBackoff records one applied retry backoff delay.
func (m *Metrics) ObserveBackoff(seconds float64) {
	m.backoffSeconds.Observe(seconds)
}

// RecordListenerPanic records one recovered listener panic.
func (m *Metrics) RecordListenerPanic() {
	m.listenerPanicsTotal.Inc()
}
