package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the messaging core's Prometheus series.
//
// Why take a Registerer instead of promauto's global default?
//   - Tests build a fresh prometheus.NewRegistry() each time; registering
//     the same names twice on the default registry panics.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests.
type Metrics struct {
	activeFeeds     prometheus.Gauge
	subscribers     prometheus.Gauge
	activeSessions  prometheus.Gauge
	delivered       *prometheus.CounterVec
	lagged          prometheus.Counter
	reconnects      *prometheus.CounterVec
	writes          *prometheus.CounterVec
	metadataLookups *prometheus.CounterVec
	historyLatency  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeFeeds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arenachat_realtime_feeds_active",
			Help: "Number of broker feeds currently open, one per distinct channel filter",
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arenachat_realtime_subscribers",
			Help: "Number of local subscribers across all feeds",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arenachat_sessions_active",
			Help: "Number of open channel sessions",
		}),
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenachat_realtime_events_delivered_total",
			Help: "Realtime events handed to subscriber queues",
		}, []string{"type"}),
		lagged: factory.NewCounter(prometheus.CounterOpts{
			Name: "arenachat_realtime_events_lagged_total",
			Help: "Events dropped because a subscriber queue was full",
		}),
		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenachat_realtime_reconnects_total",
			Help: "Feed reconnect attempts by outcome",
		}, []string{"outcome"}),
		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenachat_store_writes_total",
			Help: "Insert and delete calls by operation and result",
		}, []string{"op", "result"}),
		metadataLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenachat_metadata_lookups_total",
			Help: "Sender metadata resolutions by result",
		}, []string{"result"}),
		historyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arenachat_history_fetch_duration_seconds",
			Help:    "Duration of bounded history fetches",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}
}

func (m *Metrics) FeedOpened() {
	if m != nil {
		m.activeFeeds.Inc()
	}
}

func (m *Metrics) FeedClosed() {
	if m != nil {
		m.activeFeeds.Dec()
	}
}

func (m *Metrics) SubscriberAdded() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberRemoved() {
	if m != nil {
		m.subscribers.Dec()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) Delivered(eventType string) {
	if m != nil {
		m.delivered.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) Lagged() {
	if m != nil {
		m.lagged.Inc()
	}
}

// Reconnect records a reconnect attempt; outcome is "ok" or "error".
func (m *Metrics) Reconnect(outcome string) {
	if m != nil {
		m.reconnects.WithLabelValues(outcome).Inc()
	}
}

// Write records an insert or delete; result is an apperr kind or "ok".
func (m *Metrics) Write(op, result string) {
	if m != nil {
		m.writes.WithLabelValues(op, result).Inc()
	}
}

// MetadataLookup records "hit", "miss" or "fallback".
func (m *Metrics) MetadataLookup(result string) {
	if m != nil {
		m.metadataLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) HistoryFetched(seconds float64) {
	if m != nil {
		m.historyLatency.Observe(seconds)
	}
}
