package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingest outcomes.
const (
	ResultStored   = "stored"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// LocationMetrics covers the ingest channel and proximity queries.
type LocationMetrics struct {
	samples       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	indexFailures *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	beyondRadius  prometheus.Gauge
	openStreams   prometheus.Gauge
}

// NewLocationMetrics registers the location metrics on reg. A nil registerer yields no-op metrics.
func NewLocationMetrics(reg prometheus.Registerer) *LocationMetrics {
	if reg == nil {
		return &LocationMetrics{}
	}
	m := &LocationMetrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_samples_total",
			Help:      "Location samples received, by channel and outcome.",
		}, []string{"channel", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geofence_transitions_total",
			Help:      "Geofence crossings detected on ingest.",
		}, []string{"event"}),
		indexFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_index_failures_total",
			Help:      "Geo index writes that failed after the position was stored.",
		}, []string{"op"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proximity_query_duration_seconds",
			Help:      "Duration of proximity queries in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		beyondRadius: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_beyond_radius",
			Help:      "Identities beyond the geofence at the last nearby-users query.",
		}),
		openStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "location_streams_open",
			Help:      "Open websocket location streams.",
		}),
	}
	reg.MustRegister(m.samples, m.transitions, m.indexFailures, m.queryDuration, m.beyondRadius, m.openStreams)
	return m
}

func (m *LocationMetrics) IncSample(channel, result string) {
	if m == nil || m.samples == nil {
		return
	}
	m.samples.WithLabelValues(normalizeLabel(channel), normalizeLabel(result)).Inc()
}

func (m *LocationMetrics) IncTransition(event string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *LocationMetrics) IncIndexFailure(op string) {
	if m == nil || m.indexFailures == nil {
		return
	}
	m.indexFailures.WithLabelValues(normalizeLabel(op)).Inc()
}

func (m *LocationMetrics) ObserveQuery(query string, duration time.Duration) {
	if m == nil || m.queryDuration == nil {
		return
	}
	m.queryDuration.WithLabelValues(normalizeLabel(query)).Observe(duration.Seconds())
}

func (m *LocationMetrics) SetBeyondRadius(count int) {
	if m == nil || m.beyondRadius == nil {
		return
	}
	m.beyondRadius.Set(float64(count))
}

func (m *LocationMetrics) StreamOpened() {
	if m == nil || m.openStreams == nil {
		return
	}
	m.openStreams.Inc()
}

func (m *LocationMetrics) StreamClosed() {
	if m == nil || m.openStreams == nil {
		return
	}
	m.openStreams.Dec()
}
