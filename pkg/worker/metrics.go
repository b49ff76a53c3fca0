package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the worker's Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Jobs
	JobsActive  prometheus.Gauge
	JobsTotal   *prometheus.CounterVec
	JobDuration prometheus.Histogram

	// Rooms and participants
	RoomsActive        prometheus.Gauge
	ParticipantsActive prometheus.Gauge
	JoinsRejected      *prometheus.CounterVec

	// Media
	FramesTotal   *prometheus.CounterVec
	BytesTotal    *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with every metric registered on its
// own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "letta_voice"
	}

	registry := prometheus.NewRegistry()

	jobsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_active",
		Help:      "Number of running jobs",
	})
	jobsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Total number of jobs by outcome",
	}, []string{"status"})
	jobDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Job duration in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})
	roomsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Number of open rooms",
	})
	participantsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "participants_active",
		Help:      "Number of connected remote participants",
	})
	joinsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "joins_rejected_total",
		Help:      "Join attempts rejected by reason",
	}, []string{"reason"})
	framesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Media frames relayed",
	}, []string{"direction"})
	bytesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "media_bytes_total",
		Help:      "Media payload bytes relayed",
	}, []string{"direction"})
	framesDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Media frames dropped by reason",
	}, []string{"reason"})

	registry.MustRegister(
		jobsActive,
		jobsTotal,
		jobDuration,
		roomsActive,
		participantsActive,
		joinsRejected,
		framesTotal,
		bytesTotal,
		framesDropped,
	)

	return &Metrics{
		registry:           registry,
		JobsActive:         jobsActive,
		JobsTotal:          jobsTotal,
		JobDuration:        jobDuration,
		RoomsActive:        roomsActive,
		ParticipantsActive: participantsActive,
		JoinsRejected:      joinsRejected,
		FramesTotal:        framesTotal,
		BytesTotal:         bytesTotal,
		FramesDropped:      framesDropped,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordFrame(direction string, n int) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction).Inc()
	m.BytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}
