// Package metrics exposes Prometheus counters/gauges for a pipeline run,
// mirroring the teacher's PrometheusMetrics struct-of-GaugeVec shape in
// prometheus.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one pipeline run.
type Metrics struct {
	reg *prometheus.Registry

	FramesProcessed  prometheus.Counter
	Detections       prometheus.Counter
	DetectionsDropped prometheus.Counter
	EventsEmitted    prometheus.Counter
	ActiveClusters   prometheus.Gauge
	IoRetries        prometheus.Counter
}

// New creates a fresh metric registry and collector set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		reg: reg,
		FramesProcessed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "iqlab_frames_processed_total",
			Help: "Number of FFT frames processed.",
		}),
		Detections: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "iqlab_detections_total",
			Help: "Number of raw CFAR detections raised.",
		}),
		DetectionsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "iqlab_detections_dropped_total",
			Help: "Number of detections dropped due to cluster capacity exhaustion.",
		}),
		EventsEmitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "iqlab_events_emitted_total",
			Help: "Number of completed events handed to the emitter.",
		}),
		ActiveClusters: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "iqlab_active_clusters",
			Help: "Number of clusters currently active in the clustering engine.",
		}),
		IoRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "iqlab_emitter_io_retries_total",
			Help: "Number of failed emitter writes, including failed re-emissions of a buffered record.",
		}),
	}
}

// Handler returns an http.Handler serving these metrics in the Prometheus
// exposition format, for an optional --metrics-addr listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
