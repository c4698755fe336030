// Package metrics exposes pipeline instrumentation in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"moodcam/internal/pipeline"
)

// Metrics holds all application metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	submitted *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	discarded *prometheus.CounterVec
	applied   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	faces     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	rendered  *prometheus.GaugeVec
	running   *prometheus.GaugeVec
}

// New creates a new Metrics instance with its collectors registered
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodcam_detections_submitted_total",
			Help: "Detection requests dispatched to the detector",
		}, []string{"camera"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodcam_detections_cancelled_total",
			Help: "In-flight requests superseded by a newer one or stopped",
		}, []string{"camera"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodcam_detections_discarded_total",
			Help: "Results that arrived after their request was superseded",
		}, []string{"camera"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodcam_detections_applied_total",
			Help: "Results merged into the annotation state",
		}, []string{"camera"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodcam_detections_failed_total",
			Help: "Detection failures by kind",
		}, []string{"camera", "kind"}),
		faces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodcam_faces_detected_total",
			Help: "Faces contained in applied results",
		}, []string{"camera"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moodcam_detection_latency_seconds",
			Help:    "Time from dispatch to applied result",
			Buckets: []float64{0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2},
		}, []string{"camera"}),
		rendered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moodcam_rendered_boxes",
			Help: "Boxes drawn on the last render tick",
		}, []string{"camera"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moodcam_pipeline_running",
			Help: "1 while the camera's pipeline is running",
		}, []string{"camera"}),
	}

	m.registry.MustRegister(
		m.submitted, m.cancelled, m.discarded, m.applied, m.failed,
		m.faces, m.latency, m.rendered, m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterGaugeFunc exposes a value read on each scrape, e.g. connected clients
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, fn))
}

// Handler returns an HTTP handler serving the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Submitted(cameraID string) { m.submitted.WithLabelValues(cameraID).Inc() }
func (m *Metrics) Cancelled(cameraID string) { m.cancelled.WithLabelValues(cameraID).Inc() }
func (m *Metrics) Discarded(cameraID string) { m.discarded.WithLabelValues(cameraID).Inc() }

// Applied records a merged result
func (m *Metrics) Applied(cameraID string, faces int, latency time.Duration) {
	m.applied.WithLabelValues(cameraID).Inc()
	m.faces.WithLabelValues(cameraID).Add(float64(faces))
	m.latency.WithLabelValues(cameraID).Observe(latency.Seconds())
}

// Failed records a reported failure
func (m *Metrics) Failed(cameraID string, kind pipeline.ErrorKind) {
	m.failed.WithLabelValues(cameraID, string(kind)).Inc()
}

// Rendered records the box count of a render tick
func (m *Metrics) Rendered(cameraID string, boxes int) {
	m.rendered.WithLabelValues(cameraID).Set(float64(boxes))
}

// SetRunning records the pipeline state
func (m *Metrics) SetRunning(cameraID string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	m.running.WithLabelValues(cameraID).Set(v)
}

var _ pipeline.Recorder = (*Metrics)(nil)
