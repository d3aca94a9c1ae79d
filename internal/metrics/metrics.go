package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	GazeSamples      prometheus.Counter
	InvalidSamples   prometheus.Counter
	FixationWarnings prometheus.Counter
	BackendRequests  *prometheus.CounterVec
	Alerts           *prometheus.CounterVec
	FacesDetected    prometheus.Gauge
	ScreensDetected  prometheus.Gauge
	TrackingActive   prometheus.Gauge
}

// New creates a new Metrics instance on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GazeSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_gaze_samples_total",
			Help: "Gaze samples fed to the fixation monitor",
		}),
		InvalidSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_gaze_invalid_samples_total",
			Help: "Gaze samples rejected as invalid",
		}),
		FixationWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_fixation_warnings_total",
			Help: "Eye-strain warnings raised",
		}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_backend_requests_total",
			Help: "Requests to backend services by outcome",
		}, []string{"service", "outcome"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_alerts_total",
			Help: "Alerts dispatched by type",
		}, []string{"type"}),
		FacesDetected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_faces_detected",
			Help: "Faces in the most recent detection",
		}),
		ScreensDetected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_screens_detected",
			Help: "Screens reported by the most recent check",
		}),
		TrackingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_tracking_active",
			Help: "1 while eye tracking is active",
		}),
	}

	m.registry.MustRegister(
		m.GazeSamples,
		m.InvalidSamples,
		m.FixationWarnings,
		m.BackendRequests,
		m.Alerts,
		m.FacesDetected,
		m.ScreensDetected,
		m.TrackingActive,
	)
	m.registry.MustRegister(collectors.NewGoCollector())

	return m
}

// Handler returns the Prometheus HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSample(valid bool) {
	if m == nil {
		return
	}
	m.GazeSamples.Inc()
	if !valid {
		m.InvalidSamples.Inc()
	}
}

func (m *Metrics) ObserveFixationWarning() {
	if m == nil {
		return
	}
	m.FixationWarnings.Inc()
}

// ObserveRequest counts one backend call.
func (m *Metrics) ObserveRequest(service string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BackendRequests.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) ObserveAlert(alertType string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(alertType).Inc()
}

func (m *Metrics) SetFaces(n int) {
	if m == nil {
		return
	}
	m.FacesDetected.Set(float64(n))
}

func (m *Metrics) SetScreens(n int) {
	if m == nil {
		return
	}
	m.ScreensDetected.Set(float64(n))
}

func (m *Metrics) SetTracking(active bool) {
	if m == nil {
		return
	}
	if active {
		m.TrackingActive.Set(1)
	} else {
		m.TrackingActive.Set(0)
	}
}
