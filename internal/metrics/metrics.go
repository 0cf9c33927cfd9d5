package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wafshield/internal/model"
)

const namespace = "wafshield"

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	scans     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  prometheus.Histogram
	artifacts prometheus.Gauge
	sessions  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans by verdict source and outcome.",
		}, []string{"source", "verdict"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_failures_total",
			Help:      "Scans that did not produce a verdict.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Time spent scoring a sample.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		artifacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifacts_available",
			Help:      "1 when the model artifacts are loaded, 0 otherwise.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Interactive sessions currently held in memory.",
		}),
	}
	m.registry.MustRegister(
		m.scans,
		m.failures,
		m.duration,
		m.artifacts,
		m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func VerdictLabel(v model.Verdict) string {
	if v.IsSuspicious {
		return "suspicious"
	}
	return "normal"
}

func (m *Metrics) ObserveScan(v model.Verdict, d time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(string(v.Source), VerdictLabel(v)).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetArtifactsAvailable(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.artifacts.Set(1)
		return
	}
	m.artifacts.Set(0)
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
