package deploy

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "brokerctl"

// Metrics collects step outcomes in a private registry so they can be
// written for the node_exporter textfile collector.
type Metrics struct {
	registry *prometheus.Registry
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lastRun  *prometheus.GaugeVec
}

// NewMetrics registers the deploy metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "steps_total",
			Help:      "Plan steps by action, module and outcome.",
		}, []string{"action", "module", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of executed plan steps.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"action", "module"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the last plan run; success is 1 when no step failed.",
		}, []string{"action", "module", "success"}),
	}
	m.registry.MustRegister(m.steps, m.duration, m.lastRun)
	return m
}

// Observe adds report to the collected metrics.
func (m *Metrics) Observe(report Report) {
	action, module := string(report.Action), report.Module
	for _, res := range report.Steps {
		m.steps.WithLabelValues(action, module, string(res.Outcome)).Inc()
		if res.Outcome == OutcomeDone || res.Outcome == OutcomeTolerated || res.Outcome == OutcomeFailed {
			m.duration.WithLabelValues(action, module).Observe(res.Duration.Seconds())
		}
	}
	success := "1"
	if report.Failed() {
		success = "0"
	}
	m.lastRun.WithLabelValues(action, module, success).Set(float64(report.Started.Unix()))
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the metrics atomically in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
