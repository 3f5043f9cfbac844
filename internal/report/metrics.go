package report

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes a finished report in Prometheus textfile-collector format,
// so a node exporter can pick up the outcome of the last migration.
type Metrics struct {
	registry *prometheus.Registry

	rows       *prometheus.GaugeVec
	issues     *prometheus.GaugeVec
	mismatches prometheus.Gauge
	generated  prometheus.Gauge
	duration   prometheus.Gauge
	success    prometheus.Gauge
	finished   prometheus.Gauge
}

// NewMetrics registers the migration metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		rows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scoremigrate_rows",
			Help: "Rows handled by the last run, per target table and outcome",
		}, []string{"table", "outcome"}),
		issues: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scoremigrate_issues",
			Help: "Issues recorded by the last run, per kind",
		}, []string{"kind"}),
		mismatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scoremigrate_count_mismatches",
			Help: "Target tables whose row count disagreed with the source",
		}),
		generated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scoremigrate_generated_identifiers",
			Help: "Identifiers invented for malformed or missing legacy ids",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scoremigrate_duration_seconds",
			Help: "Wall time of the last run",
		}),
		success: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scoremigrate_success",
			Help: "1 if the last run recorded no failing issue",
		}),
		finished: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scoremigrate_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// Observe sets every metric from r.
func (m *Metrics) Observe(r *Report) {
	for _, t := range r.Tables {
		m.rows.WithLabelValues(t.Target, "read").Set(float64(t.Read))
		m.rows.WithLabelValues(t.Target, "inserted").Set(float64(t.Inserted))
		m.rows.WithLabelValues(t.Target, "failed").Set(float64(t.Failed))
	}
	for _, k := range Kinds {
		m.issues.WithLabelValues(string(k)).Set(float64(r.Count(k)))
	}
	m.mismatches.Set(float64(len(r.Mismatches())))
	m.generated.Set(float64(r.Generated))
	m.duration.Set(r.Duration().Seconds())
	if r.Failed() {
		m.success.Set(0)
	} else {
		m.success.Set(1)
	}
	if !r.Finished.IsZero() {
		m.finished.Set(float64(r.Finished.Unix()))
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
