// Package metrics counts what a load run did and writes the counts in the
// Prometheus text format for a node-exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/franz/gigbase-loader/internal/graphql"
)

const namespace = "gigload"

// Metrics holds a run's collectors on a private registry. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	rowsTotal     prometheus.Counter
	entitiesTotal *prometheus.CounterVec
	requestsTotal *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec

	requestLatency *prometheus.HistogramVec
	runDuration    prometheus.Gauge
	lastRunSuccess prometheus.Gauge
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Total number of input rows fully processed.",
		}),
		entitiesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_total",
			Help:      "Total number of records resolved, by kind and whether they were found or created.",
		}, []string{"kind", "outcome"}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of GraphQL requests, by operation and result.",
		}, []string{"operation", "result"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of runs, by terminal state.",
		}, []string{"state"}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Latency distribution of GraphQL requests.",
			Buckets: []float64{
				0.005, 0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"operation"}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall-clock duration of the last run.",
		}),
		lastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "Whether the last run reached DONE (1/0).",
		}),
	}
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one GraphQL request. Its signature matches
// graphql.Config.Observer.
func (m *Metrics) ObserveRequest(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(op, requestResult(err)).Inc()
	m.requestLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Entity records a resolved record of kind
func (m *Metrics) Entity(kind string, created bool) {
	if m == nil {
		return
	}
	outcome := "found"
	if created {
		outcome = "created"
	}
	m.entitiesTotal.WithLabelValues(kind, outcome).Inc()
}

// Row records a fully processed row
func (m *Metrics) Row() {
	if m == nil {
		return
	}
	m.rowsTotal.Inc()
}

// RunFinished records the terminal state of a run
func (m *Metrics) RunFinished(state string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(state).Inc()
	m.runDuration.Set(duration.Seconds())
	if success {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
}

// WriteFile writes every metric to path in the text exposition format
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// requestResult labels a request outcome by error kind
func requestResult(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := graphql.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
