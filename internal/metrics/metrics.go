// Package metrics exposes Prometheus instrumentation for the connection
// layer and the template executor. One Metrics value plugs into the
// connector, pool, gate, and executor observer hooks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
	"github.com/opslens/vdiag/internal/pool"
)

// Metrics implements pool.ConnectObserver, pool.ReconfigObserver, and
// query.QueryObserver on top of a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	connectAttempts *prometheus.CounterVec
	connectSeconds  *prometheus.HistogramVec

	queriesTotal  *prometheus.CounterVec
	querySeconds  *prometheus.HistogramVec
	queryRowsRead prometheus.Counter

	reconfigTotal *prometheus.CounterVec
	generation    prometheus.Gauge
}

// New builds and registers every collector, including the standard Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vdiag",
			Subsystem: "connect",
			Name:      "attempts_total",
			Help:      "Physical connection attempts by candidate and outcome.",
		}, []string{"target", "outcome"}),

		connectSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vdiag",
			Subsystem: "connect",
			Name:      "attempt_seconds",
			Help:      "Physical connection attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),

		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vdiag",
			Subsystem: "query",
			Name:      "total",
			Help:      "Template executions by template and outcome.",
		}, []string{"template", "outcome"}),

		querySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vdiag",
			Subsystem: "query",
			Name:      "seconds",
			Help:      "Template execution latency, acquire excluded.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"template"}),

		queryRowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vdiag",
			Subsystem: "query",
			Name:      "rows_read_total",
			Help:      "Rows materialized across all template executions.",
		}),

		reconfigTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vdiag",
			Subsystem: "reconfig",
			Name:      "total",
			Help:      "Reconfiguration attempts by outcome.",
		}, []string{"outcome"}),

		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vdiag",
			Subsystem: "pool",
			Name:      "generation",
			Help:      "Active profile generation.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectAttempts,
		m.connectSeconds,
		m.queriesTotal,
		m.querySeconds,
		m.queryRowsRead,
		m.reconfigTotal,
		m.generation,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePool registers gauges that read the pool's counters on scrape.
func (m *Metrics) ObservePool(p *pool.Pool) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "vdiag",
			Subsystem: "pool",
			Name:      "idle",
			Help:      "Idle connections of the current generation.",
		}, func() float64 { return float64(p.Stats().Idle) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "vdiag",
			Subsystem: "pool",
			Name:      "leased",
			Help:      "Connections currently leased to callers.",
		}, func() float64 { return float64(p.Stats().Leased) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "vdiag",
			Subsystem: "pool",
			Name:      "size",
			Help:      "Configured pool capacity.",
		}, func() float64 { return float64(p.Stats().Size) }),
	)
	m.generation.Set(float64(p.Generation()))
}

// ConnectAttempt implements pool.ConnectObserver.
func (m *Metrics) ConnectAttempt(target config.Candidate, attempt int, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = errs.KindOf(err).String()
	}
	m.connectAttempts.WithLabelValues(target.String(), outcome).Inc()
	m.connectSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// QueryExecuted implements query.QueryObserver.
func (m *Metrics) QueryExecuted(template string, elapsed time.Duration, rows int, err error) {
	outcome := "success"
	if err != nil {
		outcome = errs.KindOf(err).String()
	}
	m.queriesTotal.WithLabelValues(template, outcome).Inc()
	m.querySeconds.WithLabelValues(template).Observe(elapsed.Seconds())
	m.queryRowsRead.Add(float64(rows))
}

// Reconfigured implements pool.ReconfigObserver.
func (m *Metrics) Reconfigured(generation uint64, err error) {
	if err != nil {
		m.reconfigTotal.WithLabelValues("rejected").Inc()
		return
	}
	m.reconfigTotal.WithLabelValues("committed").Inc()
	m.generation.Set(float64(generation))
}
