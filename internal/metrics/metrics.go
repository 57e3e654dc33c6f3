// Package metrics exposes ingestion, emission and query counters in the
// Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Line results.
const (
	ResultIndexed  = "indexed"
	ResultDropped  = "dropped"
	ResultRejected = "rejected"
)

// Emission and query results.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultEmpty = "empty"
)

// Collector holds the logindex counters. A nil *Collector ignores every
// observation so components can run without metrics.
type Collector struct {
	Lines             *prometheus.CounterVec
	TimestampFailures *prometheus.CounterVec
	Emitted           *prometheus.CounterVec
	Queries           *prometheus.CounterVec
	Alerts            *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector creates unregistered counters.
func NewCollector() *Collector {
	return &Collector{
		Lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logindex_lines_total",
				Help: "Total number of log lines read, by source and outcome.",
			},
			[]string{"source", "result"},
		),
		TimestampFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logindex_timestamp_failures_total",
				Help: "Total number of lines whose timestamp matched no known layout.",
			},
			[]string{"source"},
		),
		Emitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logindex_emitted_total",
				Help: "Total number of entries handed to each emitter.",
			},
			[]string{"emitter", "result"},
		),
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logindex_queries_total",
				Help: "Total number of search queries compiled or executed.",
			},
			[]string{"result"},
		),
		Alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logindex_alert_matches_total",
				Help: "Total number of newly indexed rows matching a stored alert query.",
			},
			[]string{"alert"},
		),
	}
}

// New creates a Collector registered on its own registry together with the
// Go runtime and process collectors.
func New() *Collector {
	c := NewCollector()
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Register(c.registry)
	return c
}

// Register adds the counters to reg.
func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.Lines,
		c.TimestampFailures,
		c.Emitted,
		c.Queries,
		c.Alerts,
	)
}

// Handler serves the registry created by New. Collectors built with
// NewCollector are served from the default registry.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Line counts one line from source with the given result.
func (c *Collector) Line(source, result string) {
	if c == nil {
		return
	}
	c.Lines.WithLabelValues(source, result).Inc()
}

// TimestampFailure counts a line from source with an unreadable timestamp.
func (c *Collector) TimestampFailure(source string) {
	if c == nil {
		return
	}
	c.TimestampFailures.WithLabelValues(source).Inc()
}

// Emit counts entries delivered to, or failed by, an emitter.
func (c *Collector) Emit(emitter string, err error) {
	if c == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	c.Emitted.WithLabelValues(emitter, result).Inc()
}

// Query counts a search. An empty clause means the query had no usable terms.
func (c *Collector) Query(clause string, err error) {
	if c == nil {
		return
	}
	switch {
	case err != nil:
		c.Queries.WithLabelValues(ResultError).Inc()
	case clause == "":
		c.Queries.WithLabelValues(ResultEmpty).Inc()
	default:
		c.Queries.WithLabelValues(ResultOK).Inc()
	}
}

// AlertMatches counts rows matched by the named alert.
func (c *Collector) AlertMatches(alert string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.Alerts.WithLabelValues(alert).Add(float64(n))
}
