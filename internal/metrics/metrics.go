// Package metrics exposes Prometheus instruments for cursor and query activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several databases (and tests) can live
// in one process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cursorOps       *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	openEnumerators prometheus.Gauge
	queryDuration   *prometheus.HistogramVec
	documentWrites  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cursorOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docquery_cursor_operations_total",
				Help: "Cursor operations by operation and status",
			},
			[]string{"op", "status"},
		),
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docquery_refresh_total",
				Help: "Refresh checks by result (unchanged, changed, error)",
			},
			[]string{"result"},
		),
		openEnumerators: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docquery_open_enumerators",
				Help: "Enumerators that have not been freed yet",
			},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docquery_query_duration_seconds",
				Help:    "Time spent executing a query until its enumerator is ready",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"mode"},
		),
		documentWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docquery_document_writes_total",
				Help: "Document writes by kind (put, delete)",
			},
			[]string{"kind"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// CursorOp records one enumerator step.
func (m *Metrics) CursorOp(op string, err error) {
	if m == nil {
		return
	}
	m.cursorOps.WithLabelValues(op, status(err)).Inc()
}

// Refresh records the outcome of a refresh check.
func (m *Metrics) Refresh(changed bool, err error) {
	if m == nil {
		return
	}
	result := "unchanged"
	switch {
	case err != nil:
		result = "error"
	case changed:
		result = "changed"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) EnumeratorOpened() {
	if m == nil {
		return
	}
	m.openEnumerators.Inc()
}

func (m *Metrics) EnumeratorFreed() {
	if m == nil {
		return
	}
	m.openEnumerators.Dec()
}

// QueryExecuted observes execution time for a recorded or streaming query.
func (m *Metrics) QueryExecuted(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) DocumentWrite(kind string) {
	if m == nil {
		return
	}
	m.documentWrites.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
