// Package metrics provides Prometheus metrics for imports.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Import kinds used as label values.
const (
	KindContacts = "contacts"
	KindMessages = "messages"
)

// Skip reasons used as label values.
const (
	ReasonNotPhone   = "not_phone"
	ReasonEmptyText  = "empty_text"
	ReasonUnresolved = "unresolved"
)

// Metrics holds the import metrics. A nil *Metrics records nothing.
type Metrics struct {
	ImportedRows   *prometheus.CounterVec
	ImportDuration *prometheus.HistogramVec
	ImportFailures *prometheus.CounterVec
	SkippedRecords *prometheus.CounterVec
	StagedRecords  *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ImportedRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wppimport_imported_rows_total",
				Help: "Rows committed to the helpdesk database",
			},
			[]string{"tenant", "kind"},
		),
		ImportDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wppimport_import_duration_seconds",
				Help:    "Duration of import runs in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		ImportFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wppimport_import_failures_total",
				Help: "Import runs that ended with an error",
			},
			[]string{"kind"},
		),
		SkippedRecords: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wppimport_skipped_records_total",
				Help: "Staged records skipped during import",
			},
			[]string{"reason"},
		),
		StagedRecords: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wppimport_staged_records",
				Help: "Records currently staged",
			},
			[]string{"tenant", "kind"},
		),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) AddImported(tenant, kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ImportedRows.WithLabelValues(tenant, kind).Add(float64(n))
}

func (m *Metrics) ObserveDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ImportDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncFailure(kind string) {
	if m == nil {
		return
	}
	m.ImportFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.SkippedRecords.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetStaged(tenant string, contacts, messages int) {
	if m == nil {
		return
	}
	m.StagedRecords.WithLabelValues(tenant, KindContacts).Set(float64(contacts))
	m.StagedRecords.WithLabelValues(tenant, KindMessages).Set(float64(messages))
}
