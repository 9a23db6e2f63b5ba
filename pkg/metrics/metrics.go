// Package metrics holds the prometheus collectors shared by the scan and
// estimation paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nnnkkk7/tds-bridge/pkg/diag"
)

// Scan outcomes used as the outcome label of ScansTotal.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeClosed    = "closed"
)

var (
	ScanRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tdsbridge",
		Name:      "scan_rows_total",
		Help:      "The number of rows decoded by foreign table scans.",
	})

	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tdsbridge",
		Name:      "scans_total",
		Help:      "The number of foreign table scans closed, by outcome.",
	}, []string{"outcome"})

	ConversionWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tdsbridge",
		Name:      "conversion_warnings_total",
		Help:      "The number of non-fatal diagnostics reported while planning and decoding, by kind.",
	}, []string{"kind"})

	RowEstimateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tdsbridge",
		Name:      "row_estimate_duration_seconds",
		Help:      "The time spent estimating the row count of a foreign table.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"method"})
)

// CountingSink counts every warning it forwards by kind.
type CountingSink struct {
	next diag.Sink
}

// NewCountingSink wraps next.
func NewCountingSink(next diag.Sink) *CountingSink {
	if next == nil {
		next = diag.Discard
	}
	return &CountingSink{next: next}
}

// Report implements diag.Sink.
func (s *CountingSink) Report(d diag.Diagnostic) {
	if d.Level == diag.LevelWarning {
		ConversionWarningsTotal.WithLabelValues(string(d.Kind)).Inc()
	}
	s.next.Report(d)
}
