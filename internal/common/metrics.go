package common

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments shared by the build phases.
type Metrics struct {
	RowsIndexed    prometheus.Counter
	RowsSkipped    prometheus.Counter
	BytesScanned   prometheus.Counter
	SlabsBuilt     prometheus.Counter
	DistinctTokens prometheus.Counter
}

// NewMetrics creates and registers all build metrics with the provided
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	rowsIndexed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabular_rows_indexed_total",
		Help: "Data rows accepted into the row-offset index",
	})
	rowsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabular_rows_skipped_total",
		Help: "Data rows dropped for a column-count mismatch",
	})
	bytesScanned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabular_bytes_scanned_total",
		Help: "Source data bytes (past the header) covered by the row-offset build",
	})
	slabsBuilt := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabular_slabs_built_total",
		Help: "Column slabs factorized",
	})
	distinctTokens := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabular_distinct_tokens_total",
		Help: "Distinct tokens across all global column dictionaries",
	})

	reg.MustRegister(rowsIndexed, rowsSkipped, bytesScanned, slabsBuilt, distinctTokens)

	return &Metrics{
		RowsIndexed:    rowsIndexed,
		RowsSkipped:    rowsSkipped,
		BytesScanned:   bytesScanned,
		SlabsBuilt:     slabsBuilt,
		DistinctTokens: distinctTokens,
	}
}

// AddRowsIndexed is a nil-safe counter increment.
func (m *Metrics) AddRowsIndexed(n float64) {
	if m != nil {
		m.RowsIndexed.Add(n)
	}
}

// AddRowsSkipped is a nil-safe counter increment.
func (m *Metrics) AddRowsSkipped(n float64) {
	if m != nil {
		m.RowsSkipped.Add(n)
	}
}

// AddBytesScanned is a nil-safe counter increment.
func (m *Metrics) AddBytesScanned(n float64) {
	if m != nil {
		m.BytesScanned.Add(n)
	}
}

// AddSlabsBuilt is a nil-safe counter increment.
func (m *Metrics) AddSlabsBuilt(n float64) {
	if m != nil {
		m.SlabsBuilt.Add(n)
	}
}

// AddDistinctTokens is a nil-safe counter increment.
func (m *Metrics) AddDistinctTokens(n float64) {
	if m != nil {
		m.DistinctTokens.Add(n)
	}
}
