package observability

import "github.com/prometheus/client_golang/prometheus"

// StockMetrics instruments the ledger write path. All methods are nil-safe.
type StockMetrics struct {
	movements *prometheus.CounterVec
	stockIn   *prometheus.CounterVec
	cascade   prometheus.Histogram
}

// NewStockMetrics registers the ledger collectors against registerer.
func NewStockMetrics(registerer prometheus.Registerer) *StockMetrics {
	m := &StockMetrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_movements_recorded_total",
			Help: "Committed stock movements by type.",
		}, []string{"type"}),
		stockIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_stockin_total",
			Help: "Stock-in submissions by outcome.",
		}, []string{"outcome"}),
		cascade: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockledger_ledger_cascade_rows",
			Help:    "Later summary rows rewritten when a movement is applied.",
			Buckets: []float64{0, 1, 2, 5, 10, 30, 90, 365},
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.movements, m.stockIn, m.cascade)
	}
	return m
}

// MovementRecorded counts a committed movement.
func (m *StockMetrics) MovementRecorded(movementType string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(movementType).Inc()
}

// StockIn counts a stock-in attempt by outcome (success or the error kind).
func (m *StockMetrics) StockIn(outcome string) {
	if m == nil {
		return
	}
	m.stockIn.WithLabelValues(outcome).Inc()
}

// CascadeRows observes how many later rows a movement rewrote.
func (m *StockMetrics) CascadeRows(n int) {
	if m == nil {
		return
	}
	m.cascade.Observe(float64(n))
}
