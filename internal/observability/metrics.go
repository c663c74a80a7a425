package observability

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics holds the Prometheus instruments the conversion engine
// updates as it runs: transactions processed, retrieval errors by class,
// current high-water mark per stream, and processing lag (transactions
// retrieved but not yet processed).
type EngineMetrics struct {
	TransactionsProcessed prometheus.Counter
	RetrievalErrors       *prometheus.CounterVec
	StreamHWM             *prometheus.GaugeVec
	ProcessingLag         prometheus.Gauge
}

// NewEngineMetrics constructs and registers engine instruments against reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose on the process-wide /metrics
// endpoint.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		TransactionsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ac2git",
			Name:      "transactions_processed_total",
			Help:      "Total source transactions committed to visible branches.",
		}),
		RetrievalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ac2git",
			Name:      "retrieval_errors_total",
			Help:      "Retrieval errors by taxonomy class (transient, source, parse).",
		}, []string{"class"}),
		StreamHWM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ac2git",
			Name:      "stream_hwm",
			Help:      "Current high-water-mark transaction id per tracked stream.",
		}, []string{"stream"}),
		ProcessingLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ac2git",
			Name:      "processing_lag_transactions",
			Help:      "Transactions retrieved but not yet processed by the planner/processor.",
		}),
	}

	reg.MustRegister(m.TransactionsProcessed, m.RetrievalErrors, m.StreamHWM, m.ProcessingLag)

	return m
}
