package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what happens to uploads as they move through the pipeline
type Metrics struct {
	uploads      *prometheus.CounterVec
	extractions  *prometheus.CounterVec
	storageFails prometheus.Counter
	saves        *prometheus.CounterVec
	extractTime  prometheus.Histogram
}

// NewMetrics creates the pipeline collectors and registers them with reg when it is non-nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expense_splitter",
			Name:      "uploads_total",
			Help:      "Files offered for ingestion, by outcome of MIME validation.",
		}, []string{"result"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expense_splitter",
			Name:      "extractions_total",
			Help:      "Extraction attempts, by result.",
		}, []string{"result"}),
		storageFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "expense_splitter",
			Name:      "storage_failures_total",
			Help:      "Original uploads that could not be written to object storage.",
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expense_splitter",
			Name:      "receipt_saves_total",
			Help:      "Finalized receipt saves, by result.",
		}, []string{"result"}),
		extractTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "expense_splitter",
			Name:      "extraction_duration_seconds",
			Help:      "Time spent in the extraction backend.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.uploads, m.extractions, m.storageFails, m.saves, m.extractTime)
	}
	return m
}

func (m *Metrics) upload(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.uploads.WithLabelValues("accepted").Inc()
	} else {
		m.uploads.WithLabelValues("rejected").Inc()
	}
}

func (m *Metrics) extraction(ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.extractTime.Observe(seconds)
	if ok {
		m.extractions.WithLabelValues("success").Inc()
	} else {
		m.extractions.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) storageFailure() {
	if m == nil {
		return
	}
	m.storageFails.Inc()
}

func (m *Metrics) save(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.saves.WithLabelValues("success").Inc()
	} else {
		m.saves.WithLabelValues("failure").Inc()
	}
}
