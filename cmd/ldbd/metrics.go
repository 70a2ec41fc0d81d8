package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/theupdateframework/ldb/adapter"
)

// Metrics registered by ldbd itself (spec.md SPEC_FULL.md §2 "added"
// Metrics surface): a small counter/gauge set, never required by library
// callers, mirroring the teacher's own use of prometheus/client_golang in
// server/.
var (
	bulkDocsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ldb_bulk_docs_total",
		Help: "Documents processed across all bulk_docs calls issued by ldbd.",
	})
	updateSeqGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ldb_update_seq",
		Help: "update_seq of the most recently touched database.",
	})
	docCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ldb_doc_count",
		Help: "doc_count of the most recently touched database.",
	})
)

func init() {
	prometheus.MustRegister(bulkDocsTotal, updateSeqGauge, docCountGauge)
}

// observeCounters refreshes the update_seq/doc_count gauges from db's
// current counters; called after any command that opens a database.
func observeCounters(db *adapter.DB) {
	updateSeqGauge.Set(float64(db.UpdateSeq()))
	docCountGauge.Set(float64(db.DocCount()))
}

// serveMetrics exposes the registered collectors on addr for as long as the
// process runs. Started only when --metrics-addr is set: metrics are local
// introspection for whoever runs ldbd, never a surface the adapter library
// itself depends on.
func serveMetrics(addr string, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
}
