// Package telemetry exposes prometheus counters for reconciliation outcomes.
// Only aggregate counts are recorded; no user identifiers or merchant names
// reach the metrics endpoint.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	passesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subwatch",
		Name:      "reconciliation_passes_total",
		Help:      "Number of completed reconciliation passes.",
	})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subwatch",
		Name:      "evidence_items_total",
		Help:      "Evidence items by outcome across all passes.",
	}, []string{"outcome"})
)

// RecordPass tallies one finished pass into the counters.
func RecordPass(processed, created, updated, cancelled, skipped, failed int) {
	passesTotal.Inc()
	itemsTotal.WithLabelValues("processed").Add(float64(processed))
	itemsTotal.WithLabelValues("created").Add(float64(created))
	itemsTotal.WithLabelValues("updated").Add(float64(updated))
	itemsTotal.WithLabelValues("cancelled").Add(float64(cancelled))
	itemsTotal.WithLabelValues("skipped").Add(float64(skipped))
	itemsTotal.WithLabelValues("failed").Add(float64(failed))
}

// Serve starts the metrics endpoint on addr. It blocks; run it in a
// goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics endpoint stopped")
	}
}
