// Package metrics provides Prometheus instrumentation for the trade flows.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FlowsTotal counts open/close flows by action and terminal outcome.
	FlowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_flows_total",
		Help: "Position flows by action and outcome",
	}, []string{"action", "outcome"})

	// ProofLatency tracks proving-backend latency by action.
	ProofLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veil_proof_latency_seconds",
		Help:    "Proof generation latency in seconds",
		Buckets: []float64{1, 5, 10, 15, 20, 30, 45, 60, 90},
	}, []string{"action"})

	// NonceWaitTimeouts counts nonce-advance polls that hit the attempt cap.
	NonceWaitTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veil_nonce_wait_timeouts_total",
		Help: "Nonce-advance waits that exceeded the poll bound",
	})

	// SoftCloses counts closes cleared locally after a failed submission.
	SoftCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veil_soft_closes_total",
		Help: "Closes cleared locally without on-chain confirmation",
	})

	// ReconcileDrops counts cached positions pruned as absent on-chain.
	ReconcileDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veil_reconcile_drops_total",
		Help: "Cached positions dropped during reconciliation",
	})

	// CachedPositions tracks the local position cache size.
	CachedPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "veil_cached_positions",
		Help: "Positions currently in the local cache",
	})
)

// Serve exposes /metrics on addr. Blocks until the listener fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
