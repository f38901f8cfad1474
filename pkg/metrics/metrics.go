// Package metrics exposes Prometheus instrumentation for the wallet core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mwallet"

var (
	syncFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_fetches_total",
			Help:      "Balance and holdings fetches by kind and result",
		},
		[]string{"kind", "result"},
	)

	syncFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_fetch_duration_seconds",
			Help:      "Duration of balance and holdings fetches",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"kind"},
	)

	syncStaleDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_stale_results_dropped_total",
			Help:      "Fetch results discarded because the session target changed",
		},
	)

	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC calls by method and result",
		},
		[]string{"method", "result"},
	)

	transfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer attempts by terminal outcome",
		},
		[]string{"outcome"},
	)

	transferConfirmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_confirm_duration_seconds",
			Help:      "Time from broadcast to receipt",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients",
		},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveFetch records one sync fetch of kind ("balance", "tokens", "nfts").
func ObserveFetch(kind string, start time.Time, err error) {
	syncFetches.WithLabelValues(kind, result(err)).Inc()
	syncFetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func StaleDropped() {
	syncStaleDropped.Inc()
}

func ObserveRPC(method string, err error) {
	rpcRequests.WithLabelValues(method, result(err)).Inc()
}

// TransferFinished records a terminal transfer outcome.
func TransferFinished(outcome string) {
	transfers.WithLabelValues(outcome).Inc()
}

func ObserveConfirm(d time.Duration) {
	transferConfirmDuration.Observe(d.Seconds())
}

func WSClientConnected()    { wsClients.Inc() }
func WSClientDisconnected() { wsClients.Dec() }
