package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	PendingExchanges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streambridge_pending_exchanges",
		Help: "Number of SDP exchanges awaiting a terminal poll",
	})
	PendingParamChanges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streambridge_pending_param_changes",
		Help: "Number of parameter names waiting for the next debounce flush",
	})
)

// Counters
var (
	ExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streambridge_sdp_exchanges_total",
		Help: "Total SDP exchanges by kind and outcome",
	}, []string{"kind", "outcome"})
	ParamPatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streambridge_param_patches_total",
		Help: "Total parameter PATCH calls by outcome",
	}, []string{"outcome"})
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streambridge_logins_total",
		Help: "Total login callback handshakes by outcome",
	}, []string{"outcome"})
	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streambridge_state_transitions_total",
		Help: "Total session state transitions by target state",
	}, []string{"to"})
)

// Histograms
var (
	ExchangeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streambridge_sdp_exchange_duration_ms",
		Help:    "Remote SDP exchange duration in milliseconds by kind",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
	}, []string{"kind"})
)
