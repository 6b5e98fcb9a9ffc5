package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxyRequestsTotal counts JSON-RPC requests seen by the signing proxy
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubist_proxy_requests_total",
			Help: "Total number of JSON-RPC requests handled by the proxy",
		},
		[]string{"chain", "method"},
	)

	// ProxyErrorsTotal counts JSON-RPC error responses produced by the proxy
	ProxyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubist_proxy_errors_total",
			Help: "Total number of JSON-RPC errors produced by the proxy",
		},
		[]string{"chain", "code"},
	)

	// TransactionsSigned counts transactions signed by the credential proxy
	TransactionsSigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubist_proxy_transactions_signed_total",
			Help: "Total number of transactions signed",
		},
		[]string{"chain", "method"},
	)

	// ProxyConnections tracks open client connections
	ProxyConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cubist_proxy_connections",
			Help: "Number of open client connections by transport",
		},
		[]string{"transport"},
	)

	// EventsForwarded counts events relayed from a shim to its destination
	EventsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubist_relayer_events_forwarded_total",
			Help: "Total number of events forwarded to destination contracts",
		},
		[]string{"source", "destination", "status"},
	)

	// ForwardDuration tracks destination call latency
	ForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubist_relayer_forward_duration_seconds",
			Help:    "Destination call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"destination"},
	)

	// BridgesActive tracks running event subscriptions
	BridgesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cubist_relayer_bridges_active",
			Help: "Number of running shim event subscriptions",
		},
	)

	// ManifestsProcessed counts deployment manifests picked up by the watcher
	ManifestsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubist_relayer_manifests_processed_total",
			Help: "Total number of deployment manifests processed",
		},
		[]string{"status"},
	)

	// PendingRequests tracks queued destination calls per target
	PendingRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cubist_relayer_pending_requests",
			Help: "Number of queued destination calls by target",
		},
		[]string{"target"},
	)

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubist_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// ChainBootstrapDuration tracks how long local chains take to become ready
	ChainBootstrapDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubist_chain_bootstrap_duration_seconds",
			Help:    "Local chain bootstrap duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		},
		[]string{"provider"},
	)

	// GasUsed tracks gas used by deployment and relayed transactions
	GasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubist_gas_used",
			Help:    "Gas used for EVM transactions",
			Buckets: []float64{21000, 50000, 100000, 200000, 500000, 1000000, 3000000},
		},
		[]string{"operation"},
	)

	// DaemonsStarted tracks services started through the daemon manager
	DaemonsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubist_daemons_started_total",
			Help: "Total number of cubist services started",
		},
		[]string{"kind", "mode"},
	)
)
