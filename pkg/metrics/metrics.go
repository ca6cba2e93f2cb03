package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker loop metrics
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custos_worker_cycles_total",
			Help: "Total number of worker cycles by worker type and cycle status",
		},
		[]string{"worker_type", "status"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custos_worker_cycle_duration_seconds",
			Help:    "Worker cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker_type"},
	)

	// Job metrics
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custos_jobs_processed_total",
			Help: "Total number of jobs processed by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	JobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custos_job_retries_total",
			Help: "Total number of job retries scheduled by queue and error code",
		},
		[]string{"queue", "code"},
	)

	// Signer metrics
	SignerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custos_signer_calls_total",
			Help: "Total number of signer calls by result",
		},
		[]string{"result"},
	)

	SignerCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "custos_signer_call_duration_seconds",
			Help:    "Signer call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Wallet lock metrics
	LockContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custos_wallet_lock_contention_total",
			Help: "Total number of failed wallet lock acquisitions by lock kind",
		},
		[]string{"kind"},
	)

	// Deposit metrics
	DepositsConfirmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "custos_deposits_confirmed_total",
			Help: "Total number of deposits confirmed",
		},
	)

	DepositsCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "custos_deposits_credited_total",
			Help: "Total number of deposits credited to user balances",
		},
	)

	// Chain RPC metrics
	RPCRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custos_chain_rpc_requests_total",
			Help: "Total number of chain RPC requests by chain and result",
		},
		[]string{"chain", "result"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(JobsProcessed)
	prometheus.MustRegister(JobRetries)
	prometheus.MustRegister(SignerCalls)
	prometheus.MustRegister(SignerCallDuration)
	prometheus.MustRegister(LockContention)
	prometheus.MustRegister(DepositsConfirmed)
	prometheus.MustRegister(DepositsCredited)
	prometheus.MustRegister(RPCRequests)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
