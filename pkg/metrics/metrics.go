package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transfer metrics
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ow_storage_transfers_total",
			Help: "Total number of transfer jobs by mode and result",
		},
		[]string{"mode", "result"},
	)

	TransferBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ow_storage_transfer_bytes_total",
			Help: "Total bytes moved through the transfer pipeline by direction",
		},
		[]string{"direction"},
	)

	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ow_storage_jobs_active",
			Help: "Number of jobs currently held in the registry",
		},
	)

	WSSubscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ow_storage_ws_subscribers",
			Help: "Number of connected progress-channel subscribers",
		},
	)

	RepacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ow_storage_repacks_total",
			Help: "Total number of repack runs by outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ow_storage_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ow_storage_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Callback metrics
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ow_storage_callbacks_total",
			Help: "Total number of manager callbacks by delivery status",
		},
		[]string{"status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TransfersTotal)
	prometheus.MustRegister(TransferBytesTotal)
	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(WSSubscribersGauge)
	prometheus.MustRegister(RepacksTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(CallbacksTotal)
}

// SetActiveJobs records the current registry size.
func SetActiveJobs(n int) {
	JobsActive.Set(float64(n))
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
