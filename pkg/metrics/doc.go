/*
Package metrics provides Prometheus metrics collection and health endpoints
for the storage service.

The metrics package defines and registers all service metrics using the
Prometheus client library, providing observability into transfer throughput,
job lifecycle, repack outcomes, and API latency. Metrics are exposed via HTTP
endpoint for scraping by Prometheus servers. The package also implements the
liveness and readiness probes used by deployment orchestration.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry               │           │
	│  │  - Global DefaultRegistry                  │           │
	│  │  - MustRegister at package init            │           │
	│  │  - Automatic Go runtime metrics            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Metric Categories                │           │
	│  │                                            │           │
	│  │  Transfers: jobs, bytes, repacks           │           │
	│  │  Channels: connected progress subscribers  │           │
	│  │  API: request count, duration              │           │
	│  │  Callbacks: manager notification delivery  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          HTTP Endpoints                    │           │
	│  │  - /metrics: promhttp.Handler()            │           │
	│  │  - /health:  LivenessHandler()             │           │
	│  │  - /ready:   ReadyHandler()                │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Metrics Catalog

Transfer Metrics:

ow_storage_transfers_total{mode, result}:
  - Type: Counter
  - Description: Total transfer jobs by mode (download/upload) and result
    (success/error)
  - Example: ow_storage_transfers_total{mode="download",result="success"} 42

ow_storage_transfer_bytes_total{direction}:
  - Type: Counter
  - Description: Total payload bytes moved through the pipeline by direction
    (in/out)
  - Example: ow_storage_transfer_bytes_total{direction="in"} 1073741824

ow_storage_jobs_active:
  - Type: Gauge
  - Description: Jobs currently held in the in-memory registry
  - Example: ow_storage_jobs_active 3

ow_storage_repacks_total{outcome}:
  - Type: Counter
  - Description: Repack runs by outcome (packed/canonical/error)
  - Example: ow_storage_repacks_total{outcome="packed"} 17

Channel Metrics:

ow_storage_ws_subscribers:
  - Type: Gauge
  - Description: Connected progress-channel subscribers across all jobs
  - Example: ow_storage_ws_subscribers 2

API Metrics:

ow_storage_api_requests_total{method, status}:
  - Type: Counter
  - Description: Total API requests by handler name and HTTP status
  - Example: ow_storage_api_requests_total{method="TransferStart",status="200"} 42

ow_storage_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request duration in seconds
  - Buckets: Default Prometheus buckets

Callback Metrics:

ow_storage_callbacks_total{status}:
  - Type: Counter
  - Description: Manager callbacks by delivery status
    (delivered/failed/skipped)
  - Example: ow_storage_callbacks_total{status="delivered"} 40

# Usage

Updating metrics:

	import "github.com/open-workshop/storage/pkg/metrics"

	// Count a finished job
	metrics.TransfersTotal.WithLabelValues("download", "success").Inc()

	// Track payload bytes
	metrics.TransferBytesTotal.WithLabelValues("in").Add(float64(n))

	// Keep the registry gauge current
	metrics.SetActiveJobs(reg.Len())

Exposing endpoints:

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.LivenessHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())

Health registration at startup:

	metrics.SetVersion(version)
	metrics.SetComponent("archiver", true, "7z 23.01")
	metrics.SetComponent("storage_root", true, "")

Readiness requires every critical component (archiver, storage_root) to have
registered healthy; until then /ready answers 503 and the deployment keeps
traffic away. Liveness answers 200 whenever the process runs.

# Integration Points

This package integrates with:

  - pkg/engine: Counts transfers, bytes, and repack outcomes
  - pkg/registry: Maintains the active-jobs and subscriber gauges
  - pkg/api: Instruments request count and duration, mounts the endpoints
  - pkg/client: Records callback delivery status
  - cmd/ow-storage: Registers component health at startup

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()

Label Discipline:
  - Labels are cardinality-bounded enums (mode, result, direction, outcome)
  - Job IDs never appear as label values; per-job detail belongs in logs
  - Handler names label API metrics instead of raw URL paths

# Monitoring

Prometheus Queries (PromQL):

Transfer Health:
  - Job rate: rate(ow_storage_transfers_total[5m])
  - Error ratio: rate(ow_storage_transfers_total{result="error"}[5m])
    / rate(ow_storage_transfers_total[5m])
  - Ingest throughput: rate(ow_storage_transfer_bytes_total{direction="in"}[1m])

API Performance:
  - Request rate: rate(ow_storage_api_requests_total[1m])
  - p95 latency: histogram_quantile(0.95, ow_storage_api_request_duration_seconds_bucket)

Callback Delivery:
  - Failure rate: rate(ow_storage_callbacks_total{status="failed"}[5m])

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
