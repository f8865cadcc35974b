// Package metrics provides the centralized Prometheus metrics registry for
// the toolkit. All metrics are defined in their respective packages
// (spclient, cache, ratelimit, photo) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the toolkit.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Throttle Metrics (pkg/ratelimit):
//   - sp_throttle_units_remaining (Gauge): Resource units remaining in the throttle window
//   - sp_throttle_blocks_total (Counter): Requests blocked due to critical throttle state
//   - sp_throttle_delays_total (Counter): Requests delayed due to warning throttle state
//
// Blob Cache Metrics (pkg/cache):
//   - sp_blob_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - sp_blob_cache_misses_total (Counter): Cache misses
//   - sp_blob_cache_size_bytes{layer="redis"} (Gauge): Current cache size in bytes
//   - sp_blob_revalidations_total (Counter): 304 Not Modified revalidations
//   - sp_blob_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/spclient):
//   - sp_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - sp_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - sp_errors_total{class} (Counter): Errors by class (client, server, throttled, network)
//
// Retry Metrics (pkg/spclient):
//   - sp_retries_total{error_class} (Counter): Retry attempts by error class
//   - sp_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - sp_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Batch Metrics (pkg/spclient):
//   - sp_batches_total (Counter): Executed batch round-trips
//   - sp_batch_operations_total{outcome} (Counter): Batched operations by outcome (ok, failed)
//
// Photo Metrics (pkg/photo):
//   - sp_photo_loads_total{source} (Counter): Photo/file loads by source (cache, network, revalidated)
//
// Example Prometheus Queries:
//
//   # Blob Cache Hit Rate
//   sum(rate(sp_blob_cache_hits_total[5m])) /
//   (sum(rate(sp_blob_cache_hits_total[5m])) + sum(rate(sp_blob_cache_misses_total[5m])))
//
//   # Throttle Pressure
//   sp_throttle_units_remaining < 50
//
//   # Request Error Rate
//   rate(sp_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(sp_request_duration_seconds_bucket[5m]))
//
//   # Batch Partial Failure Rate
//   rate(sp_batch_operations_total{outcome="failed"}[5m]) / rate(sp_batch_operations_total[5m])
