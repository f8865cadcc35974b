package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sp_blob_cache_hits_total",
			Help: "Total number of blob cache hits",
		},
		[]string{"layer"}, // "redis"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sp_blob_cache_misses_total",
			Help: "Total number of blob cache misses",
		},
	)

	// CacheSize tracks cache size in bytes by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sp_blob_cache_size_bytes",
			Help: "Current size of the blob cache in bytes",
		},
		[]string{"layer"}, // "redis"
	)

	// Revalidations tracks 304 Not Modified revalidations
	Revalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sp_blob_revalidations_total",
			Help: "Total number of 304 Not Modified blob revalidations",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sp_blob_cache_errors_total",
			Help: "Total number of blob cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
