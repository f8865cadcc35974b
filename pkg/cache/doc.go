// Package cache provides a Redis-backed blob cache for binary SharePoint
// payloads such as user photos and file contents.
//
// Entries carry the payload, its content type and the ETag SharePoint
// returned, so a stale entry can be revalidated with a conditional request
// instead of a full re-download.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Site: "https://tenant.sharepoint.com/sites/team",
//		Path: "/sites/team/SiteAssets/photo.png",
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from SharePoint, then manager.Set
//	}
//
// A nil Redis client is allowed and turns the manager into a no-op: every
// Get misses and Set does nothing, so callers need no separate code path
// when caching is not configured.
//
// # Metrics
//
// The manager exports Prometheus metrics:
//
//   - sp_blob_cache_hits_total{layer="redis"} - Cache hits
//   - sp_blob_cache_misses_total - Cache misses
//   - sp_blob_cache_size_bytes{layer="redis"} - Cache size
//   - sp_blob_revalidations_total - 304 Not Modified revalidations
//   - sp_blob_cache_errors_total{operation} - Cache operation errors
package cache
