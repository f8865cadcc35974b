package cache

import "time"

// Entry represents a cached binary payload.
type Entry struct {
	// Data is the raw payload.
	Data []byte `json:"data"`

	// ContentType is the payload's media type.
	ContentType string `json:"content_type"`

	// ETag for conditional revalidation (If-None-Match).
	ETag string `json:"etag"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// FetchedAt is when the payload was retrieved.
	FetchedAt time.Time `json:"fetched_at"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
