package cache

import (
	"net/http"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when no expires header is present.
	// SharePoint rarely sends Expires for file payloads, so most entries
	// live exactly this long.
	DefaultTTL = 15 * time.Minute
)

// EntryFromPayload builds a cache entry from a fetched binary payload and the
// response headers it arrived with.
func EntryFromPayload(data []byte, headers http.Header) *Entry {
	return &Entry{
		Data:        data,
		ContentType: headers.Get("Content-Type"),
		ETag:        headers.Get("ETag"),
		Expires:     parseExpires(headers),
		FetchedAt:   time.Now(),
	}
}

// parseExpires parses the Expires header from HTTP headers.
// Returns the parsed expiration time, or current time + DefaultTTL if the
// header is missing or unparsable.
func parseExpires(headers http.Header) time.Time {
	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return time.Now().Add(DefaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return time.Now().Add(DefaultTTL)
	}

	if expires.Before(time.Now()) {
		return time.Now()
	}

	return expires
}

// ShouldRevalidate reports whether the entry carries an ETag that allows a
// conditional re-fetch instead of a full download.
func ShouldRevalidate(entry *Entry) bool {
	return entry != nil && entry.ETag != ""
}

// ConditionalHeader returns the If-None-Match header for revalidating the
// entry, or nil when the entry has no ETag.
func ConditionalHeader(entry *Entry) http.Header {
	if !ShouldRevalidate(entry) {
		return nil
	}
	header := http.Header{}
	header.Set("If-None-Match", entry.ETag)
	return header
}
