// Package photo retrieves binary SharePoint payloads such as user photos and
// file contents, fronted by the blob cache.
//
// A session hands out at most one live Ref at a time: loading a new payload
// releases the previous reference before the new one is installed, so callers
// that repeatedly reload never accumulate stale blobs. Error results carry
// human-readable hints for the common HTTP statuses on this path (not found,
// forbidden, unauthorized) via the client's status sentinels.
package photo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apvee/sptoolkit-go/pkg/cache"
	"github.com/apvee/sptoolkit-go/pkg/spclient"
)

var spPhotoLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sp_photo_loads_total",
	Help: "Total photo/file loads by source",
}, []string{"source"}) // "cache", "network", "revalidated"

// Ref is a released-once handle to a loaded binary payload. After Close the
// payload is no longer reachable through the Ref.
type Ref struct {
	mu          sync.Mutex
	data        []byte
	contentType string
	released    bool
}

// Data returns the payload, or nil after release.
func (r *Ref) Data() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	return r.data
}

// ContentType returns the payload's media type.
func (r *Ref) ContentType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contentType
}

// Close releases the reference. Safe to call more than once.
func (r *Ref) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.data = nil
}

// Released reports whether the reference has been released.
func (r *Ref) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Session loads binary payloads by server-relative path. It is owned by one
// consumer; the current reference is replaced, never duplicated.
type Session struct {
	provider *spclient.Provider
	cache    *cache.Manager
	logger   zerolog.Logger

	mu      sync.Mutex
	current *Ref
	loading bool
	err     error
	closed  bool
}

// NewSession creates a photo session. manager may be cache.NewManager(nil)
// when no Redis is configured.
func NewSession(provider *spclient.Provider, manager *cache.Manager) *Session {
	return &Session{
		provider: provider,
		cache:    manager,
		logger:   log.With().Str("component", "photo-session").Logger(),
	}
}

// Current returns the live reference, nil if none.
func (s *Session) Current() *Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Loading reports whether a load is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last recorded error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the session down and releases the current reference.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}

func (s *Session) apply(mutate func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	mutate()
}

func (s *Session) setError(err error) {
	s.apply(func() {
		s.loading = false
		s.err = err
	})
}

// install releases the previous reference and makes ref current. After Close
// the ref is still returned to the caller but not tracked by the session.
func (s *Session) install(data []byte, contentType string) *Ref {
	ref := &Ref{data: data, contentType: contentType}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
	if !s.closed {
		s.current = ref
	}
	return ref
}

// Load fetches the payload at the server-relative path, serving from the blob
// cache when possible. The returned Ref replaces the session's previous one.
func (s *Session) Load(ctx context.Context, serverRelativePath string) (*Ref, error) {
	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return nil, err
	}

	s.apply(func() {
		s.loading = true
		s.err = nil
	})

	key := cache.Key{Site: s.provider.BaseURL(), Path: serverRelativePath}

	cached, cacheErr := s.cache.Get(ctx, key)
	if cacheErr == nil {
		spPhotoLoads.WithLabelValues("cache").Inc()
		ref := s.install(cached.Data, cached.ContentType)
		s.apply(func() { s.loading = false })
		return ref, nil
	}
	if cacheErr != cache.ErrCacheMiss {
		s.logger.Warn().Err(cacheErr).Msg("Blob cache lookup failed")
	}

	return s.fetch(ctx, client, key, serverRelativePath, nil)
}

// Reload forces a round-trip for the path. When the cache holds an entry with
// an ETag, a conditional request is sent; a 304 answer extends the cached
// entry instead of re-downloading the payload.
func (s *Session) Reload(ctx context.Context, serverRelativePath string) (*Ref, error) {
	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return nil, err
	}

	s.apply(func() {
		s.loading = true
		s.err = nil
	})

	key := cache.Key{Site: s.provider.BaseURL(), Path: serverRelativePath}

	var header http.Header
	cached, cacheErr := s.cache.Get(ctx, key)
	if cacheErr == nil && cache.ShouldRevalidate(cached) {
		header = cache.ConditionalHeader(cached)
	}

	ref, err := s.fetch(ctx, client, key, serverRelativePath, header)
	if err == nil {
		return ref, nil
	}

	// 304 means the cached payload is still current.
	if cached != nil && errors.Is(err, errNotModified) {
		spPhotoLoads.WithLabelValues("revalidated").Inc()
		if extendErr := s.cache.ExtendTTL(ctx, key, time.Now().Add(cache.DefaultTTL)); extendErr != nil {
			s.logger.Warn().Err(extendErr).Msg("Failed to extend blob TTL after revalidation")
		}
		out := s.install(cached.Data, cached.ContentType)
		s.apply(func() {
			s.loading = false
			s.err = nil
		})
		return out, nil
	}

	return nil, err
}

// errNotModified signals a 304 answer to a conditional fetch.
var errNotModified = errors.New("not modified")

func (s *Session) fetch(ctx context.Context, client *spclient.Client, key cache.Key, serverRelativePath string, header http.Header) (*Ref, error) {
	apiPath := fmt.Sprintf("web/getfilebyserverrelativeurl('%s')/$value", escapePath(serverRelativePath))

	resp, err := client.Do(ctx, http.MethodGet, apiPath, nil, nil, header)
	if err != nil {
		s.setError(err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, errNotModified
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("read payload: %w", err)
		s.setError(err)
		return nil, err
	}

	entry := cache.EntryFromPayload(data, resp.Header)
	if cacheErr := s.cache.Set(ctx, key, entry); cacheErr != nil {
		s.logger.Warn().Err(cacheErr).Msg("Failed to cache blob")
	}

	spPhotoLoads.WithLabelValues("network").Inc()

	s.logger.Debug().
		Str("path", serverRelativePath).
		Int("bytes", len(data)).
		Msg("Loaded binary payload")

	ref := s.install(data, entry.ContentType)
	s.apply(func() { s.loading = false })
	return ref, nil
}

// escapePath doubles single quotes for embedding in an OData path literal.
func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
