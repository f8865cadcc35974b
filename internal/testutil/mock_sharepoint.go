// Package testutil provides testing utilities for the SharePoint toolkit.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock SharePoint endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSharePoint is a configurable mock SharePoint REST server for testing.
type MockSharePoint struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
}

// NewMockSharePoint creates a new mock SharePoint server.
func NewMockSharePoint() *MockSharePoint {
	mock := &MockSharePoint{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()

		// Track conditional requests
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		mock.mu.Unlock()

		// Check for custom handler
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		// Default handler
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSharePoint) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSharePoint) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSharePoint) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSharePoint) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockSharePoint) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		// Add delay if specified
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		// Set headers
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		// Write status and body
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetListItemsResponse configures the items endpoint of a list.
func (m *MockSharePoint) SetListItemsResponse(listTitle string, resp MockResponse) {
	path := fmt.Sprintf("/_api/web/lists/getbytitle('%s')/items", listTitle)
	m.SetResponse(path, resp)
}

// SetFileResponse configures the $value endpoint of a server-relative file.
func (m *MockSharePoint) SetFileResponse(serverRelativePath string, resp MockResponse) {
	path := fmt.Sprintf("/_api/web/getfilebyserverrelativeurl('%s')/$value", serverRelativePath)
	m.SetResponse(path, resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSharePoint) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockSharePoint) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// defaultHandler provides default SharePoint-like responses.
func (m *MockSharePoint) defaultHandler(w http.ResponseWriter, r *http.Request) {
	// Set default throttle headers
	w.Header().Set("RateLimit-Remaining", "1000")
	w.Header().Set("RateLimit-Reset", "60")
	w.Header().Set("Content-Type", "application/json;odata=nometadata")

	// Handle conditional requests
	if r.Header.Get("If-None-Match") != "" {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	// Default 200 OK response
	w.Header().Set("ETag", `"default-etag"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"value":[]}`))
}

// NewHealthyResponse creates a standard 200 OK response with throttle headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"RateLimit-Remaining": "1000",
			"RateLimit-Reset":     "60",
			"ETag":                `"test-etag-123"`,
			"Content-Type":        "application/json;odata=nometadata",
		},
	}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotModified,
		Headers: map[string]string{
			"RateLimit-Remaining": "1000",
			"RateLimit-Reset":     "60",
		},
	}
}

// NewThrottledResponse creates a 429 Too Many Requests response with the
// headers SharePoint sends when a tenant is throttled.
func NewThrottledResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":{"message":"429 TOO MANY REQUESTS"}}`,
		Headers: map[string]string{
			"RateLimit-Remaining": "5",
			"RateLimit-Reset":     "30",
			"Retry-After":         "30",
			"Content-Type":        "application/json;odata=nometadata",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":{"message":"Internal server error"}}`,
		Headers: map[string]string{
			"RateLimit-Remaining": "950",
			"RateLimit-Reset":     "60",
			"Content-Type":        "application/json;odata=nometadata",
		},
	}
}

// NewConditionalHandler creates a handler that responds with 304 for
// conditional requests carrying the given ETag.
func NewConditionalHandler(etag string, data string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "1000")
		w.Header().Set("RateLimit-Reset", "60")

		// Check If-None-Match header
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		// Full response
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}
