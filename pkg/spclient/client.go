// Package spclient provides the core SharePoint REST client with request
// pacing, throttle tracking, retries and status error enrichment. Sessions
// build on it; they never touch the wire themselves.
package spclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/apvee/sptoolkit-go/pkg/ratelimit"
)

// Prometheus metrics for SharePoint client operations.
var (
	spRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sp_requests_total",
		Help: "Total SharePoint requests by endpoint and status",
	}, []string{"endpoint", "status"})

	spRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sp_request_duration_seconds",
		Help:    "SharePoint request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	spErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sp_errors_total",
		Help: "Total SharePoint errors by class",
	}, []string{"class"})
)

const acceptJSON = "application/json;odata=nometadata"

// Client is the SharePoint REST client shared by all sessions deriving from
// the same context. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	tokenSource oauth2.TokenSource
	limiter     *rate.Limiter
	throttle    *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the absolute site URL, e.g. "https://tenant.sharepoint.com/sites/team".
	BaseURL string

	// TokenSource supplies bearer tokens. Nil means anonymous requests,
	// which is only useful against test servers.
	TokenSource oauth2.TokenSource

	// Redis client for shared throttle state. Nil disables sharing.
	Redis *redis.Client

	// Pacing
	RequestsPerSecond float64
	Burst             int

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration

	// Timeout per HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
// The pacing defaults are conservative for SharePoint Online quotas.
func DefaultConfig(baseURL string, tokenSource oauth2.TokenSource) Config {
	return Config{
		BaseURL:           baseURL,
		TokenSource:       tokenSource,
		RequestsPerSecond: 10.0,
		Burst:             15,
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		Timeout:           30 * time.Second,
	}
}

// New creates a new SharePoint client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10.0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 15
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "sp-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     base,
		tokenSource: cfg.TokenSource,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		throttle:    ratelimit.NewTracker(cfg.Redis, logger),
		config:      cfg,
		logger:      logger,
	}, nil
}

// BaseURL returns the resolved site URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// apiURL joins an _api-relative path with the site URL and query parameters.
func (c *Client) apiURL(apiPath string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/_api/" + strings.TrimPrefix(apiPath, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// authorize attaches a bearer token from the configured token source.
func (c *Client) authorize(req *http.Request) error {
	if c.tokenSource == nil {
		return nil
	}
	token, err := c.tokenSource.Token()
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}

// Do performs a SharePoint request with pacing, throttle gating, retries and
// status error enrichment. Responses with status >= 400 are converted into a
// *RequestError wrapping the matching sentinel; the caller always receives
// either a successful response or an error, never both.
func (c *Client) Do(ctx context.Context, method, apiPath string, query url.Values, body []byte, header http.Header) (*http.Response, error) {
	endpoint := "/_api/" + strings.TrimPrefix(apiPath, "/")

	startTime := time.Now()
	defer func() {
		spRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: local pacing
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pacing wait: %w", err)
	}

	// Step 2: shared throttle gate
	allowed, err := c.throttle.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Throttle check failed")
		return nil, fmt.Errorf("throttle check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg("Request blocked by throttle tracker")
		spRequestsTotal.WithLabelValues(endpoint, "throttled").Inc()
		return nil, &RequestError{
			StatusCode: http.StatusTooManyRequests,
			ErrorClass: ErrorClassThrottled,
			Endpoint:   endpoint,
			Message:    "blocked before send: throttle state critical",
			Err:        ErrThrottled,
		}
	}

	targetURL := c.apiURL(apiPath, query)

	var resp *http.Response

	retryErr := retryWithBackoff(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, reqErr := http.NewRequestWithContext(ctx, method, targetURL, reader)
		if reqErr != nil {
			return fmt.Errorf("create request: %w", reqErr)
		}

		req.Header.Set("Accept", acceptJSON)
		for key, values := range header {
			for _, value := range values {
				req.Header.Set(key, value)
			}
		}

		if authErr := c.authorize(req); authErr != nil {
			return authErr
		}

		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("method", method).
			Msg("Executing SharePoint request")

		var doErr error
		resp, doErr = c.httpClient.Do(req)
		if doErr != nil {
			c.logger.Error().Err(doErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			spErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			spRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return &RequestError{
				ErrorClass: ErrorClassNetwork,
				Endpoint:   endpoint,
				Message:    "network error",
				Err:        doErr,
			}
		}

		// Update throttle state from headers regardless of outcome
		if updateErr := c.throttle.UpdateFromHeaders(ctx, resp.Header); updateErr != nil {
			c.logger.Warn().Err(updateErr).Msg("Failed to update throttle state from headers")
		}

		if resp.StatusCode >= 400 {
			errClass := classifyStatus(resp.StatusCode)
			spErrorsTotal.WithLabelValues(string(errClass)).Inc()
			spRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status_code", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("SharePoint request error")

			message := resp.Status
			// Error bodies are small; read them for the diagnostic message.
			if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil && len(data) > 0 {
				message = strings.TrimSpace(string(data))
			}
			resp.Body.Close()

			return &RequestError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Endpoint:   endpoint,
				Message:    message,
				Err:        WrapStatus(resp.StatusCode),
			}
		}

		spRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return nil
	}, func(err error) ErrorClass {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return reqErr.ErrorClass
		}
		return ErrorClassNetwork
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return resp, nil
}

// GetJSON performs a GET request and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, apiPath string, query url.Values, v any) error {
	resp, err := c.Do(ctx, http.MethodGet, apiPath, query, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetBinary performs a GET request and returns the raw response body.
func (c *Client) GetBinary(ctx context.Context, apiPath string) ([]byte, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read binary body: %w", err)
	}
	return data, nil
}

// PostJSON performs a POST with a JSON payload. When v is non-nil the JSON
// response is decoded into it.
func (c *Client) PostJSON(ctx context.Context, apiPath string, payload any, v any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	header := http.Header{}
	header.Set("Content-Type", acceptJSON)

	resp, err := c.Do(ctx, http.MethodPost, apiPath, nil, body, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// MergeJSON performs an update via the X-HTTP-Method MERGE convention.
func (c *Client) MergeJSON(ctx context.Context, apiPath string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", acceptJSON)
	header.Set("X-HTTP-Method", "MERGE")
	header.Set("If-Match", "*")

	resp, err := c.Do(ctx, http.MethodPost, apiPath, nil, body, header)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Delete performs a delete via the X-HTTP-Method DELETE convention.
func (c *Client) Delete(ctx context.Context, apiPath string) error {
	header := http.Header{}
	header.Set("X-HTTP-Method", "DELETE")
	header.Set("If-Match", "*")

	resp, err := c.Do(ctx, http.MethodPost, apiPath, nil, nil, header)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
