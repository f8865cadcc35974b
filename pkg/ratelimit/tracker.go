package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttle tracking.
var (
	spThrottleRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sp_throttle_units_remaining",
		Help: "Resource units remaining in the current SharePoint throttle window",
	})

	spThrottleBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sp_throttle_blocks_total",
		Help: "Total number of requests blocked due to critical throttle state",
	})

	spThrottleDelaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sp_throttle_delays_total",
		Help: "Total number of requests delayed due to warning throttle state",
	})
)

// Tracker monitors SharePoint throttle headers and gates requests.
// A nil Redis client disables shared state; the tracker then reports a
// healthy default and never blocks, which is the right behavior for
// single-process use and for unit tests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new throttle tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// healthyDefault is the state assumed until real header data arrives.
func healthyDefault() *ThrottleState {
	return &ThrottleState{
		Remaining:  1000,
		ResetAt:    time.Now().Add(60 * time.Second),
		LastUpdate: time.Now(),
		IsHealthy:  true,
	}
}

// GetState retrieves the current throttle state from Redis.
// Returns a default healthy state when tracking is disabled or no data exists.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	if t.redis == nil {
		return healthyDefault(), nil
	}

	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get remaining units: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	if err == redis.Nil {
		t.logger.Debug().Msg("No throttle state in Redis, returning default healthy state")
		return healthyDefault(), nil
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &ThrottleState{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses SharePoint throttle headers and updates Redis state.
// Responses without a RateLimit-Remaining header are ignored; SharePoint only
// emits the header family once a tenant approaches its quota.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get("RateLimit-Remaining")
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse RateLimit-Remaining header: %w", err)
	}

	resetStr := headers.Get("RateLimit-Reset")
	if resetStr == "" {
		return fmt.Errorf("RateLimit-Reset header missing")
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse RateLimit-Reset header: %w", err)
	}

	now := time.Now()
	state := &ThrottleState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	spThrottleRemaining.Set(float64(remain))

	if t.redis == nil {
		return nil
	}

	// Store in Redis atomically
	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, remain, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store throttle state in redis: %w", err)
	}

	logEvent := t.logger.Info().
		Int("units_remaining", remain).
		Time("reset_at", state.ResetAt).
		Bool("is_healthy", state.IsHealthy)

	if state.NeedsCriticalBlock() {
		logEvent = t.logger.Error()
		logEvent.Msg("SharePoint throttle CRITICAL - requests will be blocked")
	} else if state.NeedsThrottling() {
		logEvent = t.logger.Warn()
		logEvent.Msg("SharePoint throttle WARNING - requests will be delayed")
	} else {
		logEvent.Msg("SharePoint throttle state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed given the current
// throttle state. Returns false if the request must be blocked; may delay the
// caller briefly when in the warning band.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get throttle state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		waitDuration := state.TimeUntilReset()

		t.logger.Error().
			Int("units_remaining", state.Remaining).
			Dur("wait_duration", waitDuration).
			Msg("SharePoint throttle critical - blocking request")

		spThrottleBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("units_remaining", state.Remaining).
			Msg("SharePoint throttle warning - delaying request")

		spThrottleDelaysTotal.Inc()
		time.Sleep(1 * time.Second)
	}

	return true, nil
}
