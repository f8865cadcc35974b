// Package ratelimit implements SharePoint Online throttle tracking and request
// gating. It monitors the RateLimit-Remaining and RateLimit-Reset headers the
// service emits as a tenant approaches its resource unit quota, so cooperating
// client instances back off before the service starts returning 429 responses.
package ratelimit

import (
	"time"
)

// Redis keys for shared throttle state storage.
const (
	RedisKeyRemaining      = "sp:throttle:remaining"
	RedisKeyResetTimestamp = "sp:throttle:reset_timestamp"
	RedisKeyLastUpdate     = "sp:throttle:last_update"
)

// Thresholds for throttle decisions, in resource units remaining.
const (
	// ThresholdCritical blocks all requests when remaining units fall below
	// this value. Continuing to send would convert soft throttling into a
	// hard 429 block for the whole tenant.
	ThresholdCritical = 10

	// ThresholdWarning applies pacing when remaining units fall below this value.
	ThresholdWarning = 50

	// ThresholdHealthy indicates normal operation. At or above this value no
	// restrictions apply.
	ThresholdHealthy = 200
)

// ThrottleState represents the current SharePoint throttle state.
// The state is shared across all client instances via Redis.
type ThrottleState struct {
	// Remaining is the number of resource units left in the current window.
	// Extracted from the RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// ResetAt is when the throttle window resets, calculated from the
	// RateLimit-Reset header (seconds until reset).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from response headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *ThrottleState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked outright.
func (s *ThrottleState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be paced.
func (s *ThrottleState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the throttle window resets.
// Returns 0 if the reset time has already passed.
func (s *ThrottleState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field from the current Remaining value.
func (s *ThrottleState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
