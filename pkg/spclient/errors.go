package spclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrNotReady is returned when an operation is attempted before the
	// client context finished initializing, or after initialization failed.
	ErrNotReady = errors.New("sharepoint client not initialized")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// Status sentinels carrying human-readable hints for the HTTP status codes a
// caller is most likely to hit. Callers match them with errors.Is.
var (
	// ErrUnauthorized indicates the access token is missing, invalid or expired.
	ErrUnauthorized = errors.New("unauthorized: access token missing, invalid or expired")

	// ErrForbidden indicates the caller lacks permission for the resource.
	ErrForbidden = errors.New("forbidden: insufficient permissions for this resource")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found: the requested resource does not exist")

	// ErrThrottled indicates the request was rejected by SharePoint throttling.
	ErrThrottled = errors.New("throttled: request rejected by SharePoint rate limiting")

	// ErrServerError indicates a server-side failure.
	ErrServerError = errors.New("server error: SharePoint failed to process the request")
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassClient represents non-retryable 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassThrottled represents 429 throttle responses.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// RequestError represents a failed SharePoint request with classification
// context. It wraps the matching status sentinel so callers can use errors.Is.
type RequestError struct {
	StatusCode int
	ErrorClass ErrorClass
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sharepoint %s error (status %d) on %s: %s: %v",
			e.ErrorClass, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("sharepoint %s error (status %d) on %s: %s",
		e.ErrorClass, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// WrapStatus converts an HTTP status code to the matching sentinel error.
// Returns nil for non-error statuses.
func WrapStatus(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if statusCode >= 500 {
			return ErrServerError
		}
		return nil
	}
}

// classifyStatus categorizes an HTTP status code for retry and observability.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassThrottled
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its class.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// Plain 4xx errors are deterministic, retrying wastes quota
		return false
	case ErrorClassServer:
		return true
	case ErrorClassThrottled:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}
