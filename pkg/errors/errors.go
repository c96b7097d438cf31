// Package errors defines the unified error taxonomy for proxy operations.
// Every upstream failure is mapped into a ProxyError so the cascade can
// decide retry-vs-advance by kind, and frontends can render a consistent
// error body.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error type constants, used as the "type" field of error bodies.
const (
	TypeConfig           = "config_error"
	TypeRouteResolution  = "route_resolution_error"
	TypeRateLimited      = "rate_limit_error"
	TypeUpstreamClient   = "invalid_request_error"
	TypeUpstreamServer   = "upstream_server_error"
	TypeTransport        = "upstream_transport_error"
	TypeTranslation      = "translation_error"
	TypeCancelled        = "request_cancelled"
	TypeCascadeExhausted = "cascade_exhausted"
)

// ProxyError is a standardized error carrying enough context for the
// cascade, the logs, and the client response.
type ProxyError struct {
	StatusCode int    `json:"status_code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Retryable  bool   `json:"-"`

	// RetryAfter is populated for rate-limit errors when the upstream
	// supplied a cooldown hint.
	RetryAfter time.Duration `json:"-"`
}

func (e *ProxyError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
			e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
}

// HTTPStatusCode returns the status to surface to the client.
func (e *ProxyError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// NewConfigError reports malformed configuration. Fatal at startup.
func NewConfigError(message string) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusInternalServerError,
		Type:       TypeConfig,
		Message:    message,
	}
}

// NewRouteResolutionError reports an unknown provider or model (HTTP 400).
func NewRouteResolutionError(message string) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusBadRequest,
		Type:       TypeRouteResolution,
		Message:    message,
	}
}

// NewRateLimitedError reports an upstream 429. The cascade skips the tier
// and moves on without consuming its retry budget.
func NewRateLimitedError(provider, model, message string, retryAfter time.Duration) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusTooManyRequests,
		Type:       TypeRateLimited,
		Message:    message,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// NewUpstreamClientError reports a non-429 4xx. Non-retryable on that tier.
func NewUpstreamClientError(provider, model string, status int, message string) *ProxyError {
	return &ProxyError{
		StatusCode: status,
		Type:       TypeUpstreamClient,
		Message:    message,
		Provider:   provider,
		Model:      model,
	}
}

// NewUpstreamServerError reports a 5xx. Retryable within the tier budget.
func NewUpstreamServerError(provider, model string, status int, message string) *ProxyError {
	return &ProxyError{
		StatusCode: status,
		Type:       TypeUpstreamServer,
		Message:    message,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewTransportError reports a network, TLS, or timeout failure. Same retry
// semantics as a 5xx.
func NewTransportError(provider, model, message string) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusBadGateway,
		Type:       TypeTransport,
		Message:    message,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewTranslationError reports a malformed frame or payload. Logged and
// skipped mid-stream, never fatal.
func NewTranslationError(message string) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusBadGateway,
		Type:       TypeTranslation,
		Message:    message,
	}
}

// NewCancelledError reports client disconnect or shutdown.
func NewCancelledError(message string) *ProxyError {
	return &ProxyError{
		StatusCode: 499,
		Type:       TypeCancelled,
		Message:    message,
	}
}

// NewCascadeExhaustedError wraps the last per-tier failure after every tier
// has been tried.
func NewCascadeExhaustedError(lastReason string) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusServiceUnavailable,
		Type:       TypeCascadeExhausted,
		Message:    lastReason,
		Retryable:  false,
	}
}

// AsProxyError unwraps err into a *ProxyError if possible.
func AsProxyError(err error) (*ProxyError, bool) {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRateLimited reports whether err is an upstream rate-limit error.
func IsRateLimited(err error) bool {
	pe, ok := AsProxyError(err)
	return ok && pe.Type == TypeRateLimited
}

// IsRetryable reports whether the same tier may be retried after err.
func IsRetryable(err error) bool {
	pe, ok := AsProxyError(err)
	return ok && pe.Retryable && pe.Type != TypeRateLimited
}

// IsCancelled reports whether err is a client-cancellation error.
func IsCancelled(err error) bool {
	pe, ok := AsProxyError(err)
	return ok && pe.Type == TypeCancelled
}
