package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigError reports missing or incomplete transport configuration. It is
// fatal for the affected config and requires administrator action; it is never
// retried automatically.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "graph: config error: " + e.Reason
}

// AuthError reports a failure to obtain an access token: the token endpoint
// was unreachable, timed out, or rejected the grant. Body carries the provider
// response text verbatim for diagnostics.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph: token request failed: %v", e.Err)
	}
	return fmt.Sprintf("graph: token request failed with status %d: %s", e.Status, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SendError reports a rejected or failed sendMail call. Message-scoped: it is
// recorded on the message and never propagates to sibling messages.
type SendError struct {
	Status int
	Body   string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph: send failed: %v", e.Err)
	}
	return fmt.Sprintf("graph: send failed with status %d: %s", e.Status, e.Body)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is a configuration-level error that must
// surface to the administrator instead of being swallowed into message state.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsUnauthorized reports whether the status indicates an invalid or expired token
func IsUnauthorized(statusCode int) bool {
	return statusCode == http.StatusUnauthorized
}

// IsRateLimited reports whether the status indicates provider throttling
func IsRateLimited(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether the status indicates a potentially transient
// failure. The dispatcher never retries Graph automatically; this informs the
// failure reason recorded for operators.
func IsRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}
