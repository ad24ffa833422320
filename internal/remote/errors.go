package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the remote assistant service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote: api error: status %d: %s", e.StatusCode, e.Message)
}

// IsAuth reports whether err is a 401/403 response. Auth failures are never
// retried and halt polling for the owning tenant.
func IsAuth(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRetryable classifies err for the retry executor. Network-level errors
// (no status code at all) and 429/5xx responses are transient; any other
// HTTP status is a validation-class failure that must propagate immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return apiErr.StatusCode >= 500
}
