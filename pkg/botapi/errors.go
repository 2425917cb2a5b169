package botapi

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoToken is returned when the bot token is missing.
	ErrNoToken = errors.New("botapi: bot token required")

	// ErrEmptyPhoto is returned when uploading zero bytes.
	ErrEmptyPhoto = errors.New("botapi: empty photo")
)

// APIError is an unsuccessful Bot API response.
type APIError struct {
	Method      string
	StatusCode  int
	Code        int
	Description string
	RetryAfter  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("botapi [%s]: API error %d: %s", e.Method, e.Code, e.Description)
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.Code == 429 || e.StatusCode == 429
}

// IsUnauthorized returns true for a bad token.
func (e *APIError) IsUnauthorized() bool {
	return e.Code == 401 || e.StatusCode == 401
}

// IsConflict returns true when another poller holds the update stream.
func (e *APIError) IsConflict() bool {
	return e.Code == 409 || e.StatusCode == 409
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.StatusCode >= 500
}
