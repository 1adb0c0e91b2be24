package matrix

import (
	"errors"
	"fmt"
	"time"
)

// Matrix error codes recognized by the sync engine.
const (
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
)

// Error is a non-success Matrix API response. All Matrix error bodies share
// this JSON shape.
type Error struct {
	StatusCode   int    `json:"-"`
	Code         string `json:"errcode"`
	Message      string `json:"error"`
	RetryAfterMs int    `json:"retry_after_ms"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("matrix: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("matrix: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsUnknownToken reports whether err is the fatal authentication error.
// Everything else is treated as transient by the sync driver.
func IsUnknownToken(err error) bool {
	var matrixErr *Error
	return errors.As(err, &matrixErr) && matrixErr.Code == ErrCodeUnknownToken
}

// RetryAfter extracts the server-requested cooldown from a rate-limit error.
// Returns 0 when err carries no usable retry_after_ms.
func RetryAfter(err error) time.Duration {
	var matrixErr *Error
	if !errors.As(err, &matrixErr) {
		return 0
	}
	if matrixErr.Code != ErrCodeLimitExceeded || matrixErr.RetryAfterMs <= 0 {
		return 0
	}
	return capRetryAfter(time.Duration(matrixErr.RetryAfterMs) * time.Millisecond)
}
