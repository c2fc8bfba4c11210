package application

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrGateFailed is returned by Check when the coverage gate fails. The
// analysis itself succeeded; callers map this to a distinct exit code.
var ErrGateFailed = errors.New("coverage gate failed")

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// PlatformAPIError is returned for any non-2xx response from a hosting
// platform. It carries the platform's status code and response body
// verbatim and is never retried.
type PlatformAPIError struct {
	Platform   string
	StatusCode int
	Message    string
}

func (e *PlatformAPIError) Error() string {
	return fmt.Sprintf("%s API error: %d %s - %s", e.Platform, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}
