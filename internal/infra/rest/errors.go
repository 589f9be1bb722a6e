package rest

import (
	"fmt"
	"net/http"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// StatusError is a non-2xx response. It unwraps to the matching domain sentinel
// so callers can use errors.Is without knowing about HTTP.
type StatusError struct {
	Client     string
	Method     string
	Path       string
	StatusCode int
	Body       string
	RetryAfter string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s: http %d: %s", e.Client, e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return Classify(e.StatusCode)
}

// Classify maps an HTTP status code onto the domain error taxonomy.
func Classify(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.ErrAuth
	case code == http.StatusNotFound, code == http.StatusGone:
		return domain.ErrNotFound
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return domain.ErrUnavailable
	default:
		return domain.ErrRejected
	}
}
