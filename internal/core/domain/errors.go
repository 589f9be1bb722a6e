package domain

import "errors"

var (
	// ErrUnavailable covers network failures, timeouts, 429 and 5xx responses.
	ErrUnavailable = errors.New("service unavailable")
	// ErrAuth covers 401/403 responses and rejected credentials. Treated as fatal.
	ErrAuth = errors.New("authorization failed")
	// ErrNotFound is returned when a row vanished between query and patch.
	ErrNotFound = errors.New("not found")
	// ErrRejected covers any other 4xx response from a provider.
	ErrRejected = errors.New("request rejected")
	// ErrValidation is returned for unusable input or unparsable provider output.
	ErrValidation = errors.New("validation failed")
	// ErrUnsupported is returned for document formats or references that cannot be handled.
	ErrUnsupported = errors.New("unsupported")
)
