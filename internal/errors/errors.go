package errors

import (
	"errors"
)

// Moderation error taxonomy. Adapters wrap the underlying cause with one of
// these so callers can classify failures with errors.Is.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrRateLimited         = errors.New("rate limited")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
)

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
