package cache

import "errors"

var (
	// ErrCacheUnavailable is returned when a cache tier cannot be reached.
	// Callers are expected to bypass the cache rather than fail the request.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrInvalidCacheKey is returned when a decision key is missing a component
	ErrInvalidCacheKey = errors.New("invalid cache key")

	// ErrInvalidPattern is returned when an invalidation pattern has no scope
	ErrInvalidPattern = errors.New("invalid invalidation pattern")

	// ErrInvalidGeneration is returned when a generation token cannot be parsed
	ErrInvalidGeneration = errors.New("invalid generation token")
)
