package rate

import "errors"

var (
	// ErrRedisUnavailable is returned when the window script cannot be run.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidWindow is returned for a non-positive window or ceiling.
	ErrInvalidWindow = errors.New("invalid rate window")
)
