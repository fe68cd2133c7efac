package domain

import "errors"

var (
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrNotFound        = errors.New("not found")
	ErrSequenceGap     = errors.New("depth sequence gap")
	ErrQueueFull       = errors.New("signal queue full")
	ErrBreakerOpen     = errors.New("circuit breaker open")
	ErrDuplicateSignal = errors.New("duplicate signal")
	ErrWSDisconnect    = errors.New("websocket disconnected")
)
