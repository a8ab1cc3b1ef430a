package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrPayloadTooLarge    = errors.New("job payload exceeds configured maximum")
	ErrUnknownKind        = errors.New("unknown job kind")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrQueuePaused        = errors.New("queue is paused")
	ErrChainSuspended     = errors.New("dependency chain suspended by circuit breaker")
	ErrNodeNotRegistered  = errors.New("worker node is not registered")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
