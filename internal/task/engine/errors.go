package engine

import "errors"

var (
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("queue processor stopped")
	// ErrCoalesced is returned when a scheduled enqueue is dropped because the
	// same job type is already waiting in the queue.
	ErrCoalesced = errors.New("job already queued")
	// ErrInterrupted marks an attempt cut short by shutdown.
	ErrInterrupted = errors.New("execution interrupted by shutdown")
)
