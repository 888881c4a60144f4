package job

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType     = errors.New("unknown job type")
	ErrUnknownPriority = errors.New("unknown priority")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// NoRetry marks an error as non-retryable.
//
// Executors can wrap validation errors or other permanent failures with NoRetry
// so the queue won't waste attempts on them.
//
// Example:
//
//	return job.Result{}, job.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
