package asyncqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a nil operation or listener.
	ErrInvalidArgument = errors.New("asyncqueue: invalid argument")
	// ErrInvalidState reports a control call that is illegal in the current
	// run state, including any mutation after the run has finished.
	ErrInvalidState = errors.New("asyncqueue: invalid state")
)

// TaskError is the failure of one task after its retries are exhausted.
type TaskError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// PanicError is a recovered panic raised by an operation.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// NoRetry marks an error as non-retryable.
//
// Operations can wrap validation errors or other permanent failures with
// NoRetry so the queue won't waste time retrying.
//
// Example:
//
//	return "", asyncqueue.NoRetry(fmt.Errorf("bad input: %w", err))
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

func invalidState(op string, st RunState) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, st)
}
