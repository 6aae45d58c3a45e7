package asyncqueue

import (
	"context"
	"time"
)

// Operation is one deferred unit of work.
//
// The context is the one passed to New. Terminate does not cancel it:
// an operation that already started runs to completion and its outcome is
// ignored.
type Operation[T any] func(ctx context.Context) (T, error)

// Const returns an operation that yields v.
func Const[T any](v T) Operation[T] {
	return func(context.Context) (T, error) { return v, nil }
}

// TaskState is the lifecycle state of one task.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSucceeded
	TaskFailed
	TaskRemoved
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// TaskInfo is a read-only view of one task.
type TaskInfo struct {
	Index    int
	State    TaskState
	Attempts int
}

// Result is the outcome of one task: a value, or the captured error.
type Result[T any] struct {
	Value T
	Err   error
}

// Values splits results into plain values, returning the first captured
// error (if any) alongside them.
func Values[T any](rs []Result[T]) ([]T, error) {
	out := make([]T, len(rs))
	var first error
	for i, r := range rs {
		out[i] = r.Value
		if r.Err != nil && first == nil {
			first = r.Err
		}
	}
	return out, first
}

// record is the engine's bookkeeping for one operation. op and index never
// change after creation; the rest is guarded by Scheduler.mu.
type record[T any] struct {
	op    Operation[T]
	index int

	state    TaskState
	attempts int
	started  time.Time

	value T
	err   error
}

func (r *record[T]) settled() bool {
	return r.state == TaskSucceeded || r.state == TaskFailed
}

func (r *record[T]) result() Result[T] {
	return Result[T]{Value: r.value, Err: r.err}
}

func (r *record[T]) info() TaskInfo {
	return TaskInfo{Index: r.index, State: r.state, Attempts: r.attempts}
}
