package asyncqueue

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "asyncqueue/pkg/logx"
)

// pacing is a BackOff whose interval is the task's WaitTime. The retry
// budget is applied on top of it with backoff.WithMaxRetries.
type pacing struct {
	opts  Options
	index int
}

func (p pacing) NextBackOff() time.Duration { return p.opts.waitTime(p.index) }
func (p pacing) Reset()                     {}

// execute runs rec.op with retries and returns the final outcome. A failure
// is always a *TaskError.
func (q *Queue[T]) execute(rec *record[T]) (T, error) {
	var b backoff.BackOff = pacing{opts: q.opts, index: rec.index}
	b = backoff.WithMaxRetries(b, uint64(q.opts.RetryCount))
	b = backoff.WithContext(b, q.ctx)

	op := func() (T, error) {
		v, err := q.invoke(rec)
		if err != nil && IsNoRetry(err) {
			var nr noRetryError
			errors.As(err, &nr)
			return v, backoff.Permanent(nr.err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		q.mu.Lock()
		rec.attempts++
		n := rec.attempts
		q.mu.Unlock()
		q.metrics.RecordTaskRetry()
		q.log.Debug("task.retry",
			logx.Int("index", rec.index),
			logx.Int("retry", n),
			logx.Duration("wait", wait),
			logx.Err(err),
		)
	}

	v, err := backoff.RetryNotifyWithData(op, b, notify)
	if err == nil {
		return v, nil
	}
	q.mu.Lock()
	attempts := rec.attempts + 1
	q.mu.Unlock()
	return v, &TaskError{Index: rec.index, Attempts: attempts, Err: err}
}

// invoke calls the operation once, converting a panic into *PanicError.
func (q *Queue[T]) invoke(rec *record[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			q.log.Error("task.panic",
				logx.Int("index", rec.index),
				logx.String("panic", fmt.Sprint(r)),
				logx.Stack(stack),
			)
			var zero T
			v, err = zero, &PanicError{Value: r, Stack: stack}
		}
	}()
	return rec.op(q.ctx)
}
