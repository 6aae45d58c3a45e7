package asyncqueue

import (
	"time"

	logx "asyncqueue/pkg/logx"
)

// Options configures a queue. Use Defaults() as the starting point; the
// zero value is not a valid configuration on its own.
//
// WaitTimeFunc and WaitTaskTimeFunc take precedence over their constant
// counterparts when set.
type Options struct {
	// Max is the concurrency cap (>= 1).
	Max int

	// WaitTime is the pause after a task settles before its slot is reused,
	// and between retries of the same task.
	WaitTime     time.Duration
	WaitTimeFunc func(index int) time.Duration

	// WaitTaskTime is the pause after a whole batch settles (batch mode only).
	WaitTaskTime     time.Duration
	WaitTaskTimeFunc func() time.Duration

	// ThrowError aborts the whole run on the first task failure.
	ThrowError bool

	// RetryCount is the number of retries per task before it counts as failed.
	RetryCount int

	// FlowMode refills a freed slot as soon as its pacing delay elapses.
	// When false, tasks run in lock-step batches of Max.
	FlowMode bool

	Logger  logx.Logger
	Metrics Metrics

	// func(Change[T]) values registered before the first admission.
	listeners []any
}

// Defaults returns the documented default configuration.
//
//	max=2, waitTime=0, waitTaskTime=0, throwError=false, retryCount=0, flowMode=false
func Defaults() Options {
	return Options{Max: 2}
}

// Option mutates Options. Options are applied in order; later ones win.
type Option func(*Options)

func WithMax(n int) Option { return func(o *Options) { o.Max = n } }

func WithWaitTime(d time.Duration) Option {
	return func(o *Options) { o.WaitTime, o.WaitTimeFunc = d, nil }
}

func WithWaitTimeFunc(fn func(index int) time.Duration) Option {
	return func(o *Options) { o.WaitTimeFunc = fn }
}

func WithWaitTaskTime(d time.Duration) Option {
	return func(o *Options) { o.WaitTaskTime, o.WaitTaskTimeFunc = d, nil }
}

func WithWaitTaskTimeFunc(fn func() time.Duration) Option {
	return func(o *Options) { o.WaitTaskTimeFunc = fn }
}

func WithThrowError(v bool) Option { return func(o *Options) { o.ThrowError = v } }

func WithRetryCount(n int) Option { return func(o *Options) { o.RetryCount = n } }

func WithFlowMode(v bool) Option { return func(o *Options) { o.FlowMode = v } }

func WithLogger(l logx.Logger) Option { return func(o *Options) { o.Logger = l } }

func WithMetrics(m Metrics) Option { return func(o *Options) { o.Metrics = m } }

// WithListener subscribes fn before the queue starts, so it sees every
// event even when New admits tasks that settle immediately. T must match
// the queue's value type; Prepare rejects a mismatch with
// ErrInvalidArgument.
func WithListener[T any](fn func(Change[T])) Option {
	return func(o *Options) { o.listeners = append(o.listeners, fn) }
}

// WithOptions replaces the whole configuration, e.g. one derived from a
// config file. Options listed after it still apply on top.
func WithOptions(v Options) Option { return func(o *Options) { *o = v } }

func buildOptions(opts []Option) Options {
	o := Defaults()
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o.normalize()
}

func (o Options) normalize() Options {
	if o.Max < 1 {
		o.Max = 1
	}
	if o.WaitTime < 0 {
		o.WaitTime = 0
	}
	if o.WaitTaskTime < 0 {
		o.WaitTaskTime = 0
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.Logger.IsZero() {
		o.Logger = logx.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	return o
}

func (o Options) waitTime(index int) time.Duration {
	d := o.WaitTime
	if o.WaitTimeFunc != nil {
		d = o.WaitTimeFunc(index)
	}
	return max(d, 0)
}

func (o Options) waitTaskTime() time.Duration {
	d := o.WaitTaskTime
	if o.WaitTaskTimeFunc != nil {
		d = o.WaitTaskTimeFunc()
	}
	return max(d, 0)
}
