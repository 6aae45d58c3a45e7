package asyncqueue

import (
	"context"
	"fmt"
	"math"

	"asyncqueue/pkg/eventbus"
	logx "asyncqueue/pkg/logx"
)

// New creates a queue over ops and starts it.
//
// Tasks may settle before New returns, so AddListener called afterwards
// can miss their events. Pass listeners with WithListener, or register
// them between Prepare and Start.
func New[T any](ctx context.Context, ops []Operation[T], opts ...Option) (*Queue[T], error) {
	q, err := Prepare(ctx, ops, opts...)
	if err != nil {
		return nil, err
	}
	if err := q.Start(); err != nil {
		return nil, err
	}
	return q, nil
}

// Prepare creates an idle queue. Nothing runs until Start.
func Prepare[T any](ctx context.Context, ops []Operation[T], opts ...Option) (*Queue[T], error) {
	for i, op := range ops {
		if op == nil {
			return nil, fmt.Errorf("%w: task %d is nil", ErrInvalidArgument, i)
		}
	}
	o := buildOptions(opts)
	listeners := o.listeners
	o.listeners = nil
	q := newQueue(ctx, ops, o)
	for i, l := range listeners {
		fn, ok := l.(func(Change[T]))
		if !ok || fn == nil {
			return nil, fmt.Errorf("%w: listener %d does not match the queue's value type", ErrInvalidArgument, i)
		}
		if _, err := q.events.Subscribe(fn); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	return q, nil
}

// Start begins the run. A queue suspended before Start stays suspended and
// admits nothing until Resume.
func (q *Queue[T]) Start() error {
	q.mu.Lock()
	if q.started || q.state.Terminal() {
		err := invalidState("start", q.state)
		q.mu.Unlock()
		return err
	}
	q.started = true
	if q.state == StateIdle {
		q.state = StateOperating
	}
	st := q.state
	n := len(q.tasks)
	q.mu.Unlock()

	q.log.Debug("run.started",
		logx.Int("tasks", n),
		logx.Int("max", q.opts.Max),
		logx.Bool("flow", q.opts.FlowMode),
		logx.String("state", st.String()),
	)
	q.run()
	return nil
}

// AddListener registers fn for progress events. The same function may be
// added more than once.
func (q *Queue[T]) AddListener(fn func(Change[T])) (eventbus.Subscription, error) {
	if fn == nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidArgument, eventbus.ErrInvalidListener)
	}
	return q.events.Subscribe(fn)
}

// RemoveListener drops one registration. Unknown subscriptions are ignored.
func (q *Queue[T]) RemoveListener(sub eventbus.Subscription) {
	q.events.Unsubscribe(sub)
}

func (q *Queue[T]) RemoveAllListeners() {
	q.events.UnsubscribeAll()
}

// Listen returns a channel of progress events. The channel is closed when
// the run finishes or cancel is called. Events are dropped when the buffer
// is full.
func (q *Queue[T]) Listen(buffer int) (<-chan Change[T], func()) {
	ch, cancel := q.events.Stream(buffer)
	q.mu.Lock()
	if q.state.Terminal() {
		q.mu.Unlock()
		cancel()
		return ch, cancel
	}
	q.streams = append(q.streams, cancel)
	q.mu.Unlock()
	return ch, cancel
}

// Push appends operations to the task list.
func (q *Queue[T]) Push(ops ...Operation[T]) error {
	_, err := q.Splice(math.MaxInt, 0, ops...)
	return err
}

// Splice removes deleteCount tasks starting at start and inserts ops in
// their place. A negative start counts from the end; both bounds are
// clamped to the list. It returns the indices of the removed tasks.
//
// A removed task that is already running keeps its slot until it returns;
// its outcome is discarded.
func (q *Queue[T]) Splice(start, deleteCount int, ops ...Operation[T]) ([]int, error) {
	for i, op := range ops {
		if op == nil {
			return nil, fmt.Errorf("%w: task %d is nil", ErrInvalidArgument, i)
		}
	}

	q.mu.Lock()
	if q.state.Terminal() {
		err := invalidState("splice", q.state)
		q.mu.Unlock()
		return nil, err
	}
	removed := q.spliceLocked(start, deleteCount, ops)
	q.mu.Unlock()

	if len(removed) > 0 || len(ops) > 0 {
		q.log.Debug("tasks.changed", logx.Int("added", len(ops)), logx.Any("removed", removed))
	}
	q.run()
	return removed, nil
}

func (q *Queue[T]) spliceLocked(start, deleteCount int, ops []Operation[T]) []int {
	n := len(q.tasks)
	switch {
	case start < 0:
		start = max(n+start, 0)
	case start > n:
		start = n
	}
	deleteCount = min(max(deleteCount, 0), n-start)

	removed := make([]int, 0, deleteCount)
	for _, rec := range q.tasks[start : start+deleteCount] {
		rec.state = TaskRemoved
		removed = append(removed, rec.index)
	}

	next := make([]*record[T], 0, n-deleteCount+len(ops))
	next = append(next, q.tasks[:start]...)
	for _, op := range ops {
		next = append(next, q.newRecordLocked(op))
	}
	next = append(next, q.tasks[start+deleteCount:]...)
	q.tasks = next
	return removed
}

// Suspend stops admitting new tasks. Running tasks continue and their
// outcomes are recorded. Suspending an idle queue makes Start hold the
// first admission until Resume.
func (q *Queue[T]) Suspend() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateOperating && q.state != StateIdle {
		return invalidState("suspend", q.state)
	}
	q.state = StateSuspended
	q.log.Debug("run.suspended")
	return nil
}

// Resume restarts admission after Suspend. A failure recorded while
// suspended with ThrowError set finishes the run with that error.
func (q *Queue[T]) Resume() error {
	q.mu.Lock()
	if q.state != StateSuspended {
		err := invalidState("resume", q.state)
		q.mu.Unlock()
		return err
	}
	if q.fatal != nil {
		q.finishLocked(q.fatal)
		q.mu.Unlock()
		return nil
	}
	if !q.started {
		// Start has not run yet; it will move the queue to operating.
		q.state = StateIdle
		q.mu.Unlock()
		q.log.Debug("run.resumed")
		return nil
	}
	q.state = StateOperating
	q.mu.Unlock()

	q.log.Debug("run.resumed")
	q.run()
	return nil
}

// Terminate finishes the run now. It returns the results of the tasks that
// have already settled, in task order, or the pending fatal error.
// Running tasks are abandoned and their outcomes ignored.
func (q *Queue[T]) Terminate() ([]Result[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state.Terminal() {
		return nil, invalidState("terminate", q.state)
	}
	q.log.Debug("run.terminated", logx.Int("in_flight", q.inFlight))
	q.finishLocked(q.fatal)
	return q.results, q.err
}

// State returns the current run state.
func (q *Queue[T]) State() RunState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Tasks returns a snapshot of the task list. It is empty once the run has
// finished.
func (q *Queue[T]) Tasks() []TaskInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]TaskInfo, len(q.tasks))
	for i, rec := range q.tasks {
		out[i] = rec.info()
	}
	return out
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Options returns the normalized configuration.
func (q *Queue[T]) Options() Options { return q.opts }

// Done is closed when the run finishes.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }

// Wait blocks until the run finishes or ctx ends.
func (q *Queue[T]) Wait(ctx context.Context) ([]Result[T], error) {
	select {
	case <-q.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.results, q.err
}
