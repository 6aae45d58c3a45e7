package asyncqueue

import (
	"context"
	"sync"
	"time"

	"asyncqueue/pkg/delay"
	"asyncqueue/pkg/eventbus"
	logx "asyncqueue/pkg/logx"
)

// RunState is the lifecycle state of a queue.
type RunState int

const (
	StateIdle RunState = iota
	StateOperating
	StateSuspended
	StateEnded
	StateErrored
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOperating:
		return "operating"
	case StateSuspended:
		return "suspended"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run has finished.
func (s RunState) Terminal() bool { return s == StateEnded || s == StateErrored }

// Queue runs a list of operations with bounded concurrency.
//
// All scheduling decisions are taken under mu. Listener callbacks run
// outside mu but under emitMu, so events never interleave and a listener
// may call back into the queue.
type Queue[T any] struct {
	ctx     context.Context
	opts    Options
	log     logx.Logger
	metrics Metrics
	events  *eventbus.Notifier[Change[T]]

	emitMu sync.Mutex

	mu          sync.Mutex
	state       RunState
	started     bool
	tasks       []*record[T]
	inFlight    int
	batchActive bool
	fatal       error
	nextIndex   int
	streams     []func()

	done    chan struct{}
	results []Result[T]
	err     error
}

func newQueue[T any](ctx context.Context, ops []Operation[T], opts Options) *Queue[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	q := &Queue[T]{
		ctx:     ctx,
		opts:    opts,
		log:     opts.Logger.With(logx.String("comp", "asyncqueue")),
		metrics: opts.Metrics,
		events:  eventbus.New[Change[T]](),
		state:   StateIdle,
		done:    make(chan struct{}),
	}
	q.tasks = make([]*record[T], 0, len(ops))
	for _, op := range ops {
		q.tasks = append(q.tasks, q.newRecordLocked(op))
	}
	return q
}

func (q *Queue[T]) newRecordLocked(op Operation[T]) *record[T] {
	rec := &record[T]{op: op, index: q.nextIndex, state: TaskPending}
	q.nextIndex++
	return rec
}

// run is the admission pass. It finishes the run when every task has
// settled, otherwise launches pending tasks into free slots.
func (q *Queue[T]) run() {
	q.mu.Lock()
	if q.state.Terminal() {
		q.mu.Unlock()
		return
	}
	if !q.started {
		q.mu.Unlock()
		return
	}
	if q.allSettledLocked() {
		q.finishLocked(q.fatal)
		q.mu.Unlock()
		return
	}
	if q.state != StateOperating || q.fatal != nil {
		q.mu.Unlock()
		return
	}
	if !q.opts.FlowMode && q.batchActive {
		q.mu.Unlock()
		return
	}

	batch := q.admitLocked()
	if len(batch) == 0 {
		q.mu.Unlock()
		return
	}
	var wg *sync.WaitGroup
	if !q.opts.FlowMode {
		q.batchActive = true
		wg = &sync.WaitGroup{}
		wg.Add(len(batch))
	}
	inFlight := q.inFlight
	q.mu.Unlock()

	q.metrics.RecordInFlight(inFlight)
	for _, rec := range batch {
		go q.work(rec, wg)
	}
	if wg != nil {
		go q.joinBatch(wg)
	}
}

// admitLocked marks up to Max-inFlight pending records as running, in
// task-list order.
func (q *Queue[T]) admitLocked() []*record[T] {
	available := q.opts.Max - q.inFlight
	if available <= 0 {
		return nil
	}
	var out []*record[T]
	now := time.Now()
	for _, rec := range q.tasks {
		if len(out) == available {
			break
		}
		if rec.state != TaskPending {
			continue
		}
		rec.state = TaskRunning
		rec.started = now
		out = append(out, rec)
	}
	q.inFlight += len(out)
	return out
}

func (q *Queue[T]) work(rec *record[T], wg *sync.WaitGroup) {
	if wg != nil {
		defer wg.Done()
	}
	q.log.Debug("task.started", logx.Int("index", rec.index))

	start := time.Now()
	v, err := q.execute(rec)
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	q.metrics.RecordTaskDuration(status, time.Since(start))

	if q.settle(rec, v, err) {
		_ = delay.Wait(q.ctx, q.opts.waitTime(rec.index))
	}
	if q.opts.FlowMode {
		// The slot stays occupied through its pacing delay.
		q.mu.Lock()
		q.inFlight--
		inFlight := q.inFlight
		q.mu.Unlock()
		q.metrics.RecordInFlight(inFlight)
		q.run()
	}
}

// settle records the outcome of rec and emits its progress event. It
// reports whether the task's pacing delay should be observed.
func (q *Queue[T]) settle(rec *record[T], v T, err error) (pace bool) {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	// Batch slots are released here; flow slots after pacing, in work.
	release := !q.opts.FlowMode
	q.mu.Lock()
	if release {
		q.inFlight--
	}
	inFlight := q.inFlight
	if q.state.Terminal() {
		q.mu.Unlock()
		return false
	}
	if rec.state == TaskRemoved {
		q.mu.Unlock()
		if release {
			q.metrics.RecordInFlight(inFlight)
		}
		q.log.Debug("task.discarded", logx.Int("index", rec.index))
		return false
	}

	rec.value, rec.err = v, err
	ch := Change[T]{Index: rec.index, Value: v}
	if err != nil {
		rec.state = TaskFailed
		ch.Status, ch.Err = StatusError, err
		if q.opts.ThrowError {
			switch q.state {
			case StateOperating:
				q.log.Warn("task.failed", logx.Int("index", rec.index), logx.Err(err))
				q.finishLocked(err)
				q.mu.Unlock()
				return false
			case StateSuspended:
				if q.fatal == nil {
					q.fatal = err
				}
			}
		}
		q.log.Warn("task.failed", logx.Int("index", rec.index), logx.Err(err))
	} else {
		rec.state = TaskSucceeded
		ch.Status = StatusSuccess
		q.log.Debug("task.completed", logx.Int("index", rec.index))
	}

	settled := q.settledCountLocked()
	ch.Total = len(q.tasks)
	if ch.Total > 0 {
		ch.Progress = float64(settled) / float64(ch.Total)
	}
	pace = q.hasPendingLocked()
	complete := settled == len(q.tasks)
	q.mu.Unlock()

	if release {
		q.metrics.RecordInFlight(inFlight)
	}
	q.events.Emit(ch)
	if complete {
		// Listeners may have pushed more work; run re-checks.
		q.run()
	}
	return pace
}

// joinBatch waits for every member of a batch, observes WaitTaskTime when
// more work is pending and releases the next batch.
func (q *Queue[T]) joinBatch(wg *sync.WaitGroup) {
	wg.Wait()

	q.mu.Lock()
	wait := !q.state.Terminal() && q.hasPendingLocked()
	q.mu.Unlock()
	if wait {
		_ = delay.Wait(q.ctx, q.opts.waitTaskTime())
	}

	q.mu.Lock()
	q.batchActive = false
	q.mu.Unlock()
	q.run()
}

func (q *Queue[T]) allSettledLocked() bool {
	for _, rec := range q.tasks {
		if !rec.settled() {
			return false
		}
	}
	return true
}

func (q *Queue[T]) settledCountLocked() int {
	n := 0
	for _, rec := range q.tasks {
		if rec.settled() {
			n++
		}
	}
	return n
}

func (q *Queue[T]) hasPendingLocked() bool {
	for _, rec := range q.tasks {
		if rec.state == TaskPending {
			return true
		}
	}
	return false
}

// finishLocked moves the run into its terminal state. A nil err ends the
// run with the settled results in task order.
func (q *Queue[T]) finishLocked(err error) {
	if q.state.Terminal() {
		return
	}
	if err != nil {
		q.state = StateErrored
		q.err = err
	} else {
		q.state = StateEnded
		q.results = q.settledResultsLocked()
	}
	q.tasks = nil
	q.fatal = nil
	streams := q.streams
	q.streams = nil

	q.events.UnsubscribeAll()
	for _, cancel := range streams {
		cancel()
	}
	q.metrics.RecordRunFinished(q.state)
	if err != nil {
		q.log.Warn("run.errored", logx.Err(err))
	} else {
		q.log.Info("run.ended", logx.Int("results", len(q.results)))
	}
	close(q.done)
}

func (q *Queue[T]) settledResultsLocked() []Result[T] {
	out := make([]Result[T], 0, len(q.tasks))
	for _, rec := range q.tasks {
		if rec.settled() {
			out = append(out, rec.result())
		}
	}
	return out
}
