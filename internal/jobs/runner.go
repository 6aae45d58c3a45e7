package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"asyncqueue/internal/config"
	"asyncqueue/internal/metrics"
	"asyncqueue/internal/storage"
	"asyncqueue/pkg/asyncqueue"
	logx "asyncqueue/pkg/logx"
)

// TaskResult is the outcome of one task in a Report.
type TaskResult struct {
	Name   string
	Output Output
	Err    error
}

// Report summarizes one run.
type Report struct {
	Job     string
	State   asyncqueue.RunState
	Started time.Time
	Took    time.Duration
	Results []TaskResult
	Err     error
}

// Failed counts tasks that ended with an error.
func (r Report) Failed() int {
	n := 0
	for _, tr := range r.Results {
		if tr.Err != nil {
			n++
		}
	}
	return n
}

// OK reports whether the run ended and every task succeeded.
func (r Report) OK() bool { return r.State == asyncqueue.StateEnded && r.Failed() == 0 }

// Runner executes job files through an asyncqueue.Queue.
type Runner struct {
	name     string
	log      logx.Logger
	store    storage.Store
	exporter *metrics.Exporter
	breakers *Breakers
}

type Option func(*Runner)

func WithLogger(log logx.Logger) Option { return func(r *Runner) { r.log = log } }

// WithStore records every run. A nil store disables history.
func WithStore(st storage.Store) Option { return func(r *Runner) { r.store = st } }

func WithMetrics(e *metrics.Exporter) Option { return func(r *Runner) { r.exporter = e } }

// WithBreakers shares breakers across runners; by default each Runner owns
// its own set, built from the first config it runs.
func WithBreakers(b *Breakers) Option { return func(r *Runner) { r.breakers = b } }

func NewRunner(name string, opts ...Option) *Runner {
	r := &Runner{name: name}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("job", name))
	return r
}

// Run executes cfg once. Configs received on updates while the run is in
// progress are reconciled into it: new task names are pushed, removed
// names are spliced out and changed tasks are replaced. updates may be nil.
//
// The returned error is the run's fatal error (ThrowError) or the context
// error when ctx ended first; per-task failures are in the Report.
func (r *Runner) Run(ctx context.Context, cfg *config.Config, updates <-chan *config.Config) (Report, error) {
	if cfg == nil {
		return Report{}, fmt.Errorf("jobs: config is nil")
	}
	if r.breakers == nil {
		var onState func(string, bool)
		if r.exporter != nil {
			onState = func(task string, open bool) { r.exporter.RecordBreakerState(r.name, task, open) }
		}
		r.breakers = NewBreakers(cfg.Breaker, r.log, onState)
	}

	ops, err := r.operations(cfg.Tasks)
	if err != nil {
		return Report{}, err
	}
	qopts, err := cfg.Queue.Options()
	if err != nil {
		return Report{}, err
	}
	qopts = append(qopts, asyncqueue.WithLogger(r.log))
	if r.exporter != nil {
		qopts = append(qopts, asyncqueue.WithMetrics(r.exporter.Job(r.name)))
	}

	q, err := asyncqueue.Prepare(ctx, ops, qopts...)
	if err != nil {
		return Report{}, err
	}
	tr := newTracker(cfg)
	if _, err := q.AddListener(tr.observe(r.log)); err != nil {
		return Report{}, err
	}

	rep := Report{Job: r.name, Started: time.Now()}
	r.log.Info("run started", logx.Int("tasks", len(ops)))
	if err := q.Start(); err != nil {
		return Report{}, err
	}

	var wg sync.WaitGroup
	if updates != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.reconcile(q, tr, cfg, updates)
		}()
	}

	results, runErr := q.Wait(ctx)
	interrupted := ctx.Err() != nil
	if interrupted {
		// Keep what has settled; the run may also have finished meanwhile.
		results, runErr = q.Terminate()
		if errors.Is(runErr, asyncqueue.ErrInvalidState) {
			results, runErr = q.Wait(context.WithoutCancel(ctx))
		}
	}
	wg.Wait()

	rep.State = q.State()
	rep.Took = time.Since(rep.Started)
	rep.Results = tr.results(results, runErr)
	rep.Err = runErr
	if interrupted && runErr == nil {
		rep.Err = ctx.Err()
	}

	r.log.Info("run finished",
		logx.String("state", rep.State.String()),
		logx.Int("tasks", len(rep.Results)),
		logx.Int("failed", rep.Failed()),
		logx.Duration("took", rep.Took),
	)
	r.record(ctx, rep)
	return rep, rep.Err
}

func (r *Runner) operations(tasks []config.TaskConfig) ([]asyncqueue.Operation[Output], error) {
	ops := make([]asyncqueue.Operation[Output], 0, len(tasks))
	for _, tc := range tasks {
		op, err := Command(tc, r.breakers.Get(tc.Name))
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// reconcile applies config reloads to a live queue until it finishes.
func (r *Runner) reconcile(q *asyncqueue.Queue[Output], tr *tracker, current *config.Config, updates <-chan *config.Config) {
	for {
		select {
		case <-q.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			if next == nil {
				continue
			}
			if err := r.apply(q, tr, current, next); err != nil {
				if errors.Is(err, asyncqueue.ErrInvalidState) {
					return
				}
				r.log.Warn("config change not applied", logx.Err(err))
				continue
			}
			current = next
		}
	}
}

func (r *Runner) apply(q *asyncqueue.Queue[Output], tr *tracker, oldCfg, newCfg *config.Config) error {
	diff := config.DiffTasks(oldCfg, newCfg)
	if diff.Empty() {
		return nil
	}
	byName := make(map[string]config.TaskConfig, len(newCfg.Tasks))
	for _, tc := range newCfg.Tasks {
		byName[tc.Name] = tc
	}

	for _, name := range append(append([]string(nil), diff.Removed...), diff.Changed...) {
		pos, ok := tr.position(q.Tasks(), name)
		if !ok {
			continue
		}
		if _, err := q.Splice(pos, 1); err != nil {
			return err
		}
	}

	var add []config.TaskConfig
	for _, name := range append(append([]string(nil), diff.Changed...), diff.Added...) {
		add = append(add, byName[name])
	}
	ops, err := r.operations(add)
	if err != nil {
		return err
	}
	if len(ops) > 0 {
		tr.pushed(add)
		if err := q.Push(ops...); err != nil {
			return err
		}
	}
	r.log.Info("run reconciled",
		logx.Any("added", diff.Added),
		logx.Any("removed", diff.Removed),
		logx.Any("changed", diff.Changed),
	)
	return nil
}

func (r *Runner) record(ctx context.Context, rep Report) {
	if r.store == nil {
		return
	}
	rec := storage.RunRecord{
		At:     rep.Started,
		Job:    rep.Job,
		State:  rep.State.String(),
		Tasks:  len(rep.Results),
		Failed: rep.Failed(),
		TookMS: rep.Took.Milliseconds(),
	}
	rec.Succeeded = rec.Tasks - rec.Failed
	if rep.Err != nil {
		rec.Error = rep.Err.Error()
	}
	for _, tr := range rep.Results {
		o := storage.TaskOutcome{
			Name:     tr.Name,
			Status:   string(asyncqueue.StatusSuccess),
			ExitCode: tr.Output.ExitCode,
			TookMS:   tr.Output.Duration.Milliseconds(),
		}
		if tr.Err != nil {
			o.Status, o.Error = string(asyncqueue.StatusError), tr.Err.Error()
		}
		rec.Outcomes = append(rec.Outcomes, o)
	}
	// Record even when ctx was cancelled mid-run.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.AppendRun(sctx, rec); err != nil {
		r.log.Warn("run not recorded", logx.Err(err))
	}
}
