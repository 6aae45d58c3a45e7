package jobs

import (
	"errors"
	"sync"

	"asyncqueue/internal/config"
	"asyncqueue/pkg/asyncqueue"
	logx "asyncqueue/pkg/logx"
)

// tracker maps queue task indices to task names and keeps the settled
// outcomes seen through progress events.
type tracker struct {
	mu      sync.Mutex
	names   map[int]string
	next    int
	settled []TaskResult
}

func newTracker(cfg *config.Config) *tracker {
	t := &tracker{names: make(map[int]string, len(cfg.Tasks))}
	for i, tc := range cfg.Tasks {
		t.names[i] = tc.Name
	}
	t.next = len(cfg.Tasks)
	return t
}

func (t *tracker) name(index int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.names[index]
}

// pushed registers names for operations about to be pushed. Indices are
// assigned by the queue in creation order.
func (t *tracker) pushed(tasks []config.TaskConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tc := range tasks {
		t.names[t.next] = tc.Name
		t.next++
	}
}

// position finds the list position of the live task called name.
func (t *tracker) position(tasks []asyncqueue.TaskInfo, name string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for pos, ti := range tasks {
		if t.names[ti.Index] == name {
			return pos, true
		}
	}
	return 0, false
}

func (t *tracker) observe(log logx.Logger) func(asyncqueue.Change[Output]) {
	return func(c asyncqueue.Change[Output]) {
		name := t.name(c.Index)
		fields := []logx.Field{
			logx.String("task", name),
			logx.String("status", string(c.Status)),
			logx.Float64("progress", c.Progress),
			logx.Int("total", c.Total),
			logx.Int("exit_code", c.Value.ExitCode),
		}
		if c.Err != nil {
			log.Warn("task settled", append(fields, logx.Err(c.Err))...)
		} else {
			log.Info("task settled", fields...)
		}
		t.mu.Lock()
		t.settled = append(t.settled, TaskResult{Name: name, Output: c.Value, Err: c.Err})
		t.mu.Unlock()
	}
}

// results builds the report rows. When the run ended they follow task
// order; otherwise they are the settled tasks in completion order plus
// the task that failed the run.
func (t *tracker) results(rs []asyncqueue.Result[Output], runErr error) []TaskResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if runErr == nil {
		out := make([]TaskResult, 0, len(rs))
		for _, r := range rs {
			out = append(out, TaskResult{Name: r.Value.Name, Output: r.Value, Err: r.Err})
		}
		return out
	}
	out := append([]TaskResult(nil), t.settled...)
	var te *asyncqueue.TaskError
	if errors.As(runErr, &te) {
		out = append(out, TaskResult{Name: t.names[te.Index], Err: runErr})
	}
	return out
}
