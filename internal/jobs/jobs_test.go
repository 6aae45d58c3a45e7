package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"asyncqueue/internal/config"
	"asyncqueue/internal/storage"
	"asyncqueue/pkg/asyncqueue"
	logx "asyncqueue/pkg/logx"
)

func sh(name, script string) config.TaskConfig {
	return config.TaskConfig{Name: name, Command: "sh", Args: []string{"-c", script}}
}

func TestCommandCapturesOutput(t *testing.T) {
	t.Parallel()
	tc := sh("echo", `echo hi; echo "$GREETING" >&2`)
	tc.Env = []string{"GREETING=hello"}
	op, err := Command(tc, nil)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	out, err := op(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Name != "echo" || out.ExitCode != 0 || out.Stdout != "hi\n" || out.Stderr != "hello\n" {
		t.Fatalf("output = %+v", out)
	}
}

func TestCommandFailures(t *testing.T) {
	t.Parallel()

	op, _ := Command(sh("exit", "exit 3"), nil)
	out, err := op(context.Background())
	if err == nil || out.ExitCode != 3 || asyncqueue.IsNoRetry(err) {
		t.Fatalf("exit 3: out = %+v, err = %v", out, err)
	}

	op, _ = Command(config.TaskConfig{Name: "missing", Command: "asyncqueue-no-such-binary"}, nil)
	if _, err := op(context.Background()); !asyncqueue.IsNoRetry(err) {
		t.Fatalf("missing binary err = %v, want NoRetry", err)
	}

	tc := sh("slow", "sleep 5")
	tc.Timeout = "50ms"
	op, _ = Command(tc, nil)
	start := time.Now()
	if _, err := op(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout did not stop the command")
	}

	if _, err := Command(config.TaskConfig{Name: "bad", Command: "x", Timeout: "nope"}, nil); err == nil {
		t.Fatal("Command with bad timeout should fail")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()
	var opened []string
	b := NewBreakers(config.BreakerConfig{TripFailures: 2, OpenTimeout: "1m"}, logx.Nop(), func(task string, open bool) {
		if open {
			opened = append(opened, task)
		}
	})
	cb := b.Get("flaky")
	if cb == nil || b.Get("flaky") != cb {
		t.Fatal("Get should return one breaker per task")
	}
	op, _ := Command(sh("flaky", "exit 1"), cb)
	for range 2 {
		if _, err := op(context.Background()); err == nil || asyncqueue.IsNoRetry(err) {
			t.Fatalf("err = %v, want retryable failure", err)
		}
	}
	_, err := op(context.Background())
	if !asyncqueue.IsNoRetry(err) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want NoRetry open-state error", err)
	}
	if cb.State() != gobreaker.StateOpen || len(opened) != 1 {
		t.Fatalf("state = %v, opened = %v", cb.State(), opened)
	}

	if NewBreakers(config.BreakerConfig{}, logx.Nop(), nil).Get("x") != nil {
		t.Fatal("disabled breakers should return nil")
	}
}

func TestRunnerRunRecordsReport(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	cfg := &config.Config{
		Queue: config.QueueConfig{Max: 2},
		Tasks: []config.TaskConfig{
			sh("one", "echo 1"),
			sh("two", "exit 2"),
			sh("three", "echo 3"),
		},
	}
	r := NewRunner("nightly", WithStore(st), WithLogger(logx.Nop()))
	rep, err := r.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.State != asyncqueue.StateEnded || rep.OK() || rep.Failed() != 1 {
		t.Fatalf("report = %+v", rep)
	}
	names := []string{rep.Results[0].Name, rep.Results[1].Name, rep.Results[2].Name}
	if strings.Join(names, ",") != "one,two,three" {
		t.Fatalf("result order = %v", names)
	}
	if rep.Results[0].Output.Stdout != "1\n" || rep.Results[1].Output.ExitCode != 2 {
		t.Fatalf("results = %+v", rep.Results)
	}

	runs, err := st.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Job != "nightly" || runs[0].Failed != 1 || runs[0].Succeeded != 2 {
		t.Fatalf("runs = %+v", runs)
	}
	if len(runs[0].Outcomes) != 3 || runs[0].Outcomes[1].Status != "error" {
		t.Fatalf("outcomes = %+v", runs[0].Outcomes)
	}
}

func TestRunnerThrowError(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Queue: config.QueueConfig{Max: 1, ThrowError: true},
		Tasks: []config.TaskConfig{sh("ok", "true"), sh("bad", "exit 1"), sh("never", "true")},
	}
	rep, err := NewRunner("strict").Run(context.Background(), cfg, nil)
	var te *asyncqueue.TaskError
	if !errors.As(err, &te) {
		t.Fatalf("Run err = %v, want *TaskError", err)
	}
	if rep.State != asyncqueue.StateErrored || len(rep.Results) != 2 || rep.Results[1].Name != "bad" {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunnerReconcilesConfigChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Queue: config.QueueConfig{Max: 1},
		Tasks: []config.TaskConfig{sh("a", "sleep 0.3; echo a"), sh("c", "echo c")},
	}
	next := &config.Config{
		Queue: cfg.Queue,
		Tasks: []config.TaskConfig{cfg.Tasks[0], sh("b", "echo b")},
	}
	updates := make(chan *config.Config, 1)
	updates <- next

	rep, err := NewRunner("live").Run(context.Background(), cfg, updates)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []string
	for _, tr := range rep.Results {
		got = append(got, tr.Name+"="+strings.TrimSpace(tr.Output.Stdout))
	}
	if strings.Join(got, ",") != "a=a,b=b" {
		t.Fatalf("results = %v, want [a=a b=b]", got)
	}
}

func TestRunnerInterrupted(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Queue: config.QueueConfig{Max: 1},
		Tasks: []config.TaskConfig{sh("quick", "true"), sh("slow", "sleep 5")},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	rep, err := NewRunner("cut").Run(ctx, cfg, nil)
	if err == nil {
		t.Fatal("Run err = nil, want context error")
	}
	if time.Since(start) > 4*time.Second {
		t.Fatal("Run did not stop on context end")
	}
	if rep.State != asyncqueue.StateEnded {
		t.Fatalf("state = %v, want ended", rep.State)
	}
}
