package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"

	"asyncqueue/internal/config"
	"asyncqueue/pkg/asyncqueue"
)

// maxCapture bounds the stdout/stderr kept per task.
const maxCapture = 64 << 10

const waitDelay = 500 * time.Millisecond

// Output is the value produced by one command task.
type Output struct {
	Name     string        `json:"name"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Command turns a task definition into a queue operation. cb may be nil.
//
// A missing executable and an open circuit are reported with
// asyncqueue.NoRetry; every other failure is left to the retry policy.
func Command(tc config.TaskConfig, cb *gobreaker.CircuitBreaker) (asyncqueue.Operation[Output], error) {
	timeout, err := tc.TaskTimeout()
	if err != nil {
		return nil, err
	}
	if tc.Command == "" {
		return nil, fmt.Errorf("task %q: command is required", tc.Name)
	}

	run := func(ctx context.Context) (Output, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return runCommand(ctx, tc)
	}

	return func(ctx context.Context) (Output, error) {
		if cb == nil {
			return run(ctx)
		}
		res, err := cb.Execute(func() (any, error) { return run(ctx) })
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Output{Name: tc.Name, ExitCode: -1}, asyncqueue.NoRetry(fmt.Errorf("task %q: %w", tc.Name, err))
		}
		out, _ := res.(Output)
		return out, err
	}, nil
}

func runCommand(ctx context.Context, tc config.TaskConfig) (Output, error) {
	var stdout, stderr capped
	cmd := exec.CommandContext(ctx, tc.Command, tc.Args...)
	cmd.Dir = tc.Dir
	if len(tc.Env) > 0 {
		cmd.Env = append(os.Environ(), tc.Env...)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not hold Wait past a kill.
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	out := Output{
		Name:     tc.Name,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrNotFound):
		out.ExitCode = -1
		return out, asyncqueue.NoRetry(fmt.Errorf("task %q: %w", tc.Name, err))
	default:
		out.ExitCode = -1
	}
	if ctx.Err() != nil {
		err = fmt.Errorf("%w (%v)", ctx.Err(), err)
	}
	return out, fmt.Errorf("task %q: %w", tc.Name, err)
}

// capped keeps the first maxCapture bytes written to it.
type capped struct {
	buf       bytes.Buffer
	truncated bool
}

func (c *capped) Write(p []byte) (int, error) {
	if room := maxCapture - c.buf.Len(); room < len(p) {
		c.truncated = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *capped) String() string {
	if c.truncated {
		return c.buf.String() + "...(truncated)"
	}
	return c.buf.String()
}
