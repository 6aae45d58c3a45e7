package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertQueueSize = 256
	maxAlertLine   = 2000
	maxAlertValue  = 300
)

// alertSink is a zerolog.LevelWriter that forwards selected lines to out
// on a background goroutine, so slow writers never block logging.
type alertSink struct {
	out   io.Writer
	queue chan string

	mu      sync.Mutex
	min     zerolog.Level
	limiter *rate.Limiter
	done    chan struct{}
	stopped chan struct{}
}

func newAlertSink(out io.Writer) *alertSink {
	return &alertSink{out: out, queue: make(chan string, alertQueueSize), min: zerolog.WarnLevel}
}

// configure updates the threshold and rate, starting the worker on the
// first enabled config.
func (a *alertSink) configure(cfg AlertConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.min = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.RatePerSec)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Enabled && a.done == nil {
		a.done = make(chan struct{})
		a.stopped = make(chan struct{})
		go a.run(a.done, a.stopped)
	}
}

func (a *alertSink) run(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		select {
		case <-done:
			return
		case line := <-a.queue:
			_, _ = io.WriteString(a.out, line+"\n")
		}
	}
}

func (a *alertSink) stop() {
	a.mu.Lock()
	done, stopped := a.done, a.stopped
	a.done, a.stopped = nil, nil
	a.mu.Unlock()
	if done != nil {
		close(done)
		<-stopped
	}
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.NoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	ok := level >= a.min && level != zerolog.NoLevel && a.limiter != nil && a.limiter.Allow()
	a.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if line := formatAlert(p); line != "" {
		select {
		case a.queue <- line:
		default:
		}
	}
	return len(p), nil
}

// formatAlert renders a JSON log line as "[LEVEL] msg k=v ..." with keys
// sorted. Lines that are not JSON are passed through trimmed.
func formatAlert(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(string(p), maxAlertLine)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, truncate(fmt.Sprint(m[k]), maxAlertValue))
	}
	return truncate(b.String(), maxAlertLine)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
