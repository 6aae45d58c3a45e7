package config

import (
	"time"

	"asyncqueue/pkg/asyncqueue"
	logx "asyncqueue/pkg/logx"
)

// Config is a job file: a list of commands plus the queue settings they run
// under.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Queue   QueueConfig   `json:"queue"`
	Breaker BreakerConfig `json:"breaker"`

	// Schedule triggers runs in serve mode. Accepts cron expressions,
	// "@every 5m", "10m" or "HH:MM".
	Schedule string `json:"schedule,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Metrics MetricsConfig  `json:"metrics"`
	Tasks   []TaskConfig   `json:"tasks"`
}

// QueueConfig mirrors asyncqueue.Options.
//
// Defaults (when fields are omitted/zero):
//   - max: 2
//   - wait_time / wait_task_time: "0s"
//   - throw_error: false
//   - retry_count: 0
//   - flow_mode: false
type QueueConfig struct {
	Max          int    `json:"max,omitempty"`
	WaitTime     string `json:"wait_time,omitempty"`
	WaitTaskTime string `json:"wait_task_time,omitempty"`
	ThrowError   bool   `json:"throw_error,omitempty"`
	RetryCount   int    `json:"retry_count,omitempty"`
	FlowMode     bool   `json:"flow_mode,omitempty"`
}

// BreakerConfig controls the per-task circuit breaker.
// TripFailures == 0 disables it.
type BreakerConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"`
	OpenTimeout  string `json:"open_timeout,omitempty"` // default: "30s"
}

// StorageConfig controls the optional run-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./runs.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// MetricsConfig controls the Prometheus endpoint (serve mode).
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	// Pprof also mounts /debug/pprof/ on the metrics listener. Keep Addr on
	// loopback when enabling it.
	Pprof bool `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TaskConfig is one command of the job.
type TaskConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

const (
	DefaultMetricsAddr = "127.0.0.1:9464"
	DefaultOpenTimeout = 30 * time.Second
)

// Log converts the logging section for logx.
func (l LoggingConfig) Log() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

// Options converts the queue section. Zero fields keep the queue defaults.
func (q QueueConfig) Options() ([]asyncqueue.Option, error) {
	wait, err := ParseDurationField("queue.wait_time", q.WaitTime)
	if err != nil {
		return nil, err
	}
	waitTask, err := ParseDurationField("queue.wait_task_time", q.WaitTaskTime)
	if err != nil {
		return nil, err
	}
	opts := []asyncqueue.Option{
		asyncqueue.WithWaitTime(wait),
		asyncqueue.WithWaitTaskTime(waitTask),
		asyncqueue.WithThrowError(q.ThrowError),
		asyncqueue.WithRetryCount(q.RetryCount),
		asyncqueue.WithFlowMode(q.FlowMode),
	}
	if q.Max > 0 {
		opts = append(opts, asyncqueue.WithMax(q.Max))
	}
	return opts, nil
}

// TaskTimeout returns the parsed per-task timeout (0 = none).
func (t TaskConfig) TaskTimeout() (time.Duration, error) {
	return ParseDurationField("tasks."+t.Name+".timeout", t.Timeout)
}
