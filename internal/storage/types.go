package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is the summary of one job run.
// Keep it compact and schema-stable.
type RunRecord struct {
	At        time.Time     `json:"at"`
	Job       string        `json:"job"`
	State     string        `json:"state"`
	Tasks     int           `json:"tasks"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	TookMS    int64         `json:"took_ms"`
	Error     string        `json:"error,omitempty"`
	Outcomes  []TaskOutcome `json:"outcomes,omitempty"`
}

// TaskOutcome is the result of one task within a run.
type TaskOutcome struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
	TookMS   int64  `json:"took_ms"`
	Error    string `json:"error,omitempty"`
}
