package asyncqueue

import "time"

// Metrics receives engine measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordTaskDuration(status Status, d time.Duration)
	RecordTaskRetry()
	RecordInFlight(n int)
	RecordRunFinished(state RunState)
}

type nopMetrics struct{}

func (nopMetrics) RecordTaskDuration(Status, time.Duration) {}
func (nopMetrics) RecordTaskRetry()                         {}
func (nopMetrics) RecordInFlight(int)                       {}
func (nopMetrics) RecordRunFinished(RunState)               {}
