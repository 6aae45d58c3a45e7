// Package metrics exports queue measurements to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"asyncqueue/pkg/asyncqueue"
)

// Options controls collector configuration.
type Options struct {
	DurationBuckets []float64
}

// Exporter owns the Prometheus collectors. Use Job to get an
// asyncqueue.Metrics bound to one job name.
type Exporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskRetryTotal      *prom.CounterVec
	tasksInFlight       *prom.GaugeVec
	runsFinishedTotal   *prom.CounterVec
	breakerOpen         *prom.GaugeVec
}

// NewExporter creates and registers the collectors. Registering twice on
// the same registry reuses the existing collectors.
func NewExporter(namespace string, reg prom.Registerer, opts Options) (*Exporter, error) {
	if namespace == "" {
		namespace = "asyncqueue"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task duration in seconds, retries included.",
		Buckets:   buckets,
	}, []string{"job", "status"})
	retryVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_retry_total",
		Help:      "Total number of task retries.",
	}, []string{"job"})
	inFlightVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_in_flight",
		Help:      "Tasks currently running.",
	}, []string{"job"})
	runsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Finished runs by final state.",
	}, []string{"job", "state"})
	breakerVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_open",
		Help:      "1 while a task's circuit breaker is open.",
	}, []string{"job", "task"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if retryVec, err = registerCollector(reg, retryVec); err != nil {
		return nil, err
	}
	if inFlightVec, err = registerCollector(reg, inFlightVec); err != nil {
		return nil, err
	}
	if runsVec, err = registerCollector(reg, runsVec); err != nil {
		return nil, err
	}
	if breakerVec, err = registerCollector(reg, breakerVec); err != nil {
		return nil, err
	}

	return &Exporter{
		taskDurationSeconds: durationVec,
		taskRetryTotal:      retryVec,
		tasksInFlight:       inFlightVec,
		runsFinishedTotal:   runsVec,
		breakerOpen:         breakerVec,
	}, nil
}

// Job returns the recorder for one job.
func (e *Exporter) Job(name string) asyncqueue.Metrics {
	if e == nil {
		return nil
	}
	return jobMetrics{e: e, job: normalizeLabel(name, "default")}
}

// RecordBreakerState sets the breaker gauge for a task.
func (e *Exporter) RecordBreakerState(job, task string, open bool) {
	if e == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	e.breakerOpen.WithLabelValues(normalizeLabel(job, "default"), normalizeLabel(task, "unknown")).Set(v)
}

// Handler serves the metrics gathered by g (prom.DefaultGatherer if nil).
func Handler(g prom.Gatherer) http.Handler {
	if g == nil {
		g = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type jobMetrics struct {
	e   *Exporter
	job string
}

var _ asyncqueue.Metrics = jobMetrics{}

func (m jobMetrics) RecordTaskDuration(status asyncqueue.Status, d time.Duration) {
	m.e.taskDurationSeconds.WithLabelValues(m.job, normalizeLabel(string(status), "unknown")).Observe(d.Seconds())
}

func (m jobMetrics) RecordTaskRetry() {
	m.e.taskRetryTotal.WithLabelValues(m.job).Inc()
}

func (m jobMetrics) RecordInFlight(n int) {
	m.e.tasksInFlight.WithLabelValues(m.job).Set(float64(n))
}

func (m jobMetrics) RecordRunFinished(state asyncqueue.RunState) {
	m.e.runsFinishedTotal.WithLabelValues(m.job, state.String()).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
