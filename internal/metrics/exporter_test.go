package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"asyncqueue/pkg/asyncqueue"
)

func TestExporterRecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := NewExporter("aq", reg, Options{})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	m := e.Job("nightly")
	m.RecordTaskDuration(asyncqueue.StatusSuccess, 250*time.Millisecond)
	m.RecordTaskRetry()
	m.RecordTaskRetry()
	m.RecordInFlight(3)
	m.RecordRunFinished(asyncqueue.StateErrored)
	e.RecordBreakerState("nightly", "build", true)

	if v := testutil.ToFloat64(e.taskRetryTotal.WithLabelValues("nightly")); v != 2 {
		t.Fatalf("retries = %v, want 2", v)
	}
	if v := testutil.ToFloat64(e.tasksInFlight.WithLabelValues("nightly")); v != 3 {
		t.Fatalf("in flight = %v, want 3", v)
	}
	if v := testutil.ToFloat64(e.runsFinishedTotal.WithLabelValues("nightly", "errored")); v != 1 {
		t.Fatalf("runs errored = %v, want 1", v)
	}
	if v := testutil.ToFloat64(e.breakerOpen.WithLabelValues("nightly", "build")); v != 1 {
		t.Fatalf("breaker open = %v, want 1", v)
	}
	n, err := histogramSampleCount(e.taskDurationSeconds.WithLabelValues("nightly", "success"))
	if err != nil {
		t.Fatalf("histogramSampleCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("duration samples = %d, want 1", n)
	}
}

func TestExporterAlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewExporter("aq", reg, Options{})
	if err != nil {
		t.Fatalf("first NewExporter: %v", err)
	}
	second, err := NewExporter("aq", reg, Options{})
	if err != nil {
		t.Fatalf("second NewExporter: %v", err)
	}
	first.Job("a").RecordTaskRetry()
	second.Job("a").RecordTaskRetry()
	if v := testutil.ToFloat64(second.taskRetryTotal.WithLabelValues("a")); v != 2 {
		t.Fatalf("shared counter = %v, want 2", v)
	}
}

func TestExporterDrivesQueue(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := NewExporter("aq", reg, Options{})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	q, err := asyncqueue.New(context.Background(),
		[]asyncqueue.Operation[int]{asyncqueue.Const(1), asyncqueue.Const(2)},
		asyncqueue.WithMetrics(e.Job("")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := q.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v := testutil.ToFloat64(e.runsFinishedTotal.WithLabelValues("default", "ended")); v != 1 {
		t.Fatalf("runs ended = %v, want 1", v)
	}

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `aq_runs_finished_total{job="default",state="ended"} 1`) {
		t.Fatalf("scrape output missing run counter:\n%s", body)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}
	ch := make(chan prom.Metric, 1)
	collector.Collect(ch)
	close(ch)
	for metric := range ch {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
