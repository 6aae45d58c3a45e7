package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "asyncqueue/pkg/logx"
)

func TestServiceFiresAndSkipsOverlaps(t *testing.T) {
	s := New(logx.Nop())
	var (
		runs    atomic.Int32
		running atomic.Int32
		overlap atomic.Bool
	)
	err := s.Start(context.Background(), "30ms", func(ctx context.Context) {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		runs.Add(1)
		time.Sleep(80 * time.Millisecond)
		running.Add(-1)
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Next().IsZero() {
		t.Fatal("Next should be set while running")
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if runs.Load() < 2 {
		t.Fatalf("runs = %d, want >= 2", runs.Load())
	}
	if overlap.Load() {
		t.Fatal("job ran concurrently with itself")
	}
	if !s.Next().IsZero() {
		t.Fatal("Next should be zero after Stop")
	}
}

func TestServiceStartErrors(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	if err := s.Start(context.Background(), "bogus", func(context.Context) {}); err == nil {
		t.Fatal("Start with bad schedule should fail")
	}
	if err := s.Start(context.Background(), "61 * * * *", func(context.Context) {}); err == nil {
		t.Fatal("Start with out-of-range cron should fail")
	}
	if err := s.Start(context.Background(), "@hourly", nil); err == nil {
		t.Fatal("Start with nil job should fail")
	}
	if err := s.Reschedule("@daily"); err == nil {
		t.Fatal("Reschedule before Start should fail")
	}

	if err := s.Start(context.Background(), "@hourly", func(context.Context) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())
	if err := s.Start(context.Background(), "@hourly", func(context.Context) {}); err == nil {
		t.Fatal("second Start should fail")
	}
	before := s.Next()
	if err := s.Reschedule("@yearly"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !s.Next().After(before) {
		t.Fatalf("Next after reschedule = %v, want after %v", s.Next(), before)
	}
}
