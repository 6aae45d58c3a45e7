package eventbus

import (
	"errors"
	"testing"
	"time"
)

func TestSubscribeRejectsNil(t *testing.T) {
	t.Parallel()
	n := New[int]()
	if _, err := n.Subscribe(nil); !errors.Is(err, ErrInvalidListener) {
		t.Fatalf("Subscribe(nil) error = %v, want ErrInvalidListener", err)
	}
}

func TestEmitInSubscriptionOrder(t *testing.T) {
	t.Parallel()
	n := New[string]()
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		if _, err := n.Subscribe(func(v string) { got = append(got, name+v) }); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	n.Emit("1")
	want := []string{"a1", "b1", "c1"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestDuplicateSubscriptions(t *testing.T) {
	t.Parallel()
	n := New[int]()
	calls := 0
	fn := func(int) { calls++ }
	first, _ := n.Subscribe(fn)
	_, _ = n.Subscribe(fn)

	n.Emit(1)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	n.Unsubscribe(first)
	n.Emit(1)
	if calls != 3 {
		t.Fatalf("calls after Unsubscribe = %d, want 3", calls)
	}

	n.UnsubscribeAll()
	n.Emit(1)
	if calls != 3 || n.Len() != 0 {
		t.Fatalf("calls after UnsubscribeAll = %d (len %d), want 3 (len 0)", calls, n.Len())
	}
}

func TestUnsubscribeDuringEmit(t *testing.T) {
	t.Parallel()
	n := New[int]()
	var second Subscription
	calls := 0
	_, _ = n.Subscribe(func(int) {
		calls++
		n.Unsubscribe(second)
	})
	second, _ = n.Subscribe(func(int) { calls++ })

	// The snapshot taken by Emit still includes the second subscriber.
	n.Emit(1)
	if calls != 2 {
		t.Fatalf("first emit calls = %d, want 2", calls)
	}
	n.Emit(1)
	if calls != 3 {
		t.Fatalf("second emit calls = %d, want 3", calls)
	}
}

func TestEmitPropagatesPanics(t *testing.T) {
	t.Parallel()
	n := New[int]()
	_, _ = n.Subscribe(func(int) { panic("boom") })
	defer func() {
		if r := recover(); r != "boom" {
			t.Fatalf("recovered %v, want boom", r)
		}
	}()
	n.Emit(1)
	t.Fatal("Emit should have panicked")
}

func TestStreamDeliversAndDrops(t *testing.T) {
	t.Parallel()
	n := New[int]()
	ch, cancel := n.Stream(2)
	n.Emit(1)
	n.Emit(2)
	n.Emit(3) // buffer full, dropped

	for _, want := range []int{1, 2} {
		select {
		case got := <-ch:
			if got != want {
				t.Fatalf("stream value = %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for stream value")
		}
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("stream channel should be closed after cancel")
	}
	if n.Len() != 0 {
		t.Fatalf("Len = %d after cancel, want 0", n.Len())
	}
	// Emitting after cancel must not panic.
	n.Emit(4)
}
