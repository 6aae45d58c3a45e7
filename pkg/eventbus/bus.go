package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrInvalidListener is returned when Subscribe is given a nil callback.
var ErrInvalidListener = errors.New("eventbus: listener must be a non-nil function")

// Subscription identifies one registration. The zero value matches nothing.
type Subscription uint64

// Notifier is an ordered, synchronous fanout of values to callbacks.
//
// Contract:
//   - Emit calls every current subscriber in subscription order, on the
//     caller's goroutine. Panics raised by a subscriber propagate.
//   - The same callback may be registered more than once; each
//     registration is called once per Emit.
//   - Subscribers may Subscribe/Unsubscribe from inside a callback; the
//     change applies to the next Emit.
//
// The zero value is ready to use.
type Notifier[T any] struct {
	mu   sync.RWMutex
	subs []subscriber[T]
	seq  atomic.Uint64
}

type subscriber[T any] struct {
	id Subscription
	fn func(T)
}

// New returns an empty Notifier.
func New[T any]() *Notifier[T] {
	return &Notifier[T]{}
}

// Subscribe appends fn to the subscriber list.
func (n *Notifier[T]) Subscribe(fn func(T)) (Subscription, error) {
	if fn == nil {
		return 0, ErrInvalidListener
	}
	id := Subscription(n.seq.Add(1))
	n.mu.Lock()
	n.subs = append(n.subs, subscriber[T]{id: id, fn: fn})
	n.mu.Unlock()
	return id, nil
}

// Unsubscribe removes one registration. Unknown ids are ignored.
func (n *Notifier[T]) Unsubscribe(id Subscription) {
	if id == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == id {
			// Copy so an in-progress Emit keeps its snapshot intact.
			next := make([]subscriber[T], 0, len(n.subs)-1)
			next = append(next, n.subs[:i]...)
			n.subs = append(next, n.subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll drops every subscriber.
func (n *Notifier[T]) UnsubscribeAll() {
	n.mu.Lock()
	n.subs = nil
	n.mu.Unlock()
}

// Len reports the number of registrations.
func (n *Notifier[T]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Emit delivers v to a snapshot of the current subscribers.
func (n *Notifier[T]) Emit(v T) {
	n.mu.RLock()
	subs := n.subs
	n.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Stream subscribes a buffered channel.
//
// Delivery is non-blocking: when the buffer is full the value is dropped
// for this subscriber. The returned func unsubscribes and closes the
// channel; it is safe to call more than once.
func (n *Notifier[T]) Stream(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan T, buffer)

	var (
		closeMu sync.Mutex
		closed  bool
	)
	id, _ := n.Subscribe(func(v T) {
		closeMu.Lock()
		defer closeMu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- v:
		default:
		}
	})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.Unsubscribe(id)
			closeMu.Lock()
			closed = true
			close(ch)
			closeMu.Unlock()
		})
	}
	return ch, cancel
}
