package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/sony/gobreaker"

	"asyncqueue/internal/config"
	logx "asyncqueue/pkg/logx"
)

// Breakers keeps one circuit breaker per task name. Breakers outlive a
// single run so a task that keeps failing across scheduled runs trips.
type Breakers struct {
	cfg     config.BreakerConfig
	log     logx.Logger
	onState func(task string, open bool)

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakers(cfg config.BreakerConfig, log logx.Logger, onState func(task string, open bool)) *Breakers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Breakers{
		cfg:      cfg,
		log:      log,
		onState:  onState,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for task, creating it on first use. It returns
// nil when breakers are disabled.
func (b *Breakers) Get(task string) *gobreaker.CircuitBreaker {
	if b == nil || b.cfg.TripFailures <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[task]; ok {
		return cb
	}

	timeout, err := config.ParseDurationOrDefault("breaker.open_timeout", b.cfg.OpenTimeout, config.DefaultOpenTimeout)
	if err != nil {
		timeout = config.DefaultOpenTimeout
	}
	trip := uint32(b.cfg.TripFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        task,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn("breaker state changed",
				logx.String("task", name),
				logx.String("from", from.String()),
				logx.String("to", to.String()),
			)
			if b.onState != nil {
				b.onState(name, to == gobreaker.StateOpen)
			}
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not the command's fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	b.breakers[task] = cb
	return cb
}

// Reset drops every breaker, e.g. after the breaker section changed.
func (b *Breakers) Reset(cfg config.BreakerConfig) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.cfg = cfg
	b.breakers = make(map[string]*gobreaker.CircuitBreaker)
	b.mu.Unlock()
}
