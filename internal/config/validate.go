package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks the parts of a job file that JSON decoding cannot.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Queue.Max < 0 {
		add("queue.max must be >= 0")
	}
	if c.Queue.RetryCount < 0 {
		add("queue.retry_count must be >= 0")
	}
	if _, err := c.Queue.Options(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if c.Breaker.TripFailures < 0 {
		add("breaker.trip_failures must be >= 0")
	}
	if _, err := ParseDurationField("breaker.open_timeout", c.Breaker.OpenTimeout); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add("storage.driver %q is not one of file, sqlite, none", s.Driver)
		}
	}

	seen := make(map[string]struct{}, len(c.Tasks))
	for i, t := range c.Tasks {
		name := strings.TrimSpace(t.Name)
		switch {
		case name == "":
			add("tasks[%d]: name is required", i)
		case strings.TrimSpace(t.Command) == "":
			add("tasks[%d] %q: command is required", i, name)
		}
		if _, dup := seen[name]; dup && name != "" {
			add("tasks[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if _, err := t.TaskTimeout(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
		}
	}
	return errors.Join(errs...)
}
