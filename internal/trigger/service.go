package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"asyncqueue/pkg/delay"
	logx "asyncqueue/pkg/logx"
)

const maxStartupSpread = 30 * time.Second

// Job is invoked on every tick with the context given to Start.
type Job func(ctx context.Context)

// Service fires one job on a schedule. A tick that arrives while the
// previous run is still going is skipped.
type Service struct {
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	spec    Spec
	wrapped cron.Job
}

type Option func(*Service)

// WithLocation evaluates cron expressions in loc (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log.With(logx.String("comp", "trigger")),
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    time.Local,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start parses raw and begins firing job. It fails if already started.
func (s *Service) Start(ctx context.Context, raw string, job Job) error {
	if job == nil {
		return fmt.Errorf("trigger: job is nil")
	}
	spec, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	sched, err := s.schedule(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return fmt.Errorf("trigger: already started")
	}
	cl := cronLogger{log: s.log}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	// Schedule does not apply the cron's own chain, so wrap here.
	s.wrapped = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { job(ctx) }))
	s.spec = spec
	s.entry = s.c.Schedule(sched, s.wrapped)
	s.c.Start()
	s.log.Info("trigger started", logx.String("kind", spec.Kind.String()), logx.Time("next", s.nextLocked()))
	return nil
}

// Reschedule swaps the schedule of a running service, keeping the job and
// its overlap guard.
func (s *Service) Reschedule(raw string) error {
	spec, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	sched, err := s.schedule(spec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return fmt.Errorf("trigger: not started")
	}
	if spec == s.spec {
		return nil
	}
	s.c.Remove(s.entry)
	s.entry = s.c.Schedule(sched, s.wrapped)
	s.spec = spec
	s.log.Info("trigger rescheduled", logx.String("kind", spec.Kind.String()), logx.Time("next", s.nextLocked()))
	return nil
}

// Next returns the next fire time, or zero when stopped.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *Service) nextLocked() time.Time {
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Stop halts triggering and waits for a running job or ctx, whichever
// comes first.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger stopped")
}

func (s *Service) schedule(spec Spec) (cron.Schedule, error) {
	if spec.Kind == KindInterval {
		return newIntervalSchedule(spec.Every, time.Now()), nil
	}
	sched, err := s.parser.Parse(spec.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
	}
	return sched, nil
}

// intervalSchedule fires every d. The first run is spread by a random
// offset so several services started together do not fire in lock-step.
// Unlike cron.Every it keeps sub-second precision.
type intervalSchedule struct {
	every time.Duration
	first time.Time
}

func newIntervalSchedule(every time.Duration, now time.Time) *intervalSchedule {
	spread := min(every, maxStartupSpread)
	jitter := time.Duration(delay.Random(0, float64(spread)))
	return &intervalSchedule{every: every, first: now.Add(every + jitter)}
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return t.Add(s.every)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
