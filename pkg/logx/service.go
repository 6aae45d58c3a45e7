package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig copies lines at or above MinLevel to the alert writer
// (stderr unless overridden with WithAlertWriter), at most RatePerSec per
// second.
type AlertConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

const defaultLogPath = "./asyncqueue.log"

// Service owns the process-wide sinks. Apply swaps them at runtime and
// every Logger derived from the Service picks the change up.
type Service struct {
	mu    sync.Mutex
	file  *os.File
	alert *alertSink

	root atomic.Pointer[zerolog.Logger]
}

type ServiceOption func(*Service)

// WithAlertWriter redirects the alert sink.
func WithAlertWriter(w io.Writer) ServiceOption {
	return func(s *Service) {
		if w != nil {
			s.alert.out = w
		}
	}
}

// New builds the service from cfg and returns its root Logger.
func New(cfg Config, opts ...ServiceOption) (*Service, Logger) {
	setGlobals()
	s := &Service{alert: newAlertSink(os.Stderr)}
	for _, o := range opts {
		o(s)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply replaces level and sinks. With no sink enabled, lines go to the
// console.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogPath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	s.alert.configure(cfg.Alert)
	if cfg.Alert.Enabled {
		sinks = append(sinks, s.alert)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the alert sink and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	s.alert.stop()
	if f != nil {
		return f.Close()
	}
	return nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
