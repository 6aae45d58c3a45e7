package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"asyncqueue/internal/config"
	"asyncqueue/internal/jobs"
	"asyncqueue/internal/metrics"
	"asyncqueue/internal/runtime/supervisor"
	"asyncqueue/internal/storage"
	"asyncqueue/internal/trigger"
	logx "asyncqueue/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job on its schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(g)
			if err != nil {
				return err
			}
			defer e.close()
			return serve(cmd.Context(), e, jobName(g.configPath), runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run once immediately, then follow the schedule")
	return cmd
}

type server struct {
	job      string
	env      *env
	store    storage.Store
	exporter *metrics.Exporter
	breakers *jobs.Breakers
	runner   *jobs.Runner
	trig     *trigger.Service
}

func serve(ctx context.Context, e *env, job string, runNow bool) error {
	cfg := e.cfgs.Get()
	if cfg.Schedule == "" {
		return fmt.Errorf("serve: %s has no schedule", e.cfgs.Path())
	}
	log := e.log.With(logx.String("comp", "serve"), logx.String("job", job))

	st, err := openStore(cfg, e.log)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	s := &server{job: job, env: e, store: st}
	if cfg.Metrics.Enabled {
		if s.exporter, err = metrics.NewExporter("asyncqueue", nil, metrics.Options{}); err != nil {
			return err
		}
	}
	s.breakers = jobs.NewBreakers(cfg.Breaker, e.log, func(task string, open bool) {
		s.exporter.RecordBreakerState(job, task, open)
	})
	s.runner = jobs.NewRunner(job,
		jobs.WithLogger(e.log),
		jobs.WithStore(st),
		jobs.WithMetrics(s.exporter),
		jobs.WithBreakers(s.breakers),
	)
	s.trig = trigger.New(e.log)

	sup := supervisor.New(ctx, supervisor.WithLogger(e.log))
	sctx := sup.Context()

	// Subscribe before Watch starts so no reload is missed.
	updates := e.cfgs.Subscribe(1)
	defer e.cfgs.Unsubscribe(updates)

	if err := s.trig.Start(sctx, cfg.Schedule, s.runOnce); err != nil {
		sup.Cancel()
		return err
	}
	sup.Go("config.watch", e.cfgs.Watch)
	sup.Go0("config.apply", func(ctx context.Context) { s.applyLoop(ctx, updates) })
	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = config.DefaultMetricsAddr
		}
		pprof := cfg.Metrics.Pprof
		sup.Go("metrics.http", func(ctx context.Context) error { return serveMetrics(ctx, addr, pprof, log) })
	}
	if runNow {
		sup.Go0("run.now", s.runOnce)
	}

	notifyReady(sup, log)
	log.Info("serving", logx.String("schedule", cfg.Schedule), logx.Time("next", s.trig.Next()))

	<-sctx.Done()
	log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.trig.Stop(stopCtx)
	err = sup.Stop(stopCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runOnce is the trigger job. Config edits made while it runs are
// reconciled into the running queue.
func (s *server) runOnce(ctx context.Context) {
	updates := s.env.cfgs.Subscribe(1)
	defer s.env.cfgs.Unsubscribe(updates)

	rep, err := s.runner.Run(ctx, s.env.cfgs.Get(), updates)
	if err != nil && ctx.Err() != nil {
		return
	}
	fields := []logx.Field{
		logx.String("state", rep.State.String()),
		logx.Int("tasks", len(rep.Results)),
		logx.Int("failed", rep.Failed()),
		logx.Time("next", s.trig.Next()),
	}
	if !rep.OK() {
		s.env.log.Warn("scheduled run failed", append(fields, logx.Err(err))...)
		return
	}
	s.env.log.Info("scheduled run finished", fields...)
}

// applyLoop pushes reloaded settings into the long-lived services.
func (s *server) applyLoop(ctx context.Context, updates <-chan *config.Config) {
	prev := s.env.cfgs.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			s.env.logs.Apply(cfg.Logging.Log())
			if cfg.Schedule != prev.Schedule {
				if err := s.trig.Reschedule(cfg.Schedule); err != nil {
					s.env.log.Warn("reschedule failed; keeping previous schedule", logx.Err(err))
				}
			}
			if cfg.Breaker != prev.Breaker {
				s.breakers.Reset(cfg.Breaker)
			}
			if cfg.Metrics != prev.Metrics || !sameStorage(cfg.Storage, prev.Storage) {
				s.env.log.Warn("metrics/storage changes apply after restart")
			}
			prev = cfg
		}
	}
}

func sameStorage(a, b *config.StorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func serveMetrics(ctx context.Context, addr string, pprof bool, log logx.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(nil))
	if pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics listening", logx.String("addr", addr), logx.Bool("pprof", pprof))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// notifyReady tells systemd we are up and, when WatchdogSec is set, keeps
// the watchdog fed at half its interval. Outside systemd both are no-ops.
func notifyReady(sup *supervisor.Supervisor, log logx.Logger) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify ready sent")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}
