package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"asyncqueue/internal/config"
	"asyncqueue/internal/storage"
	logx "asyncqueue/pkg/logx"
)

// errRunFailed makes the process exit non-zero after the report was printed.
var errRunFailed = errors.New("run failed")

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "asyncqueue",
		Short:         "Run job files through a bounded-concurrency queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "./job.yaml", "path to the job file (yaml or json)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newRunCmd(g),
		newServeCmd(g),
		newHistoryCmd(g),
	)
	return root
}

// env is what every subcommand needs: the loaded config and its logger.
type env struct {
	cfgs *config.Manager
	logs *logx.Service
	log  logx.Logger
}

func setup(g *globalFlags) (*env, error) {
	m := config.NewManager(g.configPath)
	cfg, err := m.Load()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", g.configPath, err)
	}
	lc := cfg.Logging.Log()
	if g.logLevel != "" {
		lc.Level = g.logLevel
	}
	svc, log := logx.New(lc)
	m.SetLogger(log)
	return &env{cfgs: m, logs: svc, log: log}, nil
}

func (e *env) close() { _ = e.logs.Close() }

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log)
}
