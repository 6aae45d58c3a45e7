package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"asyncqueue/internal/config"
	"asyncqueue/internal/jobs"
	logx "asyncqueue/pkg/logx"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		watch  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the job once and print a report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(g)
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			cfg := e.cfgs.Get()
			st, err := openStore(cfg, e.log)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			runner := jobs.NewRunner(jobName(g.configPath),
				jobs.WithLogger(e.log),
				jobs.WithStore(st),
			)
			var updates chan *config.Config
			if watch {
				updates = e.cfgs.Subscribe(1)
				defer e.cfgs.Unsubscribe(updates)
				go func() {
					if err := e.cfgs.Watch(ctx); err != nil {
						e.log.Warn("config watch stopped", logx.Err(err))
					}
				}()
			}

			rep, runErr := runner.Run(ctx, cfg, updates)
			out := cmd.OutOrStdout()
			if asJSON {
				err = writeReportJSON(out, rep)
			} else {
				err = writeReport(out, rep)
			}
			if err != nil {
				return err
			}
			if runErr != nil || !rep.OK() {
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "apply job file edits to the running job")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func jobName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func writeReport(w io.Writer, rep jobs.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tEXIT\tTOOK\tERROR")
	for _, r := range rep.Results {
		status, errStr := "ok", ""
		if r.Err != nil {
			status, errStr = "failed", r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Name, status, r.Output.ExitCode, r.Output.Duration.Round(1e6), errStr)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s: %s, %d task(s), %d failed, took %s\n",
		rep.Job, rep.State, len(rep.Results), rep.Failed(), rep.Took.Round(1e6))
	return err
}

type reportJSON struct {
	Job     string           `json:"job"`
	State   string           `json:"state"`
	TookMS  int64            `json:"took_ms"`
	Error   string           `json:"error,omitempty"`
	Results []taskResultJSON `json:"results"`
}

type taskResultJSON struct {
	jobs.Output
	Error string `json:"error,omitempty"`
}

func writeReportJSON(w io.Writer, rep jobs.Report) error {
	out := reportJSON{
		Job:     rep.Job,
		State:   rep.State.String(),
		TookMS:  rep.Took.Milliseconds(),
		Results: make([]taskResultJSON, 0, len(rep.Results)),
	}
	if rep.Err != nil {
		out.Error = rep.Err.Error()
	}
	for _, r := range rep.Results {
		tr := taskResultJSON{Output: r.Output}
		tr.Name = r.Name
		if r.Err != nil {
			tr.Error = r.Err.Error()
		}
		out.Results = append(out.Results, tr)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
