package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recorded runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(g)
			if err != nil {
				return err
			}
			defer e.close()

			st, err := openStore(e.cfgs.Get(), e.log)
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("storage is disabled in %s", g.configPath)
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tJOB\tSTATE\tTASKS\tFAILED\tTOOK\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.At.Local().Format(time.DateTime), r.Job, r.State, r.Tasks, r.Failed,
					time.Duration(r.TookMS)*time.Millisecond, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 = all)")
	return cmd
}
