package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/supervision-cli/internal/view"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the per-period score series of a branch or operating group",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		code, _ := cmd.Flags().GetInt("branch")
		group, _ := cmd.Flags().GetString("of-group")
		fromPeriod, _ := cmd.Flags().GetString("from-period")
		toPeriod, _ := cmd.Flags().GetString("to-period")

		f, err := parseFilters(cmd)
		if err != nil {
			return err
		}
		st, svc, err := openEngine(ctx, "engine")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		points, err := svc.History(ctx,
			view.HistoryTarget{BranchCode: code, Group: group},
			view.PeriodRange{From: fromPeriod, To: toPeriod},
			f,
		)
		if err != nil {
			return err
		}

		if jsonOutput(cmd) {
			return writeJSON(cmd.OutOrStdout(), points)
		}
		formatHistory(cmd.OutOrStdout(), points)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("branch", 0, "branch code")
	historyCmd.Flags().String("of-group", "", "operating group")
	historyCmd.Flags().String("from-period", "", "first period name to include")
	historyCmd.Flags().String("to-period", "", "last period name to include")
	historyCmd.MarkFlagsOneRequired("branch", "of-group")
	historyCmd.MarkFlagsMutuallyExclusive("branch", "of-group")
	addFilterFlags(historyCmd)
	rootCmd.AddCommand(historyCmd)
}

func formatHistory(out io.Writer, points []view.HistoryPoint) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PERIOD\tCLASS\tSTART\tEND\tSUBMISSIONS\tSCORED\tAVG_SCORE")
	_, _ = fmt.Fprintln(w, "------\t-----\t-----\t---\t-----------\t------\t---------")
	for _, p := range points {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			p.Period, formatClass(p.TerritorialClass), formatDate(p.Start), formatDate(p.End),
			p.Submissions, p.Scored, formatScore(p.AverageScore))
	}
	_ = w.Flush()
}
