package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/supervision-cli/internal/view"
)

var kpisCmd = &cobra.Command{
	Use:   "kpis",
	Short: "Show headline counts and per-period averages by operating group",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := parseFilters(cmd)
		if err != nil {
			return err
		}
		st, svc, err := openEngine(ctx, "engine")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := svc.KPIs(ctx, f)
		if err != nil {
			return err
		}

		if jsonOutput(cmd) {
			return writeJSON(cmd.OutOrStdout(), rep)
		}
		formatKPIs(cmd.OutOrStdout(), rep)
		return nil
	},
}

func init() {
	addFilterFlags(kpisCmd)
	rootCmd.AddCommand(kpisCmd)
}

// formatKPIs writes the report totals followed by the per-period table.
func formatKPIs(out io.Writer, rep view.KPIReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Submissions:\t%d\n", rep.Submissions)
	_, _ = fmt.Fprintf(w, "Average score:\t%s\t(%d scored)\n", formatScore(rep.AverageScore), rep.Scored)
	_, _ = fmt.Fprintf(w, "Branches:\t%d\n", rep.Branches)
	_, _ = fmt.Fprintf(w, "Resolved:\t%d\n", rep.Resolved)
	_, _ = fmt.Fprintf(w, "Unmapped:\t%d\n", rep.Unmapped)
	_, _ = fmt.Fprintf(w, "Authoritative:\t%d\n", rep.Authoritative)
	_, _ = fmt.Fprintf(w, "Averaged:\t%d\n", rep.Averaged)
	_, _ = fmt.Fprintf(w, "Insufficient data:\t%d\n", rep.InsufficientData)
	_, _ = fmt.Fprintf(w, "Unclassified:\t%d\n", rep.Unclassified)
	_, _ = fmt.Fprintf(w, "With warnings:\t%d\n", rep.WithWarnings)
	_ = w.Flush()

	if len(rep.ByPeriodGroup) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PERIOD\tCLASS\tGROUP\tSUBMISSIONS\tBRANCHES\tAVG_SCORE")
	_, _ = fmt.Fprintln(w, "------\t-----\t-----\t-----------\t--------\t---------")
	for _, g := range rep.ByPeriodGroup {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			g.Period, formatClass(g.TerritorialClass), g.Group, g.Submissions, g.Branches, formatScore(g.AverageScore))
	}
	_ = w.Flush()
}
