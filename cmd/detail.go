package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/supervision-cli/internal/view"
)

var detailCmd = &cobra.Command{
	Use:   "detail <code|name|alias>",
	Short: "Show a branch and all of its supervisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, svc, err := openEngine(ctx, "engine")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		det, err := svc.BranchDetail(ctx, args[0])
		if errors.Is(err, view.ErrBranchNotFound) {
			return eris.Errorf("no branch or supervision matches %q", args[0])
		}
		if err != nil {
			return err
		}

		if jsonOutput(cmd) {
			return writeJSON(cmd.OutOrStdout(), det)
		}
		formatDetail(cmd.OutOrStdout(), det)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detailCmd)
}

func formatDetail(out io.Writer, det view.BranchDetail) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if b := det.Branch; b != nil {
		_, _ = fmt.Fprintf(w, "Branch:\t%d %s\n", b.Code, b.Name)
		_, _ = fmt.Fprintf(w, "Group:\t%s\n", b.OperatingGroup)
		_, _ = fmt.Fprintf(w, "Location:\t%s, %s\n", b.Municipality, b.State)
		_, _ = fmt.Fprintf(w, "Class:\t%s\n", formatClass(det.TerritorialClass))
		_, _ = fmt.Fprintf(w, "Matched by:\t%s\n", det.MatchStrategy)
	} else {
		_, _ = fmt.Fprintf(w, "Raw name:\t%s\t(%s)\n", det.Identifier, det.MappingStatus)
	}
	_, _ = fmt.Fprintf(w, "Supervisions:\t%d\n", det.Submissions)
	_, _ = fmt.Fprintf(w, "Average score:\t%s\n", formatScore(det.AverageScore))
	_ = w.Flush()

	if len(det.Records) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tPERIOD\tSUBMISSION\tSCORE\tSOURCE\tAUTHORITATIVE\tAVERAGED\tWARNINGS")
	_, _ = fmt.Fprintln(w, "----\t------\t----------\t-----\t------\t-------------\t--------\t--------")
	for _, rec := range det.Records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			formatDate(rec.SupervisedAt), rec.PeriodName, truncateID(rec.SubmissionID),
			formatScore(rec.OverallScore), rec.ScoreSource,
			formatScore(rec.AuthoritativeScore), formatScore(rec.AveragedScore),
			len(rec.DataQualityWarnings))
	}
	_ = w.Flush()
}
