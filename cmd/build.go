package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/supervision-cli/internal/view"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Normalize the current snapshot and print the records",
	Long:  "Reads a consistent snapshot of raw rows and the registry, builds one normalized record per submission and prints them. Filters narrow the output only.",
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

		ds, err := svc.Dataset(ctx)
		if err != nil {
			return err
		}

		records := f.Apply(ds.Records)
		views := make([]view.RecordView, len(records))
		for i, rec := range records {
			views[i] = view.NewRecordView(rec)
		}

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			return writeJSON(out, views)
		}
		formatRecords(out, views)
		_, _ = fmt.Fprintf(out, "\n%d of %d submissions, fingerprint %s, built %s\n",
			len(views), len(ds.Records), truncateID(ds.Fingerprint), ds.BuiltAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	addFilterFlags(buildCmd)
	rootCmd.AddCommand(buildCmd)
}

// formatRecords writes a tabular list of normalized records to w.
func formatRecords(out io.Writer, views []view.RecordView) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SUBMISSION\tRAW_NAME\tCODE\tSTATUS\tCLASS\tPERIOD\tDATE\tSCORE\tSOURCE\tWARNINGS")
	_, _ = fmt.Fprintln(w, "----------\t--------\t----\t------\t-----\t------\t----\t-----\t------\t--------")
	for _, v := range views {
		code := "-"
		if v.BranchCode != 0 {
			code = fmt.Sprint(v.BranchCode)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			truncateID(v.SubmissionID),
			truncate(v.RawBranchName, 30),
			code,
			v.MappingStatus,
			formatClass(v.TerritorialClass),
			v.PeriodName,
			formatDate(v.SupervisedAt),
			formatScore(v.OverallScore),
			v.ScoreSource,
			len(v.Warnings),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 12 characters of an identifier for compact display.
func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
