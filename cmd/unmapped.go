package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/supervision-cli/internal/view"
)

var unmappedCmd = &cobra.Command{
	Use:   "unmapped",
	Short: "List raw branch names that did not resolve, for manual review",
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

		names, err := svc.Unmapped(ctx, f)
		if err != nil {
			return err
		}

		if jsonOutput(cmd) {
			return writeJSON(cmd.OutOrStdout(), names)
		}
		if len(names) == 0 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No unmapped branch names.")
			return nil
		}
		formatUnmapped(cmd.OutOrStdout(), names)
		return nil
	},
}

func init() {
	addFilterFlags(unmappedCmd)
	rootCmd.AddCommand(unmappedCmd)
}

func formatUnmapped(out io.Writer, names []view.UnmappedName) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RAW_NAME\tSUBMISSIONS\tFIRST_SEEN\tLAST_SEEN\tCANDIDATES\tREASON")
	_, _ = fmt.Fprintln(w, "--------\t-----------\t----------\t---------\t----------\t------")
	for _, u := range names {
		candidates := joinInts(u.Candidates)
		if candidates == "" {
			candidates = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			truncate(u.RawName, 40), u.Submissions, formatDate(u.FirstSeen), formatDate(u.LastSeen), candidates, u.Reason)
	}
	_ = w.Flush()
}
