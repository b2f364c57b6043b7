package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/supervision-cli/internal/store"
)

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Write the normalized view into the normalized table",
	Long:  "Builds the current dataset and replaces the contents of the normalized table with it under a new build id, in one transaction.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, svc, err := openEngine(ctx, "engine")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ds, err := svc.Dataset(ctx)
		if err != nil {
			return err
		}

		res, err := st.Materialize(ctx, store.Materialization{
			Records:     ds.Records,
			Fingerprint: ds.Fingerprint,
			BuiltAt:     ds.BuiltAt,
		})
		if err != nil {
			return eris.Wrap(err, "materialize")
		}

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			return writeJSON(out, res)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Build:\t%s\n", res.BuildID)
		_, _ = fmt.Fprintf(w, "Fingerprint:\t%s\n", truncateID(ds.Fingerprint))
		_, _ = fmt.Fprintf(w, "Written:\t%d\n", res.Written)
		_, _ = fmt.Fprintf(w, "Removed:\t%d\n", res.Removed)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(materializeCmd)
}
