package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/supervision-cli/internal/calendar"
	"github.com/sells-group/supervision-cli/internal/importer"
)

// maxIssuesShown bounds the issue table printed after an import.
const maxIssuesShown = 20

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load raw supervision exports and the branch registry from CSV or XLSX",
	Long:  "Parses CSV (comma or semicolon) and XLSX exports into typed rows and bulk-loads them. Registry files are upserted by branch code; raw rows are appended unless --replace is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rawPaths, _ := cmd.Flags().GetStringSlice("raw")
		registryPaths, _ := cmd.Flags().GetStringSlice("registry")
		replace, _ := cmd.Flags().GetBool("replace")
		sheet, _ := cmd.Flags().GetString("sheet")
		delim, _ := cmd.Flags().GetString("delimiter")

		if len(rawPaths) == 0 && len(registryPaths) == 0 {
			return eris.New("import: at least one of --raw or --registry is required")
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		loc, err := calendar.LoadLocation(cfg.Engine.Timezone)
		if err != nil {
			return err
		}
		opts := importer.Options{
			Location: loc,
			XLSX:     importer.XLSXOptions{SheetName: sheet},
			Workers:  cfg.Engine.Workers,
		}
		if delim != "" {
			r, size := utf8.DecodeRuneInString(delim)
			if size != len(delim) {
				return eris.Errorf("import: --delimiter must be a single character, got %q", delim)
			}
			opts.CSV.Delimiter = r
		}
		im := importer.New(opts)

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		issues := []importer.Issue{}

		if len(registryPaths) > 0 {
			res, err := im.ReadRegistry(ctx, registryPaths...)
			if err != nil {
				return err
			}
			n, err := st.ImportRegistry(ctx, res.Branches)
			if err != nil {
				return eris.Wrap(err, "import registry")
			}
			issues = append(issues, res.Issues...)
			zap.L().Info("registry imported", zap.Int64("branches", n), zap.Int("issues", len(res.Issues)))
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "registry: %d branches\n", n)
		}

		if len(rawPaths) > 0 {
			res, err := im.ReadRaw(ctx, rawPaths...)
			if err != nil {
				return err
			}
			n, err := st.ImportRaw(ctx, res.Rows, replace)
			if err != nil {
				return eris.Wrap(err, "import raw")
			}
			issues = append(issues, res.Issues...)
			zap.L().Info("raw rows imported",
				zap.Int64("rows", n),
				zap.Bool("replace", replace),
				zap.Int("issues", len(res.Issues)),
			)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "raw: %d rows\n", n)
		}

		if jsonOutput(cmd) {
			return writeJSON(cmd.OutOrStdout(), issues)
		}
		formatIssues(cmd.OutOrStdout(), issues)
		return nil
	},
}

func init() {
	importCmd.Flags().StringSlice("raw", nil, "raw supervision export file(s), .csv or .xlsx")
	importCmd.Flags().StringSlice("registry", nil, "branch registry file(s), .csv or .xlsx")
	importCmd.Flags().Bool("replace", false, "replace the raw table instead of appending")
	importCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().String("delimiter", "", "CSV delimiter (default: detect , or ;)")
	rootCmd.AddCommand(importCmd)
}

// formatIssues writes up to maxIssuesShown issues to w.
func formatIssues(out io.Writer, issues []importer.Issue) {
	if len(issues) == 0 {
		return
	}
	_, _ = fmt.Fprintf(out, "%d issue(s):\n", len(issues))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tLINE\tCOLUMN\tVALUE\tREASON")
	_, _ = fmt.Fprintln(w, "----\t----\t------\t-----\t------")
	for i, is := range issues {
		if i == maxIssuesShown {
			_, _ = fmt.Fprintf(w, "...\t\t\t\t%d more\n", len(issues)-maxIssuesShown)
			break
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", is.File, is.Line, is.Column, truncate(is.Value, 30), is.Reason)
	}
	_ = w.Flush()
}
