package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/supervision-cli/internal/quality"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Report data-quality rates and alert when thresholds are crossed",
	Long:  "Summarizes unmapped, insufficient-data and warning rates of the current dataset. --send posts triggered alerts to quality.webhook_url; --watch keeps checking every quality.check_interval_secs until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		send, _ := cmd.Flags().GetBool("send")
		watch, _ := cmd.Flags().GetBool("watch")
		top, _ := cmd.Flags().GetInt("top")

		st, svc, err := openEngine(ctx, "quality")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		collector := quality.NewCollector(svc, top)
		alerter := quality.NewAlerter(cfg.Quality, retryConfig())

		if watch {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			quality.NewChecker(collector, alerter, cfg.Quality).Run(ctx)
			return nil
		}

		report, err := collector.Collect(ctx)
		if err != nil {
			return err
		}
		alerts := alerter.Evaluate(report)
		if send {
			sent := alerter.SendAlerts(ctx, alerts)
			zap.L().Info("quality alerts delivered", zap.Int("triggered", len(alerts)), zap.Int("sent", sent))
		}

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			return writeJSON(out, struct {
				Report *quality.Report `json:"report"`
				Alerts []quality.Alert `json:"alerts"`
			}{report, alerts})
		}
		formatQuality(out, report, alerts)
		return nil
	},
}

func init() {
	qualityCmd.Flags().Bool("send", false, "post triggered alerts to the configured webhook")
	qualityCmd.Flags().Bool("watch", false, "check periodically until interrupted")
	qualityCmd.Flags().Int("top", quality.DefaultTopUnmapped, "unmapped names to list")
	rootCmd.AddCommand(qualityCmd)
}

func formatQuality(out io.Writer, r *quality.Report, alerts []quality.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Submissions:\t%d\n", r.Submissions)
	_, _ = fmt.Fprintf(w, "Unmapped:\t%d\t%.1f%%\n", r.Unmapped, r.UnmappedRate*100)
	_, _ = fmt.Fprintf(w, "Insufficient data:\t%d\t%.1f%%\n", r.InsufficientData, r.InsufficientRate*100)
	_, _ = fmt.Fprintf(w, "With warnings:\t%d\t%.1f%%\n", r.WithWarnings, r.WarningRate*100)
	_, _ = fmt.Fprintf(w, "Outside calendar:\t%d\n", r.Unclassified)
	_, _ = fmt.Fprintf(w, "Calendar:\t%s\t%s\n", r.CalendarVersion, r.CalendarStatus)
	_ = w.Flush()

	if len(r.Warnings) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "WARNING\tRECORDS")
		_, _ = fmt.Fprintln(w, "-------\t-------")
		for _, wc := range r.Warnings {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", wc.Warning, wc.Records)
		}
		_ = w.Flush()
	}

	if len(r.TopUnmapped) > 0 {
		_, _ = fmt.Fprintln(out)
		formatUnmapped(out, r.TopUnmapped)
	}

	_, _ = fmt.Fprintln(out)
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
