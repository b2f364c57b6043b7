package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/supervision-cli/internal/branch"
	"github.com/sells-group/supervision-cli/internal/calendar"
	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/resilience"
	"github.com/sells-group/supervision-cli/internal/score"
	"github.com/sells-group/supervision-cli/internal/store"
	"github.com/sells-group/supervision-cli/internal/territory"
	"github.com/sells-group/supervision-cli/internal/view"
)

const dateLayout = "2006-01-02"

func loadCalendar() (*calendar.Calendar, error) {
	loc, err := calendar.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return nil, err
	}
	return calendar.Load(cfg.Engine.CalendarPath, loc)
}

func newBuilder() (*view.Builder, error) {
	cal, err := loadCalendar()
	if err != nil {
		return nil, err
	}
	aliases, err := branch.LoadAliases(cfg.Engine.AliasesPath)
	if err != nil {
		return nil, err
	}
	return view.NewBuilder(view.Config{
		Aliases:  aliases,
		Calendar: cal,
		Resolver: branch.Options{MinSubstringLen: cfg.Engine.MinSubstringLen},
		Rules: territory.Rules{
			LocalStates:       cfg.Territory.LocalStates,
			LocalGroups:       cfg.Territory.LocalGroups,
			ForaneaExceptions: cfg.Territory.ForaneaExceptions,
		},
		Score:   score.Options{MaxPointsMarkers: cfg.Engine.MaxPointsMarkers},
		Workers: cfg.Engine.Workers,
	})
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromSettings(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs)
}

// openEngine validates the config for mode, opens the store and wires a
// view.Service over it. The caller closes the store.
func openEngine(ctx context.Context, mode string) (store.Repository, *view.Service, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, nil, err
	}
	b, err := newBuilder()
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc := view.NewService(st, b, view.ServiceOptions{
		CacheTTL: cfg.Engine.CacheTTL(),
		Retry:    retryConfig(),
	})
	return st, svc, nil
}

// addFilterFlags registers the shared record filters on cmd.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("group", nil, "operating group(s) to include")
	cmd.Flags().StringSlice("state", nil, "state(s) to include")
	cmd.Flags().StringSlice("period", nil, "period name(s) to include")
	cmd.Flags().StringSlice("class", nil, "territorial class(es): local, foranea")
	cmd.Flags().String("from", "", "first supervision date to include (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "first supervision date to exclude (YYYY-MM-DD)")
	cmd.Flags().Bool("exclude-unclassified", false, "drop records outside every calendar period")
}

// parseFilters reads the flags registered by addFilterFlags. Dates are
// calendar days in the business time zone.
func parseFilters(cmd *cobra.Command) (view.Filters, error) {
	var f view.Filters
	f.Groups, _ = cmd.Flags().GetStringSlice("group")
	f.States, _ = cmd.Flags().GetStringSlice("state")
	f.Periods, _ = cmd.Flags().GetStringSlice("period")
	f.ExcludeUnclassified, _ = cmd.Flags().GetBool("exclude-unclassified")

	classes, _ := cmd.Flags().GetStringSlice("class")
	for _, c := range classes {
		class, ok := model.ParseTerritorialClass(c)
		if !ok {
			return f, eris.Errorf("unknown territorial class %q (want local or foranea)", c)
		}
		f.Classes = append(f.Classes, class)
	}

	loc, err := calendar.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return f, err
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		s, _ := cmd.Flags().GetString(name)
		if s == "" {
			continue
		}
		t, err := time.ParseInLocation(dateLayout, s, loc)
		if err != nil {
			return f, eris.Wrapf(err, "parse --%s", name)
		}
		*dst = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, eris.New("--from must be before --to")
	}
	return f, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatScore renders an optional score, "-" when absent.
func formatScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}

func formatClass(c model.TerritorialClass) string {
	if c == model.ClassUnknown {
		return "-"
	}
	return c.Label()
}

// truncate shortens s to n runes for table output.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
