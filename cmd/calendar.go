package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/supervision-cli/internal/calendar"
	"github.com/sells-group/supervision-cli/internal/model"
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Show the operating calendars, or the periods a date falls in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		at, _ := cmd.Flags().GetString("at")

		if err := cfg.Validate("engine"); err != nil {
			return err
		}
		cal, err := loadCalendar()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if at == "" {
			if jsonOutput(cmd) {
				return writeJSON(out, calendarListing(cal))
			}
			formatCalendar(out, cal)
			return nil
		}

		day, err := time.ParseInLocation(dateLayout, at, cal.Location())
		if err != nil {
			return eris.Wrap(err, "parse --at")
		}
		lookups := make([]periodLookup, 0, 2)
		for _, class := range []model.TerritorialClass{model.ClassLocal, model.ClassForanea} {
			l := periodLookup{Class: class, Period: model.UnclassifiedPeriod}
			if p, ok := cal.PeriodFor(day, class); ok {
				l.Period = p.Name
				l.Start, l.End = p.Start, p.End
			}
			lookups = append(lookups, l)
		}
		if jsonOutput(cmd) {
			return writeJSON(out, lookups)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, l := range lookups {
			_, _ = fmt.Fprintf(w, "%s:\t%s\t%s\t%s\n", l.Class.Label(), l.Period, formatDate(l.Start), formatDate(l.End))
		}
		return w.Flush()
	},
}

func init() {
	calendarCmd.Flags().String("at", "", "date to classify (YYYY-MM-DD)")
	rootCmd.AddCommand(calendarCmd)
}

type periodLookup struct {
	Class  model.TerritorialClass `json:"territorial_class"`
	Period string                 `json:"period_name"`
	Start  time.Time              `json:"start_date,omitempty"`
	End    time.Time              `json:"end_date,omitempty"`
}

type calendarDoc struct {
	Version  string                  `json:"version"`
	Status   string                  `json:"status"`
	Timezone string                  `json:"timezone"`
	Periods  []model.OperatingPeriod `json:"periods"`
}

func calendarListing(cal *calendar.Calendar) calendarDoc {
	doc := calendarDoc{
		Version:  cal.Version(),
		Status:   cal.Status(),
		Timezone: cal.Location().String(),
	}
	doc.Periods = append(doc.Periods, cal.Periods(model.ClassLocal)...)
	doc.Periods = append(doc.Periods, cal.Periods(model.ClassForanea)...)
	return doc
}

func formatCalendar(out io.Writer, cal *calendar.Calendar) {
	_, _ = fmt.Fprintf(out, "Calendar %s (%s), %s\n\n", cal.Version(), cal.Status(), cal.Location())
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLASS\tPERIOD\tSTART\tEND")
	_, _ = fmt.Fprintln(w, "-----\t------\t-----\t---")
	for _, class := range []model.TerritorialClass{model.ClassLocal, model.ClassForanea} {
		for _, p := range cal.Periods(class) {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", class.Label(), p.Name, formatDate(p.Start), formatDate(p.End))
		}
	}
	_ = w.Flush()
}
