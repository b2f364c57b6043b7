// Package calendar maps supervision timestamps to named operating periods.
// Each territorial class has its own contiguous, non-overlapping calendar,
// defined once as versioned configuration data.
package calendar

import (
	_ "embed"
	"os"
	"sort"
	"time"
	_ "time/tzdata"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/supervision-cli/internal/model"
)

//go:embed calendar.yaml
var defaultCalendarYAML []byte

const dateLayout = "2006-01-02"

type periodSpec struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type calendarSpec struct {
	Version string                  `yaml:"version"`
	Status  string                  `yaml:"status"`
	Classes map[string][]periodSpec `yaml:"classes"`
}

// Calendar holds one ordered period list per territorial class. It is
// immutable after Parse and safe for concurrent use.
type Calendar struct {
	version string
	status  string
	loc     *time.Location
	periods map[model.TerritorialClass][]model.OperatingPeriod
}

// DefaultTimezone is the business time zone used for day bucketing.
const DefaultTimezone = "America/Monterrey"

// LoadLocation resolves an IANA zone name. An empty name means
// DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, eris.Wrapf(err, "calendar: load timezone %s", name)
	}
	return loc, nil
}

// Default returns the calendar compiled into the binary.
func Default(loc *time.Location) (*Calendar, error) {
	return Parse(defaultCalendarYAML, loc)
}

// Load reads a calendar file. An empty path returns the embedded default.
func Load(path string, loc *time.Location) (*Calendar, error) {
	if path == "" {
		return Default(loc)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "calendar: read %s", path)
	}
	return Parse(data, loc)
}

// Parse decodes and validates a calendar. Timestamps are bucketed by their
// calendar day in loc; a nil loc means UTC.
func Parse(data []byte, loc *time.Location) (*Calendar, error) {
	if loc == nil {
		loc = time.UTC
	}

	var spec calendarSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, eris.Wrap(err, "calendar: parse")
	}
	if spec.Version == "" {
		return nil, eris.New("calendar: missing version")
	}

	c := &Calendar{
		version: spec.Version,
		status:  spec.Status,
		loc:     loc,
		periods: make(map[model.TerritorialClass][]model.OperatingPeriod, 2),
	}
	for rawClass, specs := range spec.Classes {
		class, ok := model.ParseTerritorialClass(rawClass)
		if !ok {
			return nil, eris.Errorf("calendar: unknown territorial class %q", rawClass)
		}
		if _, dup := c.periods[class]; dup {
			return nil, eris.Errorf("calendar: class %q defined twice", rawClass)
		}
		periods, err := buildPeriods(class, specs)
		if err != nil {
			return nil, err
		}
		c.periods[class] = periods
	}
	for _, class := range []model.TerritorialClass{model.ClassLocal, model.ClassForanea} {
		if len(c.periods[class]) == 0 {
			return nil, eris.Errorf("calendar: no periods for class %q", class)
		}
	}
	return c, nil
}

// buildPeriods parses, sorts and validates one class calendar:
//  1. every period has a name and start < end
//  2. names are unique within the class
//  3. consecutive periods neither overlap nor leave a gap
func buildPeriods(class model.TerritorialClass, specs []periodSpec) ([]model.OperatingPeriod, error) {
	periods := make([]model.OperatingPeriod, 0, len(specs))
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, eris.Errorf("calendar: %s period without name", class)
		}
		if names[s.Name] {
			return nil, eris.Errorf("calendar: %s period %q defined twice", class, s.Name)
		}
		names[s.Name] = true

		start, err := time.Parse(dateLayout, s.Start)
		if err != nil {
			return nil, eris.Wrapf(err, "calendar: %s period %q start", class, s.Name)
		}
		end, err := time.Parse(dateLayout, s.End)
		if err != nil {
			return nil, eris.Wrapf(err, "calendar: %s period %q end", class, s.Name)
		}
		if !start.Before(end) {
			return nil, eris.Errorf("calendar: %s period %q ends before it starts", class, s.Name)
		}
		periods = append(periods, model.OperatingPeriod{Name: s.Name, Start: start, End: end, Class: class})
	}

	sort.Slice(periods, func(i, j int) bool { return periods[i].Start.Before(periods[j].Start) })
	for i := 1; i < len(periods); i++ {
		prev, cur := periods[i-1], periods[i]
		switch {
		case prev.End.After(cur.Start):
			return nil, eris.Errorf("calendar: %s periods %q and %q overlap", class, prev.Name, cur.Name)
		case prev.End.Before(cur.Start):
			return nil, eris.Errorf("calendar: %s gap between %q and %q", class, prev.Name, cur.Name)
		}
	}
	return periods, nil
}

// Version returns the calendar version label.
func (c *Calendar) Version() string { return c.version }

// Status returns the calendar status label (e.g. "provisional").
func (c *Calendar) Status() string { return c.status }

// Location returns the business time zone used for day bucketing.
func (c *Calendar) Location() *time.Location { return c.loc }

// Day truncates t to its calendar day in the business time zone,
// expressed as midnight UTC so it compares against period bounds.
func (c *Calendar) Day(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PeriodFor returns the period of class containing t. ok is false when t
// is zero, class is unknown, or t falls outside the class calendar; the
// caller reports those as model.UnclassifiedPeriod.
func (c *Calendar) PeriodFor(t time.Time, class model.TerritorialClass) (model.OperatingPeriod, bool) {
	periods := c.periods[class]
	if t.IsZero() || len(periods) == 0 {
		return model.OperatingPeriod{}, false
	}
	day := c.Day(t)
	i := sort.Search(len(periods), func(i int) bool { return periods[i].End.After(day) })
	if i < len(periods) && periods[i].Contains(day) {
		return periods[i], true
	}
	return model.OperatingPeriod{}, false
}

// Periods returns a copy of the ordered periods of class.
func (c *Calendar) Periods(class model.TerritorialClass) []model.OperatingPeriod {
	out := make([]model.OperatingPeriod, len(c.periods[class]))
	copy(out, c.periods[class])
	return out
}

// Span returns the [start, end) range covered by the class calendar.
func (c *Calendar) Span(class model.TerritorialClass) (time.Time, time.Time, bool) {
	periods := c.periods[class]
	if len(periods) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return periods[0].Start, periods[len(periods)-1].End, true
}

// ByName finds a period by name, searching Local before Foránea.
func (c *Calendar) ByName(name string) (model.OperatingPeriod, bool) {
	for _, class := range []model.TerritorialClass{model.ClassLocal, model.ClassForanea} {
		for _, p := range c.periods[class] {
			if p.Name == name {
				return p, true
			}
		}
	}
	return model.OperatingPeriod{}, false
}
