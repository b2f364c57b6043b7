// Package quality summarizes data-quality signals of the normalized view
// and alerts when they cross configured thresholds.
package quality

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/view"
)

// DefaultTopUnmapped is how many unresolved names a Report lists.
const DefaultTopUnmapped = 10

// WarningCount is the number of records carrying one warning code.
type WarningCount struct {
	Warning string `json:"warning"`
	Records int    `json:"records"`
}

// Report is a point-in-time view of data quality over one dataset.
type Report struct {
	Submissions int `json:"submissions"`
	Resolved    int `json:"resolved"`
	Unmapped    int `json:"unmapped"`

	// InsufficientData counts records with no overall score.
	InsufficientData int `json:"insufficient_data"`
	// Unclassified counts resolved records whose date falls outside the
	// calendar of their class. Unmapped records are never classified and
	// are not counted here.
	Unclassified int `json:"unclassified"`
	WithWarnings int `json:"with_warnings"`

	UnmappedRate     float64 `json:"unmapped_rate"`
	InsufficientRate float64 `json:"insufficient_rate"`
	WarningRate      float64 `json:"warning_rate"`

	Warnings    []WarningCount      `json:"warnings,omitempty"`
	TopUnmapped []view.UnmappedName `json:"top_unmapped,omitempty"`

	Fingerprint     string    `json:"fingerprint"`
	CalendarVersion string    `json:"calendar_version,omitempty"`
	CalendarStatus  string    `json:"calendar_status,omitempty"`
	CollectedAt     time.Time `json:"collected_at"`
}

// DatasetSource yields the current normalized dataset. *view.Service
// satisfies it.
type DatasetSource interface {
	Dataset(ctx context.Context) (*view.Dataset, error)
}

// Collector builds Reports from a DatasetSource.
type Collector struct {
	source DatasetSource
	topN   int
}

// NewCollector creates a collector listing at most topN unmapped names.
func NewCollector(src DatasetSource, topN int) *Collector {
	if topN <= 0 {
		topN = DefaultTopUnmapped
	}
	return &Collector{source: src, topN: topN}
}

// Collect reads the current dataset and summarizes it.
func (c *Collector) Collect(ctx context.Context) (*Report, error) {
	ds, err := c.source.Dataset(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quality: load dataset")
	}
	return Summarize(ds, c.topN), nil
}

// Summarize computes the Report of ds.
func Summarize(ds *view.Dataset, topN int) *Report {
	r := &Report{
		Fingerprint: ds.Fingerprint,
		CollectedAt: time.Now().UTC(),
	}
	if cal := ds.Calendar(); cal != nil {
		r.CalendarVersion = cal.Version()
		r.CalendarStatus = cal.Status()
	}

	warnings := make(map[string]int)
	for _, rec := range ds.Records {
		r.Submissions++
		if rec.MappingStatus == model.MappingResolved {
			r.Resolved++
			if !rec.Classified() {
				r.Unclassified++
			}
		} else {
			r.Unmapped++
		}
		if rec.ScoreSource == model.ScoreInsufficientData {
			r.InsufficientData++
		}
		if rec.HasWarnings() {
			r.WithWarnings++
			seen := make(map[string]bool, len(rec.DataQualityWarnings))
			for _, w := range rec.DataQualityWarnings {
				if !seen[w] {
					seen[w] = true
					warnings[w]++
				}
			}
		}
	}

	if r.Submissions > 0 {
		n := float64(r.Submissions)
		r.UnmappedRate = float64(r.Unmapped) / n
		r.InsufficientRate = float64(r.InsufficientData) / n
		r.WarningRate = float64(r.WithWarnings) / n
	}

	for w, n := range warnings {
		r.Warnings = append(r.Warnings, WarningCount{Warning: w, Records: n})
	}
	sort.Slice(r.Warnings, func(i, j int) bool {
		if r.Warnings[i].Records != r.Warnings[j].Records {
			return r.Warnings[i].Records > r.Warnings[j].Records
		}
		return r.Warnings[i].Warning < r.Warnings[j].Warning
	})

	if r.Unmapped > 0 {
		unmapped := ds.Unmapped(view.Filters{})
		if topN > 0 && len(unmapped) > topN {
			unmapped = unmapped[:topN]
		}
		r.TopUnmapped = unmapped
	}
	return r
}
