package view

import (
	"time"

	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/textnorm"
)

// Filters narrows the records a query considers. Zero values match
// everything. Group and state comparisons ignore case and accents.
type Filters struct {
	Groups  []string                 `json:"groups,omitempty"`
	States  []string                 `json:"states,omitempty"`
	Periods []string                 `json:"periods,omitempty"`
	Classes []model.TerritorialClass `json:"classes,omitempty"`
	// From and To bound SupervisedAt as [From, To).
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
	// ExcludeUnclassified drops records outside every calendar period.
	ExcludeUnclassified bool `json:"exclude_unclassified,omitempty"`
}

// Match reports whether rec passes every filter.
func (f Filters) Match(rec model.NormalizedRecord) bool {
	if f.ExcludeUnclassified && !rec.Classified() {
		return false
	}
	if len(f.Groups) > 0 && !anyEqual(f.Groups, rec.Group()) {
		return false
	}
	if len(f.States) > 0 && !anyEqual(f.States, rec.State()) {
		return false
	}
	if len(f.Periods) > 0 && !contains(f.Periods, rec.PeriodName) {
		return false
	}
	if len(f.Classes) > 0 && !containsClass(f.Classes, rec.TerritorialClass) {
		return false
	}
	if !f.From.IsZero() && (rec.SupervisedAt.IsZero() || rec.SupervisedAt.Before(f.From)) {
		return false
	}
	if !f.To.IsZero() && (rec.SupervisedAt.IsZero() || !rec.SupervisedAt.Before(f.To)) {
		return false
	}
	return true
}

// Apply returns the records that pass f, in input order.
func (f Filters) Apply(records []model.NormalizedRecord) []model.NormalizedRecord {
	var out []model.NormalizedRecord
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func anyEqual(values []string, s string) bool {
	for _, v := range values {
		if textnorm.Equal(v, s) {
			return true
		}
	}
	return false
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func containsClass(values []model.TerritorialClass, c model.TerritorialClass) bool {
	for _, v := range values {
		if v == c {
			return true
		}
	}
	return false
}
