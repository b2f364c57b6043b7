// Package score derives one overall score per inspection submission from
// its raw area-level rows.
package score

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/textnorm"
)

// DefaultMaxPointsMarkers are area names of rows that only carry the
// maximum attainable points and never a score of their own.
var DefaultMaxPointsMarkers = []string{"PUNTOS MAXIMOS", "PUNTAJE MAXIMO"}

// Options configures a Reconciler.
type Options struct {
	MaxPointsMarkers []string
}

// Result is the reconciled score of one submission. Both candidate values
// are kept so the choice can be audited.
type Result struct {
	OverallScore  *float64
	Source        model.ScoreSource
	Authoritative *float64
	Averaged      *float64
	AreaScores    []model.AreaScore
	Warnings      []string
}

// Reconciler is immutable and safe for concurrent use.
type Reconciler struct {
	markers map[string]bool
}

// NewReconciler builds a Reconciler. A nil marker list means
// DefaultMaxPointsMarkers.
func NewReconciler(opts Options) *Reconciler {
	markers := opts.MaxPointsMarkers
	if markers == nil {
		markers = DefaultMaxPointsMarkers
	}
	r := &Reconciler{markers: make(map[string]bool, len(markers))}
	for _, m := range markers {
		r.markers[textnorm.Key(m)] = true
	}
	return r
}

// Reconcile applies the authoritative-field-first rule:
//   - authoritative: the first aggregate row (blank area, non-null percentage)
//   - averaged: mean of area percentages rounded to 2 decimals
//   - insufficient_data: neither exists, OverallScore is nil
//
// The averaged value is computed whenever area rows exist, even when the
// aggregate wins. Malformed rows are passed through and flagged in Warnings.
func (r *Reconciler) Reconcile(rows []model.RawInspectionRow) Result {
	var (
		res   Result
		warns warningSet
		seen  = make(map[string]bool)
		mean  Mean
	)

	for _, row := range rows {
		row = row.Sanitize()
		for _, w := range row.Warnings {
			warns.add(w)
		}
		checkRow(row, &warns)

		if row.IsAggregate() {
			if res.Authoritative == nil {
				v := *row.Percentage
				res.Authoritative = &v
			} else if *res.Authoritative != *row.Percentage {
				warns.add(model.WarnConflictingAggregate)
			}
			continue
		}
		if !row.HasArea() {
			continue
		}

		key := textnorm.Key(row.AreaName)
		if r.markers[key] {
			continue
		}
		if seen[key] {
			warns.add(model.WarnDuplicateArea)
			continue
		}
		seen[key] = true

		area := model.AreaScore{Area: row.AreaName}
		if row.Percentage == nil {
			warns.add(model.WarnAreaMissingPercentage)
		} else {
			v := *row.Percentage
			area.Percentage = &v
			mean.Add(v)
		}
		res.AreaScores = append(res.AreaScores, area)
	}

	res.Averaged = mean.Rounded()

	switch {
	case res.Authoritative != nil:
		v := *res.Authoritative
		res.OverallScore = &v
		res.Source = model.ScoreAuthoritative
	case res.Averaged != nil:
		v := *res.Averaged
		res.OverallScore = &v
		res.Source = model.ScoreAveraged
	default:
		res.Source = model.ScoreInsufficientData
	}

	res.Warnings = warns.list()
	return res
}

// Mean averages scores in decimal arithmetic, so halves are judged on the
// values as written (1.005 rounds to 1.01). The zero value is empty.
type Mean struct {
	sum decimal.Decimal
	n   int
}

// Add includes v in the mean. Non-finite values are ignored.
func (m *Mean) Add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	m.sum = m.sum.Add(decimal.NewFromFloat(v))
	m.n++
}

// Len is the number of values added.
func (m Mean) Len() int {
	return m.n
}

// Rounded returns the mean rounded to 2 decimals, or nil when empty.
func (m Mean) Rounded() *float64 {
	if m.n == 0 {
		return nil
	}
	v := round2(m.sum.Div(decimal.NewFromInt(int64(m.n))))
	return &v
}

// Round2 rounds x to 2 decimals, halves away from zero, using the shortest
// decimal text of x. Non-finite values are returned unchanged.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return round2(decimal.NewFromFloat(x))
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func checkRow(row model.RawInspectionRow, warns *warningSet) {
	if negative(row.PointsPossible) || negative(row.PointsObtained) {
		warns.add(model.WarnNegativePoints)
	}
	if row.PointsPossible != nil && row.PointsObtained != nil &&
		*row.PointsPossible >= 0 && *row.PointsObtained > *row.PointsPossible {
		warns.add(model.WarnObtainedExceedsMax)
	}
	if p := row.Percentage; p != nil && (*p < 0 || *p > 100) {
		warns.add(model.WarnPercentageOutOfRange)
	}
}

func negative(v *float64) bool {
	return v != nil && *v < 0
}

// warningSet keeps warnings unique in first-seen order.
type warningSet struct {
	codes []string
}

func (w *warningSet) add(code string) {
	for _, c := range w.codes {
		if c == code {
			return
		}
	}
	w.codes = append(w.codes, code)
}

func (w *warningSet) list() []string {
	return w.codes
}
