package view

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supervision-cli/internal/geo"
	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/score"
	"github.com/sells-group/supervision-cli/internal/textnorm"
)

// ErrBranchNotFound is returned by BranchDetail when the identifier matches
// neither a registry branch nor any unmapped raw name.
var ErrBranchNotFound = eris.New("view: branch not found")

// scoreStats accumulates an average that ignores null scores.
type scoreStats struct {
	count  int
	scored int
	mean   score.Mean
}

func (s *scoreStats) add(rec model.NormalizedRecord) {
	s.count++
	if rec.OverallScore != nil {
		s.scored++
		s.mean.Add(*rec.OverallScore)
	}
}

func (s scoreStats) average() *float64 {
	return s.mean.Rounded()
}

// PeriodGroupKPI is the average for one operating group in one period.
type PeriodGroupKPI struct {
	Period           string                 `json:"period_name"`
	TerritorialClass model.TerritorialClass `json:"territorial_class"`
	Start            time.Time              `json:"start_date"`
	Group            string                 `json:"operating_group"`
	Submissions      int                    `json:"submissions"`
	Scored           int                    `json:"scored"`
	Branches         int                    `json:"branches"`
	AverageScore     *float64               `json:"average_score"`
}

// KPIReport summarizes the filtered records.
type KPIReport struct {
	Filters          Filters          `json:"filters"`
	Submissions      int              `json:"submissions"`
	Scored           int              `json:"scored"`
	AverageScore     *float64         `json:"average_score"`
	Branches         int              `json:"branches"`
	Resolved         int              `json:"resolved"`
	Unmapped         int              `json:"unmapped"`
	Authoritative    int              `json:"authoritative"`
	Averaged         int              `json:"averaged"`
	InsufficientData int              `json:"insufficient_data"`
	Unclassified     int              `json:"unclassified"`
	WithWarnings     int              `json:"with_warnings"`
	ByPeriodGroup    []PeriodGroupKPI `json:"by_period_group"`
}

// KPIs computes headline counts and per-period-per-group averages. Null
// scores are counted but never averaged. Unclassified records appear in the
// totals and are left out of the per-period breakdown.
func (d *Dataset) KPIs(f Filters) KPIReport {
	rep := KPIReport{Filters: f}

	type key struct {
		period, group string
	}
	type bucket struct {
		kpi      PeriodGroupKPI
		stats    scoreStats
		branches map[int]bool
	}
	buckets := make(map[key]*bucket)
	branches := make(map[int]bool)
	var total scoreStats

	for _, rec := range f.Apply(d.Records) {
		total.add(rec)
		switch rec.MappingStatus {
		case model.MappingResolved:
			rep.Resolved++
			branches[rec.BranchCode()] = true
		default:
			rep.Unmapped++
		}
		switch rec.ScoreSource {
		case model.ScoreAuthoritative:
			rep.Authoritative++
		case model.ScoreAveraged:
			rep.Averaged++
		default:
			rep.InsufficientData++
		}
		if rec.HasWarnings() {
			rep.WithWarnings++
		}
		if !rec.Classified() {
			rep.Unclassified++
			continue
		}

		k := key{period: rec.PeriodName, group: rec.Group()}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{
				kpi: PeriodGroupKPI{
					Period:           rec.PeriodName,
					TerritorialClass: rec.Period.Class,
					Start:            rec.Period.Start,
					Group:            rec.Group(),
				},
				branches: make(map[int]bool),
			}
			buckets[k] = b
		}
		b.stats.add(rec)
		if rec.Branch != nil {
			b.branches[rec.Branch.Code] = true
		}
	}

	rep.Submissions = total.count
	rep.Scored = total.scored
	rep.AverageScore = total.average()
	rep.Branches = len(branches)

	for _, b := range buckets {
		b.kpi.Submissions = b.stats.count
		b.kpi.Scored = b.stats.scored
		b.kpi.AverageScore = b.stats.average()
		b.kpi.Branches = len(b.branches)
		rep.ByPeriodGroup = append(rep.ByPeriodGroup, b.kpi)
	}
	sort.Slice(rep.ByPeriodGroup, func(i, j int) bool {
		a, b := rep.ByPeriodGroup[i], rep.ByPeriodGroup[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		return a.Group < b.Group
	})
	return rep
}

// HistoryTarget selects the series subject: a branch code or an operating
// group. Exactly one must be set.
type HistoryTarget struct {
	BranchCode int    `json:"branch_code,omitempty"`
	Group      string `json:"operating_group,omitempty"`
}

// PeriodRange bounds a history by period names, inclusive on both ends.
// Empty names leave that side open.
type PeriodRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// HistoryPoint is one period of a time series.
type HistoryPoint struct {
	Period           string                 `json:"period_name"`
	TerritorialClass model.TerritorialClass `json:"territorial_class"`
	Start            time.Time              `json:"start_date"`
	End              time.Time              `json:"end_date"`
	Submissions      int                    `json:"submissions"`
	Scored           int                    `json:"scored"`
	AverageScore     *float64               `json:"average_score"`
	Records          []RecordView           `json:"records"`
}

// History returns per-period averages for target, ordered by period start.
// Unclassified records have no period and are not part of the series.
func (d *Dataset) History(target HistoryTarget, rng PeriodRange, f Filters) ([]HistoryPoint, error) {
	if (target.BranchCode == 0) == (target.Group == "") {
		return nil, eris.New("view: history needs exactly one of branch code or group")
	}

	var from, to time.Time
	if rng.From != "" {
		p, ok := d.calendar.ByName(rng.From)
		if !ok {
			return nil, eris.Errorf("view: unknown period %q", rng.From)
		}
		from = p.Start
	}
	if rng.To != "" {
		p, ok := d.calendar.ByName(rng.To)
		if !ok {
			return nil, eris.Errorf("view: unknown period %q", rng.To)
		}
		to = p.Start
	}

	type bucket struct {
		point HistoryPoint
		stats scoreStats
	}
	buckets := make(map[string]*bucket)
	for _, rec := range f.Apply(d.Records) {
		if !rec.Classified() {
			continue
		}
		if target.BranchCode != 0 && rec.BranchCode() != target.BranchCode {
			continue
		}
		if target.Group != "" && !textnorm.Equal(rec.Group(), target.Group) {
			continue
		}
		p := rec.Period
		if !from.IsZero() && p.Start.Before(from) {
			continue
		}
		if !to.IsZero() && p.Start.After(to) {
			continue
		}

		b, ok := buckets[p.Name]
		if !ok {
			b = &bucket{point: HistoryPoint{Period: p.Name, TerritorialClass: p.Class, Start: p.Start, End: p.End}}
			buckets[p.Name] = b
		}
		b.stats.add(rec)
		b.point.Records = append(b.point.Records, NewRecordView(rec))
	}

	points := make([]HistoryPoint, 0, len(buckets))
	for _, b := range buckets {
		b.point.Submissions = b.stats.count
		b.point.Scored = b.stats.scored
		b.point.AverageScore = b.stats.average()
		points = append(points, b.point)
	}
	sort.Slice(points, func(i, j int) bool {
		if !points[i].Start.Equal(points[j].Start) {
			return points[i].Start.Before(points[j].Start)
		}
		return points[i].Period < points[j].Period
	})
	return points, nil
}

// MapPoints returns one marker per resolved branch with valid coordinates,
// carrying its latest and average score over the filtered records.
func (d *Dataset) MapPoints(f Filters) []geo.Point {
	type acc struct {
		point  geo.Point
		stats  scoreStats
		latest *model.NormalizedRecord
	}
	byCode := make(map[int]*acc)

	records := f.Apply(d.Records)
	for i := range records {
		rec := &records[i]
		if rec.Branch == nil || !geo.ValidCoordinates(rec.Branch.Coordinates) {
			continue
		}
		a, ok := byCode[rec.Branch.Code]
		if !ok {
			b := rec.Branch
			a = &acc{point: geo.Point{
				BranchCode:       b.Code,
				Name:             b.Name,
				OperatingGroup:   b.OperatingGroup,
				State:            b.State,
				TerritorialClass: rec.TerritorialClass,
				Lat:              b.Coordinates.Lat,
				Lng:              b.Coordinates.Lng,
			}}
			byCode[b.Code] = a
		}
		a.stats.add(*rec)
		if a.latest == nil || later(*rec, *a.latest) {
			a.latest = rec
		}
	}

	points := make([]geo.Point, 0, len(byCode))
	for _, a := range byCode {
		a.point.Supervisions = a.stats.count
		a.point.AverageScore = a.stats.average()
		a.point.LatestScore = a.latest.OverallScore
		a.point.LatestSource = a.latest.ScoreSource
		a.point.LatestPeriod = a.latest.PeriodName
		a.point.LatestAt = a.latest.SupervisedAt
		points = append(points, a.point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].BranchCode < points[j].BranchCode })
	return points
}

// later orders records by supervision time, then submission id.
func later(a, b model.NormalizedRecord) bool {
	if !a.SupervisedAt.Equal(b.SupervisedAt) {
		return a.SupervisedAt.After(b.SupervisedAt)
	}
	return a.SubmissionID > b.SubmissionID
}

// RecordView is the per-record shape returned to reporting consumers. It
// exposes both score candidates next to the chosen one.
type RecordView struct {
	SubmissionID       string                 `json:"submission_id"`
	RawBranchName      string                 `json:"raw_branch_name"`
	BranchCode         int                    `json:"branch_code,omitempty"`
	BranchName         string                 `json:"canonical_name,omitempty"`
	OperatingGroup     string                 `json:"operating_group,omitempty"`
	State              string                 `json:"state,omitempty"`
	MappingStatus      model.MappingStatus    `json:"mapping_status"`
	TerritorialClass   model.TerritorialClass `json:"territorial_class"`
	PeriodName         string                 `json:"period_name"`
	SupervisedAt       time.Time              `json:"supervised_at"`
	OverallScore       *float64               `json:"overall_score"`
	ScoreSource        model.ScoreSource      `json:"score_source"`
	AuthoritativeScore *float64               `json:"authoritative_score"`
	AveragedScore      *float64               `json:"averaged_score"`
	Warnings           []string               `json:"data_quality_warnings,omitempty"`
}

// NewRecordView flattens rec for output.
func NewRecordView(rec model.NormalizedRecord) RecordView {
	v := RecordView{
		SubmissionID:       rec.SubmissionID,
		RawBranchName:      rec.RawBranchName,
		OperatingGroup:     rec.Group(),
		State:              rec.State(),
		MappingStatus:      rec.MappingStatus,
		TerritorialClass:   rec.TerritorialClass,
		PeriodName:         rec.PeriodName,
		SupervisedAt:       rec.SupervisedAt,
		OverallScore:       rec.OverallScore,
		ScoreSource:        rec.ScoreSource,
		AuthoritativeScore: rec.AuthoritativeScore,
		AveragedScore:      rec.AveragedScore,
		Warnings:           rec.DataQualityWarnings,
	}
	if rec.Branch != nil {
		v.BranchCode = rec.Branch.Code
		v.BranchName = rec.Branch.Name
	}
	return v
}

// BranchDetail is everything known about one branch.
type BranchDetail struct {
	Identifier       string                   `json:"identifier"`
	Branch           *model.CanonicalBranch   `json:"branch"`
	MappingStatus    model.MappingStatus      `json:"mapping_status"`
	MatchStrategy    model.MatchStrategy      `json:"match_strategy"`
	TerritorialClass model.TerritorialClass   `json:"territorial_class"`
	Submissions      int                      `json:"submissions"`
	AverageScore     *float64                 `json:"average_score"`
	Records          []model.NormalizedRecord `json:"records"`
}

// BranchDetail looks identifier up as a branch code, name or alias and
// returns all of its records, newest first. An identifier that does not
// resolve still matches unmapped records carrying the same raw name, so
// they can be reviewed.
func (d *Dataset) BranchDetail(identifier string) (BranchDetail, error) {
	key := textnorm.Key(identifier)
	if key == "" {
		return BranchDetail{}, eris.Wrap(ErrBranchNotFound, "empty identifier")
	}

	res := d.resolver.Lookup(identifier)
	det := BranchDetail{
		Identifier:       identifier,
		Branch:           res.Branch,
		MappingStatus:    res.Status,
		MatchStrategy:    res.Strategy,
		TerritorialClass: d.classifier.Classify(res.Branch),
	}

	var stats scoreStats
	for _, rec := range d.Records {
		switch {
		case res.Branch != nil:
			if rec.BranchCode() != res.Branch.Code {
				continue
			}
		case rec.Branch == nil && textnorm.Key(rec.RawBranchName) == key:
		default:
			continue
		}
		stats.add(rec)
		det.Records = append(det.Records, rec)
	}

	if res.Branch == nil && len(det.Records) == 0 {
		return BranchDetail{}, eris.Wrapf(ErrBranchNotFound, "identifier %q", identifier)
	}

	sort.Slice(det.Records, func(i, j int) bool { return later(det.Records[i], det.Records[j]) })
	det.Submissions = stats.count
	det.AverageScore = stats.average()
	return det, nil
}

// UnmappedName is one distinct raw branch label that did not resolve.
type UnmappedName struct {
	RawName     string    `json:"raw_branch_name"`
	Submissions int       `json:"submissions"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Candidates  []int     `json:"candidates,omitempty"`
	Reason      string    `json:"reason"`
}

// Unmapped lists the raw names needing manual review, most frequent first.
func (d *Dataset) Unmapped(f Filters) []UnmappedName {
	byName := make(map[string]*UnmappedName)
	for _, rec := range f.Apply(d.Records) {
		if rec.MappingStatus != model.MappingUnmapped {
			continue
		}
		u, ok := byName[rec.RawBranchName]
		if !ok {
			res := d.resolver.Resolve(rec.RawBranchName)
			u = &UnmappedName{RawName: rec.RawBranchName, Candidates: res.Candidates, Reason: res.Reason}
			byName[rec.RawBranchName] = u
		}
		u.Submissions++
		if at := rec.SupervisedAt; !at.IsZero() {
			if u.FirstSeen.IsZero() || at.Before(u.FirstSeen) {
				u.FirstSeen = at
			}
			if at.After(u.LastSeen) {
				u.LastSeen = at
			}
		}
	}

	out := make([]UnmappedName, 0, len(byName))
	for _, u := range byName {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submissions != out[j].Submissions {
			return out[i].Submissions > out[j].Submissions
		}
		return out[i].RawName < out[j].RawName
	})
	return out
}
