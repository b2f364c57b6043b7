// Package view composes resolver, classifier, calendar and reconciler into
// one normalized record per submission and answers the reporting queries
// over the result.
package view

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/supervision-cli/internal/branch"
	"github.com/sells-group/supervision-cli/internal/calendar"
	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/score"
	"github.com/sells-group/supervision-cli/internal/territory"
)

// DefaultWorkers is the submission fan-out used when Config.Workers is unset.
const DefaultWorkers = 8

// Config holds the static inputs of a Builder.
type Config struct {
	Aliases  *branch.AliasTable
	Calendar *calendar.Calendar
	Resolver branch.Options
	Rules    territory.Rules
	Score    score.Options
	Workers  int
}

// Builder turns snapshots into datasets. It holds no per-build state and
// may be shared.
type Builder struct {
	cfg        Config
	classifier *territory.Classifier
	reconciler *score.Reconciler
	settings   []byte
	log        *zap.Logger
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.Calendar == nil {
		return nil, eris.New("view: calendar is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	settings, err := settingsKey(cfg)
	if err != nil {
		return nil, err
	}
	return &Builder{
		cfg:        cfg,
		classifier: territory.NewClassifier(cfg.Rules),
		reconciler: score.NewReconciler(cfg.Score),
		settings:   settings,
		log:        zap.L().With(zap.String("component", "view.builder")),
	}, nil
}

// Calendar returns the operating calendar in use.
func (b *Builder) Calendar() *calendar.Calendar {
	return b.cfg.Calendar
}

// Dataset is the normalized view of one snapshot. Records are sorted by
// SubmissionID and must be treated as read-only.
type Dataset struct {
	Records     []model.NormalizedRecord
	Registry    *model.Registry
	Fingerprint string
	BuiltAt     time.Time

	resolver   *branch.Resolver
	classifier *territory.Classifier
	calendar   *calendar.Calendar
}

// Calendar returns the calendar the dataset was classified with.
func (d *Dataset) Calendar() *calendar.Calendar {
	return d.calendar
}

// Resolver returns the branch resolver bound to the dataset registry.
func (d *Dataset) Resolver() *branch.Resolver {
	return d.resolver
}

// Build normalizes every submission of snap. Submissions are processed in
// parallel; each worker writes only its own slot of the result.
func (b *Builder) Build(ctx context.Context, snap *model.Snapshot) (*Dataset, error) {
	if snap == nil {
		return nil, eris.New("view: nil snapshot")
	}
	return b.build(ctx, snap, b.Fingerprint(snap))
}

func (b *Builder) build(ctx context.Context, snap *model.Snapshot, fp string) (*Dataset, error) {
	start := time.Now()
	resolver := branch.NewResolver(snap.Registry, b.cfg.Aliases, b.cfg.Resolver)
	subs := model.GroupSubmissions(snap.Rows)
	records := make([]model.NormalizedRecord, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i := range subs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = b.normalize(resolver, subs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "view: build")
	}

	ds := &Dataset{
		Records:     records,
		Registry:    snap.Registry,
		Fingerprint: fp,
		BuiltAt:     time.Now().UTC(),
		resolver:    resolver,
		classifier:  b.classifier,
		calendar:    b.cfg.Calendar,
	}

	b.log.Info("dataset built",
		zap.Int("rows", len(snap.Rows)),
		zap.Int("submissions", len(records)),
		zap.Int("branches", snap.Registry.Len()),
		zap.String("fingerprint", shortFingerprint(fp)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return ds, nil
}

// Normalize builds the record of a single submission against reg.
func (b *Builder) Normalize(reg *model.Registry, sub model.Submission) model.NormalizedRecord {
	return b.normalize(branch.NewResolver(reg, b.cfg.Aliases, b.cfg.Resolver), sub)
}

func (b *Builder) normalize(resolver *branch.Resolver, sub model.Submission) model.NormalizedRecord {
	var warns []string

	rawName, names := mostFrequent(sub.Rows, func(r model.RawInspectionRow) string { return r.RawBranchName })
	if names > 1 {
		warns = append(warns, model.WarnInconsistentBranch)
	}
	group, _ := mostFrequent(sub.Rows, func(r model.RawInspectionRow) string { return r.ReportedGroup })
	state, _ := mostFrequent(sub.Rows, func(r model.RawInspectionRow) string { return r.ReportedState })

	at, days := b.supervisedAt(sub.Rows)
	switch {
	case at.IsZero():
		warns = append(warns, model.WarnMissingDate)
	case days > 1:
		warns = append(warns, model.WarnInconsistentDate)
	}

	res := resolver.Resolve(rawName)
	if len(res.Candidates) > 1 {
		warns = append(warns, model.WarnAmbiguousBranch)
	}

	class := b.classifier.Classify(res.Branch)
	rec := model.NormalizedRecord{
		SubmissionID:     sub.ID,
		RawBranchName:    rawName,
		Branch:           res.Branch,
		MappingStatus:    res.Status,
		MatchStrategy:    res.Strategy,
		TerritorialClass: class,
		PeriodName:       model.UnclassifiedPeriod,
		SupervisedAt:     at,
		ReportedGroup:    group,
		ReportedState:    state,
	}
	if p, ok := b.cfg.Calendar.PeriodFor(at, class); ok {
		rec.Period = &p
		rec.PeriodName = p.Name
	}

	sc := b.reconciler.Reconcile(sub.Rows)
	rec.OverallScore = sc.OverallScore
	rec.ScoreSource = sc.Source
	rec.AuthoritativeScore = sc.Authoritative
	rec.AveragedScore = sc.Averaged
	rec.AreaScores = sc.AreaScores

	warns = append(warns, sc.Warnings...)
	if len(warns) > 0 {
		rec.DataQualityWarnings = warns
	}
	return rec
}

// supervisedAt returns the earliest non-zero timestamp of rows and the
// number of distinct business days they span.
func (b *Builder) supervisedAt(rows []model.RawInspectionRow) (time.Time, int) {
	var earliest time.Time
	days := make(map[time.Time]bool)
	for _, r := range rows {
		if r.SupervisedAt.IsZero() {
			continue
		}
		days[b.cfg.Calendar.Day(r.SupervisedAt)] = true
		if earliest.IsZero() || r.SupervisedAt.Before(earliest) {
			earliest = r.SupervisedAt
		}
	}
	return earliest, len(days)
}

// mostFrequent returns the most common non-blank value of field across rows
// (ties go to the lexicographically smallest) and the number of distinct
// non-blank values seen.
func mostFrequent(rows []model.RawInspectionRow, field func(model.RawInspectionRow) string) (string, int) {
	counts := make(map[string]int)
	for _, r := range rows {
		v := strings.TrimSpace(field(r))
		if v == "" {
			continue
		}
		counts[v]++
	}
	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return values[i] < values[j]
	})
	if len(values) == 0 {
		return "", 0
	}
	return values[0], len(values)
}
