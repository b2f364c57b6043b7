package view

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/supervision-cli/internal/geo"
	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/resilience"
)

// DefaultCacheTTL bounds how long an unused dataset stays cached.
const DefaultCacheTTL = 10 * time.Minute

// Source yields consistent snapshots of the raw table and registry.
type Source interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	CacheTTL time.Duration
	Retry    resilience.RetryConfig
}

// Service answers queries over the current snapshot. Datasets are cached
// by fingerprint, so any change to rows, registry or settings forces a
// rebuild on the next call.
type Service struct {
	source  Source
	builder *Builder
	cache   *cache.Cache
	group   singleflight.Group
	retry   resilience.RetryConfig
	log     *zap.Logger
}

// NewService wires a Source to a Builder.
func NewService(src Source, b *Builder, opts ServiceOptions) *Service {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("store", "snapshot")
	}
	return &Service{
		source:  src,
		builder: b,
		cache:   cache.New(ttl, ttl*2),
		retry:   retry,
		log:     zap.L().With(zap.String("component", "view.service")),
	}
}

// Dataset reads a snapshot and returns the dataset for it, building it
// only when no dataset with the same fingerprint is cached. Concurrent
// callers share one build.
func (s *Service) Dataset(ctx context.Context) (*Dataset, error) {
	snap, err := resilience.DoVal(ctx, s.retry, s.source.Snapshot)
	if err != nil {
		return nil, eris.Wrap(err, "view: read snapshot")
	}
	if snap == nil {
		return nil, eris.New("view: source returned nil snapshot")
	}
	fp := s.builder.Fingerprint(snap)

	if cached, found := s.cache.Get(fp); found {
		s.log.Debug("dataset cache hit", zap.String("fingerprint", shortFingerprint(fp)))
		return cached.(*Dataset), nil
	}

	v, err, _ := s.group.Do(fp, func() (interface{}, error) {
		if cached, found := s.cache.Get(fp); found {
			return cached, nil
		}
		ds, err := s.builder.build(ctx, snap, fp)
		if err != nil {
			return nil, err
		}
		s.cache.Set(fp, ds, cache.DefaultExpiration)
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Dataset), nil
}

// Invalidate drops every cached dataset.
func (s *Service) Invalidate() {
	s.cache.Flush()
}

// Cached returns the number of datasets held in the cache.
func (s *Service) Cached() int {
	return s.cache.ItemCount()
}

// KPIs runs Dataset.KPIs on the current snapshot.
func (s *Service) KPIs(ctx context.Context, f Filters) (KPIReport, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return KPIReport{}, err
	}
	return ds.KPIs(f), nil
}

// History runs Dataset.History on the current snapshot.
func (s *Service) History(ctx context.Context, target HistoryTarget, rng PeriodRange, f Filters) ([]HistoryPoint, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return ds.History(target, rng, f)
}

// MapPoints runs Dataset.MapPoints on the current snapshot.
func (s *Service) MapPoints(ctx context.Context, f Filters) ([]geo.Point, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return ds.MapPoints(f), nil
}

// BranchDetail runs Dataset.BranchDetail on the current snapshot.
func (s *Service) BranchDetail(ctx context.Context, identifier string) (BranchDetail, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return BranchDetail{}, err
	}
	return ds.BranchDetail(identifier)
}

// Unmapped runs Dataset.Unmapped on the current snapshot.
func (s *Service) Unmapped(ctx context.Context, f Filters) ([]UnmappedName, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return ds.Unmapped(f), nil
}
