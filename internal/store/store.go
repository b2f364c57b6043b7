// Package store reads the raw inspection table and branch registry as one
// consistent snapshot and persists imported rows and materialized builds.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supervision-cli/internal/geo"
	"github.com/sells-group/supervision-cli/internal/model"
)

// Default table names.
const (
	DefaultRawTable        = "supervision_raw"
	DefaultRegistryTable   = "sucursales"
	DefaultNormalizedTable = "supervision_normalized"
)

// Tables names the tables a store reads and writes. Names may be
// schema-qualified on Postgres.
type Tables struct {
	Raw        string `yaml:"raw_table" mapstructure:"raw_table"`
	Registry   string `yaml:"registry_table" mapstructure:"registry_table"`
	Normalized string `yaml:"normalized_table" mapstructure:"normalized_table"`
}

// withDefaults fills blank names.
func (t Tables) withDefaults() Tables {
	if strings.TrimSpace(t.Raw) == "" {
		t.Raw = DefaultRawTable
	}
	if strings.TrimSpace(t.Registry) == "" {
		t.Registry = DefaultRegistryTable
	}
	if strings.TrimSpace(t.Normalized) == "" {
		t.Normalized = DefaultNormalizedTable
	}
	return t
}

// Materialization is one built dataset to persist.
type Materialization struct {
	Records     []model.NormalizedRecord
	Fingerprint string
	BuiltAt     time.Time
}

// MaterializeResult reports what a materialization wrote.
type MaterializeResult struct {
	BuildID string `json:"build_id"`
	Written int64  `json:"written"`
	Removed int64  `json:"removed"`
}

// Repository is the persistence boundary of the engine. Snapshot satisfies
// view.Source.
type Repository interface {
	// Snapshot reads raw rows and the registry in one consistent read.
	Snapshot(ctx context.Context) (*model.Snapshot, error)

	// ImportRaw appends rows to the raw table, or replaces its contents.
	ImportRaw(ctx context.Context, rows []model.RawInspectionRow, replace bool) (int64, error)
	// ImportRegistry inserts or updates branches by code.
	ImportRegistry(ctx context.Context, branches []model.CanonicalBranch) (int64, error)

	// Materialize writes normalized records under a new build id and removes
	// rows left by earlier builds.
	Materialize(ctx context.Context, m Materialization) (*MaterializeResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var rawColumns = []string{
	"submission_id", "location_name", "area_evaluacion",
	"puntos_maximos", "puntos_obtenidos", "porcentaje",
	"fecha_supervision", "grupo_operativo", "estado",
}

var registryColumns = []string{
	"numero_sucursal", "nombre_sucursal", "grupo_operativo",
	"ciudad", "estado", "latitude", "longitude",
}

var normalizedColumns = []string{
	"submission_id", "build_id", "fingerprint", "raw_branch_name",
	"branch_code", "canonical_name", "operating_group", "state",
	"mapping_status", "match_strategy", "territorial_class",
	"period_name", "period_start", "period_end", "supervised_at",
	"overall_score", "score_source", "authoritative_score", "averaged_score",
	"area_scores", "data_quality_warnings", "geom_ewkb", "built_at",
}

func rawValues(r model.RawInspectionRow) []any {
	return []any{
		r.SubmissionID, r.RawBranchName, nullString(r.AreaName),
		r.PointsPossible, r.PointsObtained, r.Percentage,
		nullTime(r.SupervisedAt), nullString(r.ReportedGroup), nullString(r.ReportedState),
	}
}

func registryValues(b model.CanonicalBranch) []any {
	var lat, lng *float64
	if b.Coordinates != nil {
		lat, lng = &b.Coordinates.Lat, &b.Coordinates.Lng
	}
	return []any{b.Code, b.Name, b.OperatingGroup, b.Municipality, b.State, lat, lng}
}

// normalizedValues flattens rec into normalizedColumns order. JSON columns
// are returned as strings so both drivers accept them.
func normalizedValues(rec model.NormalizedRecord, buildID string, m Materialization) ([]any, error) {
	areas := rec.AreaScores
	if areas == nil {
		areas = []model.AreaScore{}
	}
	areaJSON, err := json.Marshal(areas)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal area scores %s", rec.SubmissionID)
	}
	warnings := rec.DataQualityWarnings
	if warnings == nil {
		warnings = []string{}
	}
	warnJSON, err := json.Marshal(warnings)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal warnings %s", rec.SubmissionID)
	}

	var (
		code                   *int
		name, group, state     *string
		periodStart, periodEnd *time.Time
		geom                   []byte
	)
	if b := rec.Branch; b != nil {
		code, name, group, state = &b.Code, &b.Name, &b.OperatingGroup, &b.State
		geom, err = geo.EncodeEWKB(b.Coordinates)
		if err != nil {
			return nil, err
		}
	}
	if p := rec.Period; p != nil {
		periodStart, periodEnd = &p.Start, &p.End
	}

	return []any{
		rec.SubmissionID, buildID, m.Fingerprint, rec.RawBranchName,
		code, name, group, state,
		string(rec.MappingStatus), string(rec.MatchStrategy), string(rec.TerritorialClass),
		rec.PeriodName, periodStart, periodEnd, nullTime(rec.SupervisedAt),
		rec.OverallScore, string(rec.ScoreSource), rec.AuthoritativeScore, rec.AveragedScore,
		string(areaJSON), string(warnJSON), geom, m.BuiltAt.UTC(),
	}, nil
}

func nullString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// registryFromRow builds a branch from scanned registry columns. A missing
// latitude or longitude leaves Coordinates nil.
func registryFromRow(code int, name, group, city, state string, lat, lng *float64) model.CanonicalBranch {
	b := model.CanonicalBranch{
		Code:           code,
		Name:           name,
		OperatingGroup: group,
		Municipality:   city,
		State:          state,
	}
	if lat != nil && lng != nil {
		b.Coordinates = &model.Coordinates{Lat: *lat, Lng: *lng}
	}
	return b
}
