package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supervision-cli/internal/db"
	"github.com/sells-group/supervision-cli/internal/model"
)

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 4711203

// PostgresStore implements Repository using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	tables  Tables
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, tables Tables) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, tables: tables.withDefaults(), closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool, tables Tables) *PostgresStore {
	return &PostgresStore{pool: pool, tables: tables.withDefaults()}
}

// Tables returns the configured table names.
func (s *PostgresStore) Tables() Tables {
	return s.tables
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// pgMigration is one schema step. Steps are applied in order and recorded
// by name.
type pgMigration struct {
	name string
	sql  func(t Tables) string
}

var pgMigrations = []pgMigration{
	{name: "001_raw", sql: func(t Tables) string {
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id                BIGSERIAL PRIMARY KEY,
	submission_id     TEXT NOT NULL,
	location_name     TEXT NOT NULL DEFAULT '',
	area_evaluacion   TEXT,
	puntos_maximos    DOUBLE PRECISION,
	puntos_obtenidos  DOUBLE PRECISION,
	porcentaje        DOUBLE PRECISION,
	fecha_supervision TIMESTAMPTZ,
	grupo_operativo   TEXT,
	estado            TEXT
);
CREATE INDEX IF NOT EXISTS %s ON %s (submission_id);`,
			sanitize(t.Raw), indexName(t.Raw, "submission"), sanitize(t.Raw))
	}},
	{name: "002_registry", sql: func(t Tables) string {
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	numero_sucursal INTEGER PRIMARY KEY,
	nombre_sucursal TEXT NOT NULL,
	grupo_operativo TEXT NOT NULL DEFAULT '',
	ciudad          TEXT NOT NULL DEFAULT '',
	estado          TEXT NOT NULL DEFAULT '',
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION
);`, sanitize(t.Registry))
	}},
	{name: "003_normalized", sql: func(t Tables) string {
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	submission_id         TEXT PRIMARY KEY,
	build_id              TEXT NOT NULL,
	fingerprint           TEXT NOT NULL,
	raw_branch_name       TEXT NOT NULL,
	branch_code           INTEGER,
	canonical_name        TEXT,
	operating_group       TEXT,
	state                 TEXT,
	mapping_status        TEXT NOT NULL,
	match_strategy        TEXT NOT NULL,
	territorial_class     TEXT NOT NULL,
	period_name           TEXT NOT NULL,
	period_start          DATE,
	period_end            DATE,
	supervised_at         TIMESTAMPTZ,
	overall_score         DOUBLE PRECISION,
	score_source          TEXT NOT NULL,
	authoritative_score   DOUBLE PRECISION,
	averaged_score        DOUBLE PRECISION,
	area_scores           JSONB NOT NULL DEFAULT '[]',
	data_quality_warnings JSONB NOT NULL DEFAULT '[]',
	geom_ewkb             BYTEA,
	built_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %s ON %s (build_id);
CREATE INDEX IF NOT EXISTS %s ON %s (operating_group, period_name);`,
			sanitize(t.Normalized),
			indexName(t.Normalized, "build"), sanitize(t.Normalized),
			indexName(t.Normalized, "group_period"), sanitize(t.Normalized))
	}},
}

// Migrate applies pending schema steps under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration advisory lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS supervision_schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, m := range pgMigrations {
		if applied[m.name] {
			continue
		}
		log.Info("applying migration", zap.String("name", m.name))

		if _, err := s.pool.Exec(ctx, m.sql(s.tables)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", m.name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO supervision_schema_migrations (name, applied_at) VALUES ($1, now())",
			m.name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", m.name)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT name FROM supervision_schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

// Snapshot reads raw rows and the registry inside one REPEATABLE READ,
// READ ONLY transaction.
func (s *PostgresStore) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin snapshot")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	raw, err := s.readRaw(ctx, tx)
	if err != nil {
		return nil, err
	}
	branches, err := s.readRegistry(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit snapshot")
	}

	reg, err := model.NewRegistry(branches)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: registry")
	}
	return &model.Snapshot{Rows: raw, Registry: reg, ReadAt: time.Now().UTC()}, nil
}

func (s *PostgresStore) readRaw(ctx context.Context, tx pgx.Tx) ([]model.RawInspectionRow, error) {
	q := fmt.Sprintf(`SELECT submission_id, location_name, COALESCE(area_evaluacion, ''),
	puntos_maximos, puntos_obtenidos, porcentaje, fecha_supervision,
	COALESCE(grupo_operativo, ''), COALESCE(estado, '')
FROM %s ORDER BY submission_id, id`, sanitize(s.tables.Raw))

	rows, err := tx.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", s.tables.Raw)
	}
	defer rows.Close()

	var out []model.RawInspectionRow
	for rows.Next() {
		var (
			r  model.RawInspectionRow
			at *time.Time
		)
		if err := rows.Scan(
			&r.SubmissionID, &r.RawBranchName, &r.AreaName,
			&r.PointsPossible, &r.PointsObtained, &r.Percentage, &at,
			&r.ReportedGroup, &r.ReportedState,
		); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", s.tables.Raw)
		}
		if at != nil {
			r.SupervisedAt = at.UTC()
		}
		out = append(out, r.Sanitize())
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", s.tables.Raw)
}

func (s *PostgresStore) readRegistry(ctx context.Context, tx pgx.Tx) ([]model.CanonicalBranch, error) {
	q := fmt.Sprintf(`SELECT numero_sucursal, nombre_sucursal, COALESCE(grupo_operativo, ''),
	COALESCE(ciudad, ''), COALESCE(estado, ''), latitude, longitude
FROM %s ORDER BY numero_sucursal`, sanitize(s.tables.Registry))

	rows, err := tx.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", s.tables.Registry)
	}
	defer rows.Close()

	var out []model.CanonicalBranch
	for rows.Next() {
		var (
			code                     int
			name, group, city, state string
			lat, lng                 *float64
		)
		if err := rows.Scan(&code, &name, &group, &city, &state, &lat, &lng); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", s.tables.Registry)
		}
		out = append(out, registryFromRow(code, name, group, city, state, lat, lng))
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", s.tables.Registry)
}

// ImportRaw copies rows into the raw table. With replace the table is
// emptied first in the same transaction.
func (s *PostgresStore) ImportRaw(ctx context.Context, rows []model.RawInspectionRow, replace bool) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin import")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if replace {
		if _, err := tx.Exec(ctx, "DELETE FROM "+sanitize(s.tables.Raw)); err != nil {
			return 0, eris.Wrapf(err, "postgres: clear %s", s.tables.Raw)
		}
	}

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = rawValues(r)
	}
	n, err := db.CopyFrom(ctx, tx, s.tables.Raw, rawColumns, values)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit import")
	}
	return n, nil
}

// ImportRegistry upserts branches by numero_sucursal.
func (s *PostgresStore) ImportRegistry(ctx context.Context, branches []model.CanonicalBranch) (int64, error) {
	values := make([][]any, len(branches))
	for i, b := range branches {
		values[i] = registryValues(b)
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        s.tables.Registry,
		Columns:      registryColumns,
		ConflictKeys: []string{"numero_sucursal"},
	}, values)
}

// Materialize upserts the records under a fresh build id and deletes rows
// from earlier builds in the same transaction.
func (s *PostgresStore) Materialize(ctx context.Context, m Materialization) (*MaterializeResult, error) {
	buildID := uuid.New().String()
	if m.BuiltAt.IsZero() {
		m.BuiltAt = time.Now()
	}

	values := make([][]any, 0, len(m.Records))
	for _, rec := range m.Records {
		v, err := normalizedValues(rec, buildID, m)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin materialize")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	written, err := db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
		Table:        s.tables.Normalized,
		Columns:      normalizedColumns,
		ConflictKeys: []string{"submission_id"},
	}, values)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, "DELETE FROM "+sanitize(s.tables.Normalized)+" WHERE build_id <> $1", buildID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: delete previous builds")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit materialize")
	}

	zap.L().Info("materialized normalized view",
		zap.String("component", "store"),
		zap.String("build_id", buildID),
		zap.Int64("written", written),
		zap.Int64("removed", tag.RowsAffected()),
	)
	return &MaterializeResult{BuildID: buildID, Written: written, Removed: tag.RowsAffected()}, nil
}

func sanitize(table string) string {
	return db.Identifier(table).Sanitize()
}

// indexName derives a per-table index identifier.
func indexName(table, suffix string) string {
	return pgx.Identifier{"idx_" + strings.ReplaceAll(table, ".", "_") + "_" + suffix}.Sanitize()
}
