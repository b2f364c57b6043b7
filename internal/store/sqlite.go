package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/supervision-cli/internal/model"
)

// SQLiteStore implements Repository using modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	tables Tables
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, tables Tables) (*SQLiteStore, error) {
	tables = tables.withDefaults()
	for _, name := range []string{tables.Raw, tables.Registry, tables.Normalized} {
		if strings.Contains(name, ".") {
			return nil, eris.Errorf("sqlite: schema-qualified table %q not supported", name)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, tables: tables}, nil
}

func (s *SQLiteStore) migration() string {
	t := s.tables
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]q (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id     TEXT NOT NULL,
	location_name     TEXT NOT NULL DEFAULT '',
	area_evaluacion   TEXT,
	puntos_maximos    REAL,
	puntos_obtenidos  REAL,
	porcentaje        REAL,
	fecha_supervision DATETIME,
	grupo_operativo   TEXT,
	estado            TEXT
);
CREATE INDEX IF NOT EXISTS %[4]q ON %[1]q (submission_id);

CREATE TABLE IF NOT EXISTS %[2]q (
	numero_sucursal INTEGER PRIMARY KEY,
	nombre_sucursal TEXT NOT NULL,
	grupo_operativo TEXT NOT NULL DEFAULT '',
	ciudad          TEXT NOT NULL DEFAULT '',
	estado          TEXT NOT NULL DEFAULT '',
	latitude        REAL,
	longitude       REAL
);

CREATE TABLE IF NOT EXISTS %[3]q (
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
	period_start          DATETIME,
	period_end            DATETIME,
	supervised_at         DATETIME,
	overall_score         REAL,
	score_source          TEXT NOT NULL,
	authoritative_score   REAL,
	averaged_score        REAL,
	area_scores           TEXT NOT NULL DEFAULT '[]',
	data_quality_warnings TEXT NOT NULL DEFAULT '[]',
	geom_ewkb             BLOB,
	built_at              DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS %[5]q ON %[3]q (build_id);
`, t.Raw, t.Registry, t.Normalized, "idx_"+t.Raw+"_submission", "idx_"+t.Normalized+"_build")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.migration())
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// snapshotTxOptions opens the read-only transaction Snapshot reads through.
var snapshotTxOptions = &sql.TxOptions{ReadOnly: true}

// Snapshot reads raw rows and the registry inside one read-only
// transaction. SQLite pins the read snapshot at the first SELECT.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, snapshotTxOptions)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin snapshot")
	}
	defer tx.Rollback() //nolint:errcheck

	raw, err := s.readRaw(ctx, tx)
	if err != nil {
		return nil, err
	}
	branches, err := s.readRegistry(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit snapshot")
	}

	reg, err := model.NewRegistry(branches)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: registry")
	}
	return &model.Snapshot{Rows: raw, Registry: reg, ReadAt: time.Now().UTC()}, nil
}

func (s *SQLiteStore) readRaw(ctx context.Context, tx *sql.Tx) ([]model.RawInspectionRow, error) {
	q := fmt.Sprintf(`SELECT submission_id, location_name, COALESCE(area_evaluacion, ''),
	puntos_maximos, puntos_obtenidos, porcentaje, fecha_supervision,
	COALESCE(grupo_operativo, ''), COALESCE(estado, '')
FROM %q ORDER BY submission_id, id`, s.tables.Raw)

	rows, err := tx.QueryContext(ctx, q)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s", s.tables.Raw)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RawInspectionRow
	for rows.Next() {
		var (
			r                 model.RawInspectionRow
			possible, got, pc sql.NullFloat64
			at                sql.NullTime
		)
		if err := rows.Scan(
			&r.SubmissionID, &r.RawBranchName, &r.AreaName,
			&possible, &got, &pc, &at,
			&r.ReportedGroup, &r.ReportedState,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", s.tables.Raw)
		}
		r.PointsPossible = floatPtr(possible)
		r.PointsObtained = floatPtr(got)
		r.Percentage = floatPtr(pc)
		if at.Valid {
			r.SupervisedAt = at.Time.UTC()
		}
		out = append(out, r.Sanitize())
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", s.tables.Raw)
}

func (s *SQLiteStore) readRegistry(ctx context.Context, tx *sql.Tx) ([]model.CanonicalBranch, error) {
	q := fmt.Sprintf(`SELECT numero_sucursal, nombre_sucursal, grupo_operativo, ciudad, estado, latitude, longitude
FROM %q ORDER BY numero_sucursal`, s.tables.Registry)

	rows, err := tx.QueryContext(ctx, q)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s", s.tables.Registry)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CanonicalBranch
	for rows.Next() {
		var (
			code                     int
			name, group, city, state string
			lat, lng                 sql.NullFloat64
		)
		if err := rows.Scan(&code, &name, &group, &city, &state, &lat, &lng); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", s.tables.Registry)
		}
		out = append(out, registryFromRow(code, name, group, city, state, floatPtr(lat), floatPtr(lng)))
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", s.tables.Registry)
}

// ImportRaw inserts rows into the raw table. With replace the table is
// emptied first in the same transaction.
func (s *SQLiteStore) ImportRaw(ctx context.Context, rows []model.RawInspectionRow, replace bool) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %q", s.tables.Raw)); err != nil {
				return eris.Wrapf(err, "sqlite: clear %s", s.tables.Raw)
			}
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL(s.tables.Raw, rawColumns, ""))
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare raw insert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, rawValues(r)...); err != nil {
				return eris.Wrapf(err, "sqlite: insert submission %s", r.SubmissionID)
			}
			n++
		}
		return nil
	})
	return n, err
}

// ImportRegistry upserts branches by numero_sucursal.
func (s *SQLiteStore) ImportRegistry(ctx context.Context, branches []model.CanonicalBranch) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertSQL(s.tables.Registry, registryColumns, "numero_sucursal"))
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare registry upsert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, b := range branches {
			if _, err := stmt.ExecContext(ctx, registryValues(b)...); err != nil {
				return eris.Wrapf(err, "sqlite: upsert branch %d", b.Code)
			}
			n++
		}
		return nil
	})
	return n, err
}

// Materialize upserts the records under a fresh build id and deletes rows
// from earlier builds in the same transaction.
func (s *SQLiteStore) Materialize(ctx context.Context, m Materialization) (*MaterializeResult, error) {
	res := &MaterializeResult{BuildID: uuid.New().String()}
	if m.BuiltAt.IsZero() {
		m.BuiltAt = time.Now()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertSQL(s.tables.Normalized, normalizedColumns, "submission_id"))
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare normalized upsert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, rec := range m.Records {
			v, err := normalizedValues(rec, res.BuildID, m)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, v...); err != nil {
				return eris.Wrapf(err, "sqlite: upsert record %s", rec.SubmissionID)
			}
			res.Written++
		}

		del, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %q WHERE build_id <> ?", s.tables.Normalized), res.BuildID)
		if err != nil {
			return eris.Wrap(err, "sqlite: delete previous builds")
		}
		res.Removed, err = del.RowsAffected()
		return eris.Wrap(err, "sqlite: rows affected")
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("materialized normalized view",
		zap.String("component", "store"),
		zap.String("build_id", res.BuildID),
		zap.Int64("written", res.Written),
		zap.Int64("removed", res.Removed),
	)
	return res, nil
}

// NormalizedCount returns the number of materialized rows for buildID, or
// for all builds when buildID is empty.
func (s *SQLiteStore) NormalizedCount(ctx context.Context, buildID string) (int, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %q", s.tables.Normalized)
	var args []any
	if buildID != "" {
		q += " WHERE build_id = ?"
		args = append(args, buildID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count normalized")
	}
	return n, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// insertSQL builds an INSERT statement. A non-empty conflictKey turns it
// into an upsert that overwrites every other column.
func insertSQL(table string, columns []string, conflictKey string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	var sets []string
	for i, c := range columns {
		quoted[i] = fmt.Sprintf("%q", c)
		marks[i] = "?"
		if conflictKey != "" && c != conflictKey {
			sets = append(sets, fmt.Sprintf("%q = excluded.%q", c, c))
		}
	}
	q := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if conflictKey != "" {
		q += fmt.Sprintf(" ON CONFLICT (%q) DO UPDATE SET %s", conflictKey, strings.Join(sets, ", "))
	}
	return q
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
