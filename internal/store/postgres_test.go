package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/supervision-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock, Tables{}), mock
}

func ptr(v float64) *float64 { return &v }

func TestPostgresStore_DefaultTables(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	assert.Equal(t, Tables{Raw: "supervision_raw", Registry: "sucursales", Normalized: "supervision_normalized"}, s.Tables())
}

func TestPostgresStore_Snapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 2, 10, 16, 30, 0, 0, time.UTC)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`FROM "supervision_raw" ORDER BY submission_id, id`).
		WillReturnRows(mock.NewRows([]string{
			"submission_id", "location_name", "area_evaluacion",
			"puntos_maximos", "puntos_obtenidos", "porcentaje", "fecha_supervision",
			"grupo_operativo", "estado",
		}).
			AddRow("s1", "Sucursal GC - Garcia", "", nil, nil, ptr(85.34), &at, "TEPEYAC", "Nuevo León").
			AddRow("s1", "Sucursal GC - Garcia", "LIMPIEZA", ptr(10.0), ptr(9.0), ptr(90.0), &at, "", "").
			AddRow("s2", "Unknown Branch XYZ", "", nil, nil, nil, nil, "", ""))
	mock.ExpectQuery(`FROM "sucursales" ORDER BY numero_sucursal`).
		WillReturnRows(mock.NewRows([]string{
			"numero_sucursal", "nombre_sucursal", "grupo_operativo", "ciudad", "estado", "latitude", "longitude",
		}).
			AddRow(6, "García", "TEPEYAC", "García", "Nuevo León", ptr(25.81), ptr(-100.59)).
			AddRow(80, "Reynosa", "GRUPO RIO BRAVO", "Reynosa", "Tamaulipas", nil, nil))
	mock.ExpectCommit()

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Rows, 3)

	assert.Equal(t, 85.34, *snap.Rows[0].Percentage)
	assert.True(t, snap.Rows[0].IsAggregate())
	assert.Equal(t, at, snap.Rows[1].SupervisedAt)
	assert.Equal(t, "LIMPIEZA", snap.Rows[1].AreaName)
	assert.Nil(t, snap.Rows[2].Percentage)
	assert.True(t, snap.Rows[2].SupervisedAt.IsZero())

	require.Equal(t, 2, snap.Registry.Len())
	garcia, ok := snap.Registry.ByCode(6)
	require.True(t, ok)
	require.NotNil(t, garcia.Coordinates)
	assert.Equal(t, -100.59, garcia.Coordinates.Lng)
	reynosa, _ := snap.Registry.ByCode(80)
	assert.Nil(t, reynosa.Coordinates)
	assert.False(t, snap.ReadAt.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Snapshot_DropsNonFiniteValues(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 2, 10, 16, 30, 0, 0, time.UTC)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`FROM "supervision_raw"`).
		WillReturnRows(mock.NewRows([]string{
			"submission_id", "location_name", "area_evaluacion",
			"puntos_maximos", "puntos_obtenidos", "porcentaje", "fecha_supervision",
			"grupo_operativo", "estado",
		}).
			AddRow("s1", "Sucursal GC - Garcia", "COCINA", nil, nil, ptr(math.NaN()), &at, "", "").
			AddRow("s1", "Sucursal GC - Garcia", "", nil, nil, ptr(math.Inf(1)), &at, "", "").
			AddRow("s1", "Sucursal GC - Garcia", "SERVICIO", ptr(10.0), ptr(8.0), ptr(80.0), &at, "", ""))
	mock.ExpectQuery(`FROM "sucursales"`).
		WillReturnRows(mock.NewRows([]string{
			"numero_sucursal", "nombre_sucursal", "grupo_operativo", "ciudad", "estado", "latitude", "longitude",
		}))
	mock.ExpectCommit()

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Rows, 3)

	assert.Nil(t, snap.Rows[0].Percentage)
	assert.Equal(t, []string{model.WarnNonFiniteValue}, snap.Rows[0].Warnings)
	assert.Nil(t, snap.Rows[1].Percentage)
	assert.Equal(t, []string{model.WarnNonFiniteValue}, snap.Rows[1].Warnings)
	assert.Equal(t, 80.0, *snap.Rows[2].Percentage)
	assert.Empty(t, snap.Rows[2].Warnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Snapshot_QueryErrorRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`FROM "supervision_raw"`).WillReturnError(errors.New(`relation "supervision_raw" does not exist`))
	mock.ExpectRollback()

	_, err := s.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: query supervision_raw")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Snapshot_DuplicateRegistryCode(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cols := []string{"numero_sucursal", "nombre_sucursal", "grupo_operativo", "ciudad", "estado", "latitude", "longitude"}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`FROM "supervision_raw"`).WillReturnRows(mock.NewRows([]string{
		"submission_id", "location_name", "area_evaluacion",
		"puntos_maximos", "puntos_obtenidos", "porcentaje", "fecha_supervision",
		"grupo_operativo", "estado",
	}))
	mock.ExpectQuery(`FROM "sucursales"`).WillReturnRows(mock.NewRows(cols).
		AddRow(6, "García", "TEPEYAC", "", "Nuevo León", nil, nil).
		AddRow(6, "García 2", "TEPEYAC", "", "Nuevo León", nil, nil))
	mock.ExpectCommit()

	_, err := s.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate branch code 6")
}

func TestPostgresStore_ImportRaw_Replace(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "supervision_raw"`).WillReturnResult(pgxmock.NewResult("DELETE", 10))
	mock.ExpectCopyFrom(pgx.Identifier{"supervision_raw"}, rawColumns).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := s.ImportRaw(context.Background(), []model.RawInspectionRow{
		{SubmissionID: "s2", RawBranchName: "31 - Gómez Morín", AreaName: "COCINA", Percentage: ptr(80), SupervisedAt: at},
		{SubmissionID: "s2", RawBranchName: "31 - Gómez Morín", AreaName: "SERVICIO", Percentage: ptr(88.76), SupervisedAt: at},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportRaw_Append(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"supervision_raw"}, rawColumns).WillReturnResult(1)
	mock.ExpectCommit()

	n, err := s.ImportRaw(context.Background(), []model.RawInspectionRow{{SubmissionID: "s9", RawBranchName: "x"}}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportRegistry(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_sucursales"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_sucursales"}, registryColumns).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("numero_sucursal"\) DO UPDATE`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.ImportRegistry(context.Background(), []model.CanonicalBranch{
		{Code: 6, Name: "García", OperatingGroup: "TEPEYAC", State: "Nuevo León", Coordinates: &model.Coordinates{Lat: 25.81, Lng: -100.59}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Materialize(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_supervision_normalized"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_supervision_normalized"}, normalizedColumns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("submission_id"\) DO UPDATE`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DELETE FROM "supervision_normalized" WHERE build_id <> \$1`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	res, err := s.Materialize(context.Background(), Materialization{
		Records:     testRecords(),
		Fingerprint: "abc123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.BuildID)
	assert.Equal(t, int64(2), res.Written)
	assert.Equal(t, int64(3), res.Removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Materialize_DeleteFailsRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_supervision_normalized"}, normalizedColumns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DELETE FROM`).WithArgs(pgxmock.AnyArg()).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := s.Materialize(context.Background(), Materialization{Records: testRecords(), Fingerprint: "abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete previous builds")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS supervision_schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT name FROM supervision_schema_migrations`).
		WillReturnRows(mock.NewRows([]string{"name"}).AddRow("001_raw"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "sucursales"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO supervision_schema_migrations`).WithArgs("002_registry").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "supervision_normalized"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO supervision_schema_migrations`).WithArgs("003_normalized").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_ApplyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS supervision_schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT name FROM supervision_schema_migrations`).WillReturnRows(mock.NewRows([]string{"name"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "supervision_raw"`).WillReturnError(errors.New("permission denied"))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 001_raw")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SchemaQualifiedTables(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()
	s := NewPostgresWithPool(mock, Tables{Raw: "reporting.supervision_raw"})

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"reporting", "supervision_raw"}, rawColumns).WillReturnResult(1)
	mock.ExpectCommit()

	_, err = s.ImportRaw(context.Background(), []model.RawInspectionRow{{SubmissionID: "s1"}}, false)
	require.NoError(t, err)
	assert.Equal(t, `"idx_reporting_supervision_raw_submission"`, indexName("reporting.supervision_raw", "submission"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}
