package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supervision-cli/internal/geo"
	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/quality"
	"github.com/sells-group/supervision-cli/internal/store"
	"github.com/sells-group/supervision-cli/internal/view"
)

const registryCSV = `numero_sucursal,nombre_sucursal,grupo_operativo,ciudad,estado,latitude,longitude
6,García,TEPEYAC,García,Nuevo León,25.81,-100.59
31,Gómez Morín,OGAS,San Pedro,Nuevo León,25.65,-100.36
80,Reynosa,GRUPO RIO BRAVO,Reynosa,Tamaulipas,,
`

const rawCSV = `submission_id,location_name,area_evaluacion,porcentaje,fecha_supervision
s1,Sucursal GC - Garcia,COCINA,90,2025-02-10 10:00:00
s1,Sucursal GC - Garcia,SERVICIO,86.2,2025-02-10 10:00:00
s1,Sucursal GC - Garcia,,85.34,2025-02-10 10:00:00
s2,31 - Gómez Morín,COCINA,100,2025-05-05 10:00:00
s2,31 - Gómez Morín,SERVICIO,100,2025-05-05 10:00:00
s2,31 - Gómez Morín,LIMPIEZA,75,2025-05-05 10:00:00
s2,31 - Gómez Morín,ALMACEN,62.5,2025-05-05 10:00:00
s3,Unknown Branch XYZ,COCINA,70,2025-03-01 10:00:00
`

// setupCLI points the CLI at a fresh SQLite file in a temp working dir.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	t.Setenv("SUPERVISION_STORE_DRIVER", "sqlite")
	t.Setenv("SUPERVISION_STORE_DATABASE_URL", filepath.Join(dir, "supervision.db"))
	t.Setenv("SUPERVISION_LOG_LEVEL", "error")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sucursales.csv"), []byte(registryCSV), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "export.csv"), []byte(rawCSV), 0644))
	return dir
}

func execute(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "supervision-cli %v", args)
	return out.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestCLI_EndToEnd(t *testing.T) {
	dir := setupCLI(t)

	execute(t, "migrate", "--json")

	issues := decode[[]map[string]any](t, execute(t, "import", "--json",
		"--registry", filepath.Join(dir, "sucursales.csv"),
		"--raw", filepath.Join(dir, "export.csv"),
	))
	assert.Empty(t, issues)

	kpis := decode[view.KPIReport](t, execute(t, "kpis", "--json"))
	assert.Equal(t, 3, kpis.Submissions)
	assert.Equal(t, 2, kpis.Resolved)
	assert.Equal(t, 1, kpis.Unmapped)
	assert.Equal(t, 1, kpis.Authoritative)
	assert.Equal(t, 2, kpis.Averaged)

	det := decode[view.BranchDetail](t, execute(t, "detail", "6", "--json"))
	require.NotNil(t, det.Branch)
	assert.Equal(t, 6, det.Branch.Code)
	assert.Equal(t, model.ClassLocal, det.TerritorialClass)
	require.Len(t, det.Records, 1)
	rec := det.Records[0]
	assert.Equal(t, model.ScoreAuthoritative, rec.ScoreSource)
	require.NotNil(t, rec.OverallScore)
	assert.Equal(t, 85.34, *rec.OverallScore)
	require.NotNil(t, rec.AveragedScore)
	assert.Equal(t, 88.1, *rec.AveragedScore)
	assert.Equal(t, "T1 2025", rec.PeriodName)

	history := decode[[]view.HistoryPoint](t, execute(t, "history", "--branch", "31", "--json"))
	require.Len(t, history, 1)
	assert.Equal(t, "T2 2025", history[0].Period)
	require.NotNil(t, history[0].AverageScore)
	assert.Equal(t, 84.38, *history[0].AverageScore)

	unmapped := decode[[]view.UnmappedName](t, execute(t, "unmapped", "--json"))
	require.Len(t, unmapped, 1)
	assert.Equal(t, "Unknown Branch XYZ", unmapped[0].RawName)

	points := decode[[]geo.Point](t, execute(t, "map", "--json"))
	assert.Len(t, points, 2)

	shpPath := filepath.Join(dir, "branches.shp")
	assert.Contains(t, string(execute(t, "map", "--json", "--shapefile", shpPath)), "wrote 2 points")
	_, err := os.Stat(filepath.Join(dir, "branches.dbf"))
	assert.NoError(t, err)

	res := decode[store.MaterializeResult](t, execute(t, "materialize", "--json"))
	assert.Equal(t, int64(3), res.Written)
	assert.NotEmpty(t, res.BuildID)

	q := decode[struct {
		Report quality.Report  `json:"report"`
		Alerts []quality.Alert `json:"alerts"`
	}](t, execute(t, "quality", "--json"))
	assert.Equal(t, 3, q.Report.Submissions)
	// below the default minimum of 5 submissions
	assert.Empty(t, q.Alerts)
}

func TestCLI_CalendarAt(t *testing.T) {
	setupCLI(t)

	lookups := decode[[]periodLookup](t, execute(t, "calendar", "--json", "--at", "2025-05-05"))
	require.Len(t, lookups, 2)
	assert.Equal(t, model.ClassLocal, lookups[0].Class)
	assert.Equal(t, "T2 2025", lookups[0].Period)
	assert.Equal(t, model.ClassForanea, lookups[1].Class)
	assert.Equal(t, "S1 2025", lookups[1].Period)
}

func TestImportCommand_RequiresInput(t *testing.T) {
	c := &cobra.Command{}
	c.Flags().StringSlice("raw", nil, "")
	c.Flags().StringSlice("registry", nil, "")

	err := importCmd.RunE(c, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of --raw or --registry")
}
