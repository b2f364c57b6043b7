package score

import (
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supervision-cli/internal/model"
)

func ptr(v float64) *float64 { return &v }

func area(name string, pct float64) model.RawInspectionRow {
	return model.RawInspectionRow{SubmissionID: "s1", AreaName: name, Percentage: ptr(pct)}
}

func aggregate(pct float64) model.RawInspectionRow {
	return model.RawInspectionRow{SubmissionID: "s1", Percentage: ptr(pct)}
}

func TestReconcile_AveragingFallback(t *testing.T) {
	r := NewReconciler(Options{})
	res := r.Reconcile([]model.RawInspectionRow{
		area("COCINA", 100),
		area("SERVICIO", 100),
		area("LIMPIEZA", 75),
		area("ALMACEN", 62.5),
	})

	require.NotNil(t, res.OverallScore)
	assert.Equal(t, 84.38, *res.OverallScore)
	assert.Equal(t, model.ScoreAveraged, res.Source)
	assert.Nil(t, res.Authoritative)
	require.NotNil(t, res.Averaged)
	assert.Equal(t, 84.38, *res.Averaged)
	assert.Len(t, res.AreaScores, 4)
	assert.Empty(t, res.Warnings)
}

func TestReconcile_AuthoritativeBeatsAverage(t *testing.T) {
	// Regression: the dashboard once showed the 88.1 area average instead
	// of the 85.34 total carried by the aggregate row.
	r := NewReconciler(Options{})
	res := r.Reconcile([]model.RawInspectionRow{
		area("COCINA", 90),
		area("SERVICIO", 86.2),
		aggregate(85.34),
	})

	require.NotNil(t, res.OverallScore)
	assert.Equal(t, 85.34, *res.OverallScore)
	assert.Equal(t, model.ScoreAuthoritative, res.Source)
	require.NotNil(t, res.Averaged)
	assert.Equal(t, 88.1, *res.Averaged)
	require.NotNil(t, res.Authoritative)
	assert.Equal(t, 85.34, *res.Authoritative)
}

func TestReconcile_AuthoritativeAlone(t *testing.T) {
	res := NewReconciler(Options{}).Reconcile([]model.RawInspectionRow{aggregate(91.7)})
	require.NotNil(t, res.OverallScore)
	assert.Equal(t, 91.7, *res.OverallScore)
	assert.Equal(t, model.ScoreAuthoritative, res.Source)
	assert.Nil(t, res.Averaged)
	assert.Empty(t, res.AreaScores)
}

func TestReconcile_InsufficientData(t *testing.T) {
	tests := []struct {
		name string
		rows []model.RawInspectionRow
	}{
		{"no rows", nil},
		{"blank area without percentage", []model.RawInspectionRow{{SubmissionID: "s1", AreaName: "  "}}},
		{"areas without percentage", []model.RawInspectionRow{{SubmissionID: "s1", AreaName: "COCINA"}}},
		{"only max-points marker", []model.RawInspectionRow{area("Puntos Máximos", 100)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewReconciler(Options{}).Reconcile(tt.rows)
			assert.Nil(t, res.OverallScore)
			assert.Nil(t, res.Averaged)
			assert.Equal(t, model.ScoreInsufficientData, res.Source)
		})
	}
}

func TestReconcile_MaxPointsMarkerExcluded(t *testing.T) {
	res := NewReconciler(Options{}).Reconcile([]model.RawInspectionRow{
		area("COCINA", 80),
		area("puntos maximos", 100),
	})
	require.NotNil(t, res.OverallScore)
	assert.Equal(t, 80.0, *res.OverallScore)
	require.Len(t, res.AreaScores, 1)
	assert.Equal(t, "COCINA", res.AreaScores[0].Area)
}

func TestReconcile_CustomMarkers(t *testing.T) {
	r := NewReconciler(Options{MaxPointsMarkers: []string{"TOTAL"}})
	res := r.Reconcile([]model.RawInspectionRow{
		area("COCINA", 80),
		area("PUNTOS MAXIMOS", 100),
		area("Total", 0),
	})
	require.NotNil(t, res.OverallScore)
	assert.Equal(t, 90.0, *res.OverallScore)
	assert.Len(t, res.AreaScores, 2)
}

func TestReconcile_AreaOrderPreserved(t *testing.T) {
	res := NewReconciler(Options{}).Reconcile([]model.RawInspectionRow{
		area("SERVICIO", 70),
		aggregate(75),
		area("COCINA", 80),
	})
	require.Len(t, res.AreaScores, 2)
	assert.Equal(t, "SERVICIO", res.AreaScores[0].Area)
	assert.Equal(t, "COCINA", res.AreaScores[1].Area)
}

func TestReconcile_Warnings(t *testing.T) {
	tests := []struct {
		name string
		rows []model.RawInspectionRow
		want string
	}{
		{
			name: "negative points",
			rows: []model.RawInspectionRow{{AreaName: "A", PointsPossible: ptr(10), PointsObtained: ptr(-1), Percentage: ptr(0)}},
			want: model.WarnNegativePoints,
		},
		{
			name: "obtained exceeds max",
			rows: []model.RawInspectionRow{{AreaName: "A", PointsPossible: ptr(10), PointsObtained: ptr(12), Percentage: ptr(100)}},
			want: model.WarnObtainedExceedsMax,
		},
		{
			name: "percentage above 100",
			rows: []model.RawInspectionRow{area("A", 120)},
			want: model.WarnPercentageOutOfRange,
		},
		{
			name: "negative percentage",
			rows: []model.RawInspectionRow{aggregate(-3)},
			want: model.WarnPercentageOutOfRange,
		},
		{
			name: "conflicting aggregates",
			rows: []model.RawInspectionRow{aggregate(80), aggregate(82)},
			want: model.WarnConflictingAggregate,
		},
		{
			name: "area missing percentage",
			rows: []model.RawInspectionRow{area("A", 90), {AreaName: "B"}},
			want: model.WarnAreaMissingPercentage,
		},
		{
			name: "duplicate area",
			rows: []model.RawInspectionRow{area("Cocina", 90), area("COCINA ", 50)},
			want: model.WarnDuplicateArea,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewReconciler(Options{}).Reconcile(tt.rows)
			assert.Contains(t, res.Warnings, tt.want)
		})
	}
}

func TestReconcile_MalformedValuesPassThrough(t *testing.T) {
	res := NewReconciler(Options{}).Reconcile([]model.RawInspectionRow{area("A", 120), area("B", 80)})
	require.NotNil(t, res.OverallScore)
	assert.Equal(t, 100.0, *res.OverallScore)
	assert.Equal(t, []string{model.WarnPercentageOutOfRange}, res.Warnings)
}

func TestReconcile_FirstAggregateWins(t *testing.T) {
	res := NewReconciler(Options{}).Reconcile([]model.RawInspectionRow{aggregate(80), aggregate(82), aggregate(80)})
	require.NotNil(t, res.OverallScore)
	assert.Equal(t, 80.0, *res.OverallScore)
	assert.Equal(t, []string{model.WarnConflictingAggregate}, res.Warnings)
}

func TestReconcile_IdenticalAggregatesNoWarning(t *testing.T) {
	res := NewReconciler(Options{}).Reconcile([]model.RawInspectionRow{aggregate(80), aggregate(80)})
	assert.Empty(t, res.Warnings)
}

func TestReconcile_DuplicateAreaKeepsFirst(t *testing.T) {
	res := NewReconciler(Options{}).Reconcile([]model.RawInspectionRow{area("Cocina", 90), area("COCINA", 50)})
	require.Len(t, res.AreaScores, 1)
	assert.Equal(t, 90.0, *res.AreaScores[0].Percentage)
	assert.Equal(t, 90.0, *res.OverallScore)
}

func TestReconcile_DoesNotAliasInput(t *testing.T) {
	rows := []model.RawInspectionRow{area("A", 70), aggregate(75)}
	res := NewReconciler(Options{}).Reconcile(rows)
	*rows[0].Percentage = 0
	*rows[1].Percentage = 0
	assert.Equal(t, 70.0, *res.AreaScores[0].Percentage)
	assert.Equal(t, 75.0, *res.OverallScore)
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{84.375, 84.38},
		{88.1, 88.1},
		{1.005, 1.01},
		{1.015, 1.02},
		{-1.005, -1.01},
		{92.345, 92.35},
		{66.666666, 66.67},
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Round2(tt.in), "Round2(%v)", tt.in)
	}
	assert.True(t, math.IsNaN(Round2(math.NaN())))
}

func TestRound2_DecimalHalves(t *testing.T) {
	for i := 0; i < 10000; i++ {
		in, err := strconv.ParseFloat(fmt.Sprintf("%d.%02d5", i/100, i%100), 64)
		require.NoError(t, err)
		want, err := strconv.ParseFloat(fmt.Sprintf("%d.%02d", (i+1)/100, (i+1)%100), 64)
		require.NoError(t, err)
		require.Equal(t, want, Round2(in), "Round2(%v)", in)
	}
}

func TestReconcile_AveragesDecimalHalves(t *testing.T) {
	r := NewReconciler(Options{})
	tests := []struct {
		name  string
		areas []float64
		want  float64
	}{
		{"single 1.005", []float64{1.005}, 1.01},
		{"single 92.345", []float64{92.345}, 92.35},
		{"pair 70.125", []float64{70.125, 70.125}, 70.13},
		{"three 1.005", []float64{1.005, 1.005, 1.005}, 1.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rows []model.RawInspectionRow
			for i, v := range tt.areas {
				rows = append(rows, area(fmt.Sprintf("AREA %d", i), v))
			}
			res := r.Reconcile(rows)
			require.NotNil(t, res.OverallScore)
			assert.Equal(t, tt.want, *res.OverallScore)
		})
	}
}

func TestReconcile_NonFiniteValues(t *testing.T) {
	r := NewReconciler(Options{})
	res := r.Reconcile([]model.RawInspectionRow{
		area("COCINA", math.NaN()),
		area("SERVICIO", 80),
		aggregate(math.Inf(1)),
	})

	require.NotNil(t, res.OverallScore)
	assert.Equal(t, 80.0, *res.OverallScore)
	assert.Equal(t, model.ScoreAveraged, res.Source)
	assert.Nil(t, res.Authoritative)
	require.Len(t, res.AreaScores, 2)
	assert.Nil(t, res.AreaScores[0].Percentage)
	assert.Contains(t, res.Warnings, model.WarnNonFiniteValue)
	assert.Contains(t, res.Warnings, model.WarnAreaMissingPercentage)
}

func TestMean(t *testing.T) {
	var m Mean
	assert.Nil(t, m.Rounded())

	m.Add(100)
	m.Add(math.Inf(-1))
	m.Add(75)
	assert.Equal(t, 2, m.Len())
	require.NotNil(t, m.Rounded())
	assert.Equal(t, 87.5, *m.Rounded())
}
