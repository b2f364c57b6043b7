// Package model defines the typed records shared by the supervision engine:
// raw inspection rows, canonical branches, operating periods and the
// normalized records built from them.
package model

import (
	"math"
	"sort"
	"strings"
	"time"
)

// RawInspectionRow is one row of the raw inspection export. Rows sharing a
// SubmissionID describe a single inspection event.
type RawInspectionRow struct {
	SubmissionID   string    `json:"submission_id"`
	RawBranchName  string    `json:"location_name"`
	AreaName       string    `json:"area_evaluacion"` // blank = aggregate "general" row
	PointsPossible *float64  `json:"puntos_maximos,omitempty"`
	PointsObtained *float64  `json:"puntos_obtenidos,omitempty"`
	Percentage     *float64  `json:"porcentaje,omitempty"`
	SupervisedAt   time.Time `json:"fecha_supervision"`
	ReportedGroup  string    `json:"grupo_operativo,omitempty"`
	ReportedState  string    `json:"estado,omitempty"`

	// Warnings are data-quality codes raised while reading the row.
	Warnings []string `json:"-"`
}

// Sanitize returns r with NaN and infinite numeric cells replaced by nil.
// Each replaced row carries WarnNonFiniteValue once.
func (r RawInspectionRow) Sanitize() RawInspectionRow {
	dropped := false
	for _, v := range []**float64{&r.PointsPossible, &r.PointsObtained, &r.Percentage} {
		if *v != nil && (math.IsNaN(**v) || math.IsInf(**v, 0)) {
			*v = nil
			dropped = true
		}
	}
	if dropped && !r.HasWarning(WarnNonFiniteValue) {
		r.Warnings = append(append([]string(nil), r.Warnings...), WarnNonFiniteValue)
	}
	return r
}

// HasWarning reports whether the row carries code.
func (r RawInspectionRow) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

// IsAggregate reports whether the row carries the submission-level total:
// a blank area name with a non-null percentage.
func (r RawInspectionRow) IsAggregate() bool {
	return strings.TrimSpace(r.AreaName) == "" && r.Percentage != nil
}

// HasArea reports whether the row names an evaluation area.
func (r RawInspectionRow) HasArea() bool {
	return strings.TrimSpace(r.AreaName) != ""
}

// Submission groups the raw rows of one inspection event, in source order.
type Submission struct {
	ID   string             `json:"submission_id"`
	Rows []RawInspectionRow `json:"rows"`
}

// GroupSubmissions partitions rows by SubmissionID. Rows keep their input
// order inside each submission; submissions are returned sorted by ID.
func GroupSubmissions(rows []RawInspectionRow) []Submission {
	index := make(map[string]int)
	var subs []Submission
	for _, r := range rows {
		i, ok := index[r.SubmissionID]
		if !ok {
			i = len(subs)
			index[r.SubmissionID] = i
			subs = append(subs, Submission{ID: r.SubmissionID})
		}
		subs[i].Rows = append(subs[i].Rows, r)
	}
	sortSubmissions(subs)
	return subs
}

func sortSubmissions(subs []Submission) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
}
