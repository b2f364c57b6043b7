package model

import (
	"time"

	"github.com/sells-group/supervision-cli/internal/textnorm"
)

// TerritorialClass selects which operating calendar applies to a branch.
type TerritorialClass string

const (
	ClassLocal   TerritorialClass = "local"
	ClassForanea TerritorialClass = "foranea"
	ClassUnknown TerritorialClass = "" // branch unmapped
)

// Label returns the display name used in reports.
func (c TerritorialClass) Label() string {
	switch c {
	case ClassLocal:
		return "Local"
	case ClassForanea:
		return "Foránea"
	default:
		return "Sin clasificar"
	}
}

// ParseTerritorialClass accepts "local", "foranea" or "foránea" in any case.
func ParseTerritorialClass(s string) (TerritorialClass, bool) {
	switch textnorm.Key(s) {
	case "LOCAL":
		return ClassLocal, true
	case "FORANEA":
		return ClassForanea, true
	}
	return ClassUnknown, false
}

// UnclassifiedPeriod is the period name for timestamps outside every
// calendar range.
const UnclassifiedPeriod = "unclassified"

// OperatingPeriod is a named [Start, End) window of one class calendar.
type OperatingPeriod struct {
	Name  string           `json:"name"`
	Start time.Time        `json:"start_date"`
	End   time.Time        `json:"end_date"`
	Class TerritorialClass `json:"territorial_class"`
}

// Contains reports whether day falls inside [Start, End).
func (p OperatingPeriod) Contains(day time.Time) bool {
	return !day.Before(p.Start) && day.Before(p.End)
}

// MappingStatus records whether a raw branch name resolved.
type MappingStatus string

const (
	MappingResolved MappingStatus = "resolved"
	MappingUnmapped MappingStatus = "unmapped"
)

// MatchStrategy names the resolver strategy that produced a match.
type MatchStrategy string

const (
	MatchAlias         MatchStrategy = "alias"
	MatchNumericPrefix MatchStrategy = "numeric_prefix"
	MatchExactName     MatchStrategy = "exact_name"
	MatchSubstring     MatchStrategy = "substring"
	MatchNone          MatchStrategy = "none"
)

// ScoreSource records where OverallScore came from.
type ScoreSource string

const (
	ScoreAuthoritative    ScoreSource = "authoritative"
	ScoreAveraged         ScoreSource = "averaged"
	ScoreInsufficientData ScoreSource = "insufficient_data"
)

// AreaScore is one evaluation area's percentage within a submission.
type AreaScore struct {
	Area       string   `json:"area"`
	Percentage *float64 `json:"percentage"`
}

// Data-quality warning codes attached to normalized records.
const (
	WarnNegativePoints        = "negative_points"
	WarnObtainedExceedsMax    = "obtained_exceeds_max"
	WarnPercentageOutOfRange  = "percentage_out_of_range"
	WarnNonFiniteValue        = "non_finite_value"
	WarnConflictingAggregate  = "conflicting_aggregate_rows"
	WarnAreaMissingPercentage = "area_missing_percentage"
	WarnDuplicateArea         = "duplicate_area"
	WarnInconsistentBranch    = "inconsistent_branch_name"
	WarnInconsistentDate      = "inconsistent_supervision_date"
	WarnMissingDate           = "missing_supervision_date"
	WarnAmbiguousBranch       = "ambiguous_branch_match"
)

// NormalizedRecord is the canonical view of one submission.
type NormalizedRecord struct {
	SubmissionID        string           `json:"submission_id"`
	RawBranchName       string           `json:"raw_branch_name"`
	Branch              *CanonicalBranch `json:"branch"`
	MappingStatus       MappingStatus    `json:"mapping_status"`
	MatchStrategy       MatchStrategy    `json:"match_strategy"`
	TerritorialClass    TerritorialClass `json:"territorial_class"`
	Period              *OperatingPeriod `json:"period,omitempty"`
	PeriodName          string           `json:"period_name"`
	SupervisedAt        time.Time        `json:"supervised_at"`
	OverallScore        *float64         `json:"overall_score"`
	ScoreSource         ScoreSource      `json:"score_source"`
	AuthoritativeScore  *float64         `json:"authoritative_score"`
	AveragedScore       *float64         `json:"averaged_score"`
	AreaScores          []AreaScore      `json:"area_scores"`
	ReportedGroup       string           `json:"reported_group,omitempty"`
	ReportedState       string           `json:"reported_state,omitempty"`
	DataQualityWarnings []string         `json:"data_quality_warnings,omitempty"`
}

// BranchCode returns the resolved branch code, or 0 when unmapped.
func (r NormalizedRecord) BranchCode() int {
	if r.Branch == nil {
		return 0
	}
	return r.Branch.Code
}

// Group returns the registry operating group, falling back to the group
// reported on the raw rows when the branch is unmapped.
func (r NormalizedRecord) Group() string {
	if r.Branch != nil {
		return r.Branch.OperatingGroup
	}
	return r.ReportedGroup
}

// State returns the registry state, falling back to the reported state.
func (r NormalizedRecord) State() string {
	if r.Branch != nil {
		return r.Branch.State
	}
	return r.ReportedState
}

// Classified reports whether the record landed in a calendar period.
func (r NormalizedRecord) Classified() bool {
	return r.Period != nil
}

// HasWarnings reports whether any data-quality warning was raised.
func (r NormalizedRecord) HasWarnings() bool {
	return len(r.DataQualityWarnings) > 0
}
