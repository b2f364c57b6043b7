package importer

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/supervision-cli/internal/textnorm"
)

// Issue describes a cell or row that could not be read as typed data. Line
// is 1-based and counts the header.
type Issue struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

// Issue reasons.
const (
	ReasonBadNumber     = "malformed_number"
	ReasonBadDate       = "malformed_date"
	ReasonBadCode       = "malformed_branch_code"
	ReasonMissingID     = "missing_submission_id"
	ReasonMissingName   = "missing_branch_name"
	ReasonPartialCoords = "partial_coordinates"
)

// header maps canonical column names to positions.
type header map[string]int

// newHeader matches header cells against columns (and their aliases) by
// normalized key. Unknown headers are ignored.
func newHeader(cells []string, aliases map[string][]string) header {
	byKey := make(map[string]string)
	for col, names := range aliases {
		byKey[columnKey(col)] = col
		for _, n := range names {
			byKey[columnKey(n)] = col
		}
	}
	h := make(header)
	for i, c := range cells {
		if col, ok := byKey[columnKey(c)]; ok {
			if _, dup := h[col]; !dup {
				h[col] = i
			}
		}
	}
	return h
}

func columnKey(s string) string {
	return strings.ReplaceAll(textnorm.LooseKey(s), " ", "")
}

// missing returns the required columns absent from h.
func (h header) missing(required []string) []string {
	var out []string
	for _, c := range required {
		if _, ok := h[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// get returns the trimmed cell for col, or "" when the column or cell is absent.
func (h header) get(record []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blank(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parseNumber reads a decimal that may use a comma separator or carry a
// trailing percent sign. ok is false for malformed or non-finite input; an
// empty cell yields (nil, true).
func parseNumber(s string) (*float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return nil, true
	}
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ",", "") // thousands separator
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return &v, true
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	// xlsx built-in date formats 22 and 14
	"1/2/06 15:04",
	"01-02-06",
}

// parseDate reads a supervision timestamp. Layouts without a zone are read
// in loc. An empty cell yields (zero, true).
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, true
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
