package model

import (
	"sort"

	"github.com/rotisserie/eris"
)

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CanonicalBranch is a validated branch record from the reference registry.
type CanonicalBranch struct {
	Code           int          `json:"branch_code"`
	Name           string       `json:"canonical_name"`
	OperatingGroup string       `json:"operating_group"`
	State          string       `json:"state"`
	Municipality   string       `json:"municipality"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
}

// Registry is an immutable, code-indexed set of canonical branches.
type Registry struct {
	branches []CanonicalBranch
	byCode   map[int]int
}

// NewRegistry validates branches and builds a Registry. Codes must be
// positive and unique. Branches are kept sorted by code.
func NewRegistry(branches []CanonicalBranch) (*Registry, error) {
	sorted := make([]CanonicalBranch, len(branches))
	copy(sorted, branches)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	byCode := make(map[int]int, len(sorted))
	for i, b := range sorted {
		if b.Code <= 0 {
			return nil, eris.Errorf("model: branch %q has non-positive code %d", b.Name, b.Code)
		}
		if _, dup := byCode[b.Code]; dup {
			return nil, eris.Errorf("model: duplicate branch code %d", b.Code)
		}
		byCode[b.Code] = i
	}
	return &Registry{branches: sorted, byCode: byCode}, nil
}

// ByCode returns the branch with the given code.
func (r *Registry) ByCode(code int) (CanonicalBranch, bool) {
	if r == nil {
		return CanonicalBranch{}, false
	}
	i, ok := r.byCode[code]
	if !ok {
		return CanonicalBranch{}, false
	}
	return r.branches[i], true
}

// All returns a copy of the branches sorted by code.
func (r *Registry) All() []CanonicalBranch {
	if r == nil {
		return nil
	}
	out := make([]CanonicalBranch, len(r.branches))
	copy(out, r.branches)
	return out
}

// Len returns the number of branches.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.branches)
}
