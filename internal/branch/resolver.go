// Package branch resolves raw branch labels from inspection exports to
// canonical branches of the reference registry.
package branch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/textnorm"
)

// DefaultMinSubstringLen is the shortest key that may take part in a
// substring match.
const DefaultMinSubstringLen = 4

var (
	numericPrefixRe = regexp.MustCompile(`^#?0*(\d+)\b`)
	separatorsRe    = regexp.MustCompile(`^[\s\-.,:#)_/]+`)
)

// Resolution is the outcome of resolving one raw label.
type Resolution struct {
	Branch     *model.CanonicalBranch `json:"branch"`
	Status     model.MappingStatus    `json:"mapping_status"`
	Strategy   model.MatchStrategy    `json:"strategy"`
	Candidates []int                  `json:"candidates,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

// Resolved reports whether a branch was found.
func (r Resolution) Resolved() bool {
	return r.Status == model.MappingResolved
}

// Options tunes the resolver.
type Options struct {
	MinSubstringLen int
}

type nameEntry struct {
	code  int
	loose string
}

// Resolver maps raw labels to canonical branches. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	registry     *model.Registry
	aliases      map[string]int
	aliasVersion string
	byName       map[string][]int
	names        []nameEntry
	minSubstr    int
}

// NewResolver indexes the registry and alias table. A nil alias table
// disables the alias strategy.
func NewResolver(reg *model.Registry, aliases *AliasTable, opts Options) *Resolver {
	r := &Resolver{
		registry:  reg,
		aliases:   make(map[string]int),
		byName:    make(map[string][]int),
		minSubstr: opts.MinSubstringLen,
	}
	if r.minSubstr <= 0 {
		r.minSubstr = DefaultMinSubstringLen
	}
	if aliases != nil {
		r.aliasVersion = aliases.Version
		for _, a := range aliases.Aliases {
			r.aliases[textnorm.Key(a.Label)] = a.Code
		}
	}
	for _, b := range reg.All() {
		key := textnorm.Key(b.Name)
		if key == "" {
			continue
		}
		r.byName[key] = append(r.byName[key], b.Code)
		r.names = append(r.names, nameEntry{code: b.Code, loose: textnorm.LooseKey(b.Name)})
	}
	return r
}

// AliasVersion returns the version of the alias table in use.
func (r *Resolver) AliasVersion() string {
	return r.aliasVersion
}

// strategy is one link of the resolution chain. done=false passes control
// to the next link; done=true ends the chain with res.
type strategy struct {
	name  model.MatchStrategy
	match func(r *Resolver, raw string) (res Resolution, done bool)
}

// chain is the ordered resolution cascade:
//  1. Manual alias table
//  2. Numeric prefix matched against branch code
//  3. Exact name (accent and case insensitive)
//  4. Unique bidirectional substring
var chain = []strategy{
	{model.MatchAlias, (*Resolver).matchAlias},
	{model.MatchNumericPrefix, (*Resolver).matchNumericPrefix},
	{model.MatchExactName, (*Resolver).matchExactName},
	{model.MatchSubstring, (*Resolver).matchSubstring},
}

// Resolve runs the strategy chain over raw. It never fails: labels that no
// strategy can place uniquely come back unmapped with a nil Branch.
func (r *Resolver) Resolve(raw string) Resolution {
	if textnorm.Key(raw) == "" {
		return unmapped(model.MatchNone, "empty branch name", nil)
	}
	for _, s := range chain {
		if res, done := s.match(r, raw); done {
			return res
		}
	}
	return unmapped(model.MatchNone, "no strategy matched", nil)
}

// Lookup resolves a user-supplied identifier: a bare branch code ("6"),
// or any label Resolve accepts.
func (r *Resolver) Lookup(identifier string) Resolution {
	id := strings.TrimSpace(identifier)
	if code, err := strconv.Atoi(id); err == nil {
		if b, ok := r.registry.ByCode(code); ok {
			return resolved(b, model.MatchNumericPrefix)
		}
		return unmapped(model.MatchNumericPrefix, "branch code not in registry", nil)
	}
	return r.Resolve(id)
}

func (r *Resolver) matchAlias(raw string) (Resolution, bool) {
	code, ok := r.aliases[textnorm.Key(raw)]
	if !ok {
		return Resolution{}, false
	}
	b, ok := r.registry.ByCode(code)
	if !ok {
		return unmapped(model.MatchAlias, "alias target not in registry", []int{code}), true
	}
	return resolved(b, model.MatchAlias), true
}

func (r *Resolver) matchNumericPrefix(raw string) (Resolution, bool) {
	code, _, ok := splitNumericPrefix(raw)
	if !ok {
		return Resolution{}, false
	}
	b, ok := r.registry.ByCode(code)
	if !ok {
		return Resolution{}, false
	}
	return resolved(b, model.MatchNumericPrefix), true
}

func (r *Resolver) matchExactName(raw string) (Resolution, bool) {
	keys := []string{textnorm.Key(raw)}
	if _, rest, ok := splitNumericPrefix(raw); ok && rest != "" {
		keys = append(keys, textnorm.Key(rest))
	}
	for _, key := range keys {
		codes := r.byName[key]
		switch len(codes) {
		case 0:
			continue
		case 1:
			b, _ := r.registry.ByCode(codes[0])
			return resolved(b, model.MatchExactName), true
		default:
			return unmapped(model.MatchExactName, "name shared by several branches", codes), true
		}
	}
	return Resolution{}, false
}

func (r *Resolver) matchSubstring(raw string) (Resolution, bool) {
	rawKey := textnorm.LooseKey(raw)
	var candidates []int
	for _, n := range r.names {
		if containsEither(rawKey, n.loose, r.minSubstr) {
			candidates = append(candidates, n.code)
		}
	}
	switch len(candidates) {
	case 0:
		return Resolution{}, false
	case 1:
		b, _ := r.registry.ByCode(candidates[0])
		return resolved(b, model.MatchSubstring), true
	default:
		return unmapped(model.MatchSubstring, "ambiguous substring match", candidates), true
	}
}

// containsEither reports whether either key contains the other, ignoring
// the contained side when it is shorter than minLen.
func containsEither(a, b string, minLen int) bool {
	if len(b) >= minLen && strings.Contains(a, b) {
		return true
	}
	return len(a) >= minLen && strings.Contains(b, a)
}

// splitNumericPrefix extracts a leading branch number and the label that
// follows it: "31 - Gómez Morín" -> (31, "Gómez Morín").
func splitNumericPrefix(raw string) (int, string, bool) {
	s := strings.TrimSpace(raw)
	m := numericPrefixRe.FindStringSubmatchIndex(s)
	if m == nil {
		return 0, "", false
	}
	code, err := strconv.Atoi(s[m[2]:m[3]])
	if err != nil || code <= 0 {
		return 0, "", false
	}
	rest := separatorsRe.ReplaceAllString(s[m[1]:], "")
	return code, strings.TrimSpace(rest), true
}

func resolved(b model.CanonicalBranch, s model.MatchStrategy) Resolution {
	return Resolution{Branch: &b, Status: model.MappingResolved, Strategy: s}
}

func unmapped(s model.MatchStrategy, reason string, candidates []int) Resolution {
	return Resolution{
		Status:     model.MappingUnmapped,
		Strategy:   s,
		Candidates: candidates,
		Reason:     reason,
	}
}
