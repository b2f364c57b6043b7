// Package territory assigns canonical branches to a territorial class,
// which selects the operating calendar used for their supervisions.
package territory

import (
	"github.com/sells-group/supervision-cli/internal/model"
	"github.com/sells-group/supervision-cli/internal/textnorm"
)

// Default base-rule values.
var (
	DefaultLocalStates = []string{"Nuevo León"}
	DefaultLocalGroups = []string{"GRUPO SALTILLO"}
)

// Rules configures the classifier.
type Rules struct {
	LocalStates []string
	LocalGroups []string
	// ForaneaExceptions lists branch codes that are always Foránea, whatever
	// their state or group.
	ForaneaExceptions []int
}

// DefaultRules returns the base rule with no exceptions.
func DefaultRules() Rules {
	return Rules{LocalStates: DefaultLocalStates, LocalGroups: DefaultLocalGroups}
}

// Classifier is immutable and safe for concurrent use.
type Classifier struct {
	localStates map[string]bool
	localGroups map[string]bool
	exceptions  map[int]bool
}

// NewClassifier builds a Classifier from rules.
func NewClassifier(rules Rules) *Classifier {
	c := &Classifier{
		localStates: make(map[string]bool, len(rules.LocalStates)),
		localGroups: make(map[string]bool, len(rules.LocalGroups)),
		exceptions:  make(map[int]bool, len(rules.ForaneaExceptions)),
	}
	for _, s := range rules.LocalStates {
		c.localStates[textnorm.Key(s)] = true
	}
	for _, g := range rules.LocalGroups {
		c.localGroups[textnorm.Key(g)] = true
	}
	for _, code := range rules.ForaneaExceptions {
		c.exceptions[code] = true
	}
	return c
}

// Classify returns the territorial class of b.
// Rules:
//   - unknown: b is nil (branch unmapped)
//   - foranea: b.Code is in the exception list (always wins)
//   - local: state is a local state OR operating group is a local group
//   - foranea: otherwise
func (c *Classifier) Classify(b *model.CanonicalBranch) model.TerritorialClass {
	if b == nil {
		return model.ClassUnknown
	}
	class := model.ClassForanea
	if c.localStates[textnorm.Key(b.State)] || c.localGroups[textnorm.Key(b.OperatingGroup)] {
		class = model.ClassLocal
	}
	if c.exceptions[b.Code] {
		class = model.ClassForanea
	}
	return class
}

// IsException reports whether code is forced to Foránea.
func (c *Classifier) IsException(code int) bool {
	return c.exceptions[code]
}
