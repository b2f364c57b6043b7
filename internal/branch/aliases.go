package branch

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/supervision-cli/internal/textnorm"
)

//go:embed aliases.yaml
var defaultAliasesYAML []byte

// Alias maps a hand-maintained raw label to a branch code.
type Alias struct {
	Label string `yaml:"label"`
	Code  int    `yaml:"code"`
	Note  string `yaml:"note,omitempty"`
}

// AliasTable is a versioned list of aliases.
type AliasTable struct {
	Version string  `yaml:"version"`
	Aliases []Alias `yaml:"aliases"`
}

// DefaultAliases returns the alias table compiled into the binary.
func DefaultAliases() (*AliasTable, error) {
	return ParseAliases(defaultAliasesYAML)
}

// LoadAliases reads an alias table from path. An empty path returns the
// embedded default.
func LoadAliases(path string) (*AliasTable, error) {
	if path == "" {
		return DefaultAliases()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "branch: read aliases %s", path)
	}
	return ParseAliases(data)
}

// ParseAliases decodes and validates an alias table. Labels must be
// non-empty, codes positive, and a label may not map to two codes.
func ParseAliases(data []byte) (*AliasTable, error) {
	var t AliasTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "branch: parse aliases")
	}
	if t.Version == "" {
		return nil, eris.New("branch: alias table has no version")
	}

	seen := make(map[string]int, len(t.Aliases))
	for i, a := range t.Aliases {
		key := textnorm.Key(a.Label)
		if key == "" {
			return nil, eris.Errorf("branch: alias %d has an empty label", i)
		}
		if a.Code <= 0 {
			return nil, eris.Errorf("branch: alias %q has non-positive code %d", a.Label, a.Code)
		}
		if prev, ok := seen[key]; ok && prev != a.Code {
			return nil, eris.Errorf("branch: alias %q maps to both %d and %d", a.Label, prev, a.Code)
		}
		seen[key] = a.Code
	}
	return &t, nil
}
