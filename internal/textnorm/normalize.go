// Package textnorm normalizes free-text labels from inspection exports
// (branch names, states, operating groups, area names) for matching.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpaceRe = regexp.MustCompile(`\s+`)

// FoldAccents strips combining marks: "Foránea" -> "Foranea", "León" -> "Leon".
func FoldAccents(s string) string {
	// transform.Chain is stateful, so build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Key produces the comparison key for a label:
//  1. Trimming whitespace
//  2. Folding accents
//  3. Converting to uppercase
//  4. Collapsing runs of whitespace into one space
func Key(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToUpper(FoldAccents(s))
	return multiSpaceRe.ReplaceAllString(s, " ")
}

// Equal compares two labels by Key.
func Equal(a, b string) bool {
	return Key(a) == Key(b)
}

// LooseKey is Key with punctuation (- . , _ / #) replaced by spaces, used
// for containment checks where "GC-Garcia" and "GC Garcia" must agree.
func LooseKey(s string) string {
	s = strings.NewReplacer(
		"-", " ",
		".", " ",
		",", " ",
		"_", " ",
		"/", " ",
		"#", " ",
	).Replace(s)
	return Key(s)
}
