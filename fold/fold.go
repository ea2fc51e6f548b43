// Package fold provides the case-folding function ILEX indexes use,
// spec.md §4.B "Case-insensitive (ILEX) ... Must round-trip through a
// stable fold (callers provide)."
//
// Grounded on golang.org/x/text/cases, attested in the pack's
// internationalization-aware repos, rather than strings.ToLower: Unicode
// case folding (e.g. German ß, Turkish dotless i under a fixed locale)
// is not expressible correctly with the stdlib's ASCII-biased ToLower.
package fold

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var caser = cases.Fold()

// Fold case-folds s for ILEX comparison. Idempotent: Fold(Fold(s)) ==
// Fold(s).
func Fold(s string) string {
	return caser.String(s)
}

// New returns a locale-neutral fold function. The tag is accepted but not
// consulted: locale-specific rules such as the Turkish dotless i are not
// applied, and the result folds the same way for every tag.
func New(tag language.Tag) func(string) string {
	c := cases.Fold(cases.HandleFinalSigma(true))
	_ = tag // cases.Fold takes no language tag
	return c.String
}
