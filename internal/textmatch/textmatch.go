// Package textmatch provides the case-insensitive comparisons used by event
// rules and filters. Strings are NFC-normalised and Unicode case-folded so
// that "STRASSE" and "straße" or precomposed/decomposed accents compare equal.
package textmatch

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Fold returns the comparison key for s.
func Fold(s string) string {
	// cases.Caser is stateful; a fresh one per call keeps Fold safe for
	// concurrent use.
	return cases.Fold().String(norm.NFC.String(s))
}

// Equal reports whether a and b are equal ignoring case.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Contains reports whether needle occurs in haystack ignoring case.
func Contains(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}
