// Package strings holds the text helpers shared by intake, matching and export.
package strings

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DedupeAndTrim trims each value, drops empties and keeps the first occurrence of
// each remaining value. Order is preserved.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Fold puts a name into comparison form: NFC-composed, trimmed, Unicode lower case.
// Two spellings of "Peña" (precomposed and combining tilde) fold to the same string.
func Fold(s string) string {
	// a Caser is stateful, so each call gets its own
	return cases.Lower(language.Und).String(norm.NFC.String(strings.TrimSpace(s)))
}

// UpperFirst upper-cases the first rune and leaves the rest untouched.
func UpperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// CollapseSpace trims s and reduces inner runs of whitespace to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
