package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nameStripper removes combining marks after NFD decomposition, so that
// accented letters reduce to their base ASCII form.
var nameStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeNamePart lowercases a name component and reduces it to plain
// ASCII letters: diacritics are stripped, apostrophes/hyphens/spaces and any
// other non-letter runes are dropped. Returns "" if nothing survives.
func NormalizeNamePart(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	if stripped, _, err := transform.String(nameStripper, s); err == nil {
		s = stripped
	}

	var b strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
