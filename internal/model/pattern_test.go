package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternApply(t *testing.T) {
	assert.Equal(t, "jane.doe", PatternFirstDotLast.Apply("Jane", "Doe"))
	assert.Equal(t, "jdoe", PatternFLast.Apply("Jane", "Doe"))
	assert.Equal(t, "janedoe", PatternFirstLast.Apply("Jane", "Doe"))
	assert.Equal(t, "jane", PatternFirst.Apply("Jane", "Doe"))
	assert.Equal(t, "jane_doe", PatternFirstULast.Apply("Jane", "Doe"))
	assert.Equal(t, "j.doe", PatternFDotLast.Apply("Jane", "Doe"))
	assert.Equal(t, "doe", PatternLast.Apply("Jane", "Doe"))
	assert.Equal(t, "janed", PatternFirstL.Apply("Jane", "Doe"))
}

func TestPatternApply_Normalization(t *testing.T) {
	// Diacritics stripped, punctuation dropped, everything lowercased.
	assert.Equal(t, "jose.obrien", PatternFirstDotLast.Apply("José", "O'Brien"))
	assert.Equal(t, "francois.mullerlyons", PatternFirstDotLast.Apply("François", "Müller-Lyons"))
}

func TestPatternApply_EmptyNameParts(t *testing.T) {
	assert.Equal(t, ".doe", PatternFirstDotLast.Apply("", "Doe"))
	assert.Equal(t, "doe", PatternFLast.Apply("", "Doe"))
	assert.Equal(t, "jane", PatternFirstL.Apply("Jane", ""))
}

func TestParsePattern(t *testing.T) {
	p, ok := ParsePattern("  {First}.{Last} ")
	assert.True(t, ok)
	assert.Equal(t, PatternFirstDotLast, p)

	p, ok = ParsePattern("{first}+{last}")
	assert.False(t, ok)
	assert.Equal(t, Pattern("{first}+{last}"), p)
}

func TestPatternKnown(t *testing.T) {
	for _, p := range CanonicalPatterns {
		assert.True(t, p.Known(), string(p))
	}
	assert.False(t, Pattern("{last}.{first}").Known())
}

func TestContactUsable(t *testing.T) {
	assert.True(t, Contact{FirstName: "Jane", LastName: "Doe", Title: "CTO"}.Usable())
	assert.False(t, Contact{FirstName: "Jane", LastName: "Doe"}.Usable())
	assert.False(t, Contact{FirstName: "Jane", Title: "CTO"}.Usable())
	assert.False(t, Contact{LastName: "Doe", Title: "CTO"}.Usable())
}

func TestCompanyContextTLD(t *testing.T) {
	assert.Equal(t, "com", CompanyContext{Domain: "acme.com"}.TLD())
	assert.Equal(t, "uk", CompanyContext{Domain: "acme.co.uk"}.TLD())
	assert.Equal(t, "", CompanyContext{Domain: "localhost"}.TLD())
}

func TestNormalizeNamePart(t *testing.T) {
	assert.Equal(t, "jose", NormalizeNamePart("José"))
	assert.Equal(t, "obrien", NormalizeNamePart("O'Brien"))
	assert.Equal(t, "vanderberg", NormalizeNamePart("van der Berg"))
	assert.Equal(t, "", NormalizeNamePart("123"))
}
