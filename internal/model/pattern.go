package model

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Pattern is an email-address naming convention template. The set of
// recognized templates is closed; anything else is carried as-is but
// reported as unrecognized (see Known).
type Pattern string

// Canonical pattern templates, ordered by global frequency.
const (
	PatternFirstDotLast Pattern = "{first}.{last}"
	PatternFLast        Pattern = "{f}{last}"
	PatternFirstLast    Pattern = "{first}{last}"
	PatternFirst        Pattern = "{first}"
	PatternFirstULast   Pattern = "{first}_{last}"
	PatternFDotLast     Pattern = "{f}.{last}"
	PatternLast         Pattern = "{last}"
	PatternFirstL       Pattern = "{first}{l}"
)

// CanonicalPatterns is the closed set of templates the predictor reasons over.
var CanonicalPatterns = []Pattern{
	PatternFirstDotLast,
	PatternFLast,
	PatternFirstLast,
	PatternFirst,
	PatternFirstULast,
	PatternFDotLast,
	PatternLast,
	PatternFirstL,
}

// Known reports whether p is one of the canonical templates.
func (p Pattern) Known() bool {
	for _, c := range CanonicalPatterns {
		if p == c {
			return true
		}
	}
	return false
}

func (p Pattern) String() string { return string(p) }

// ParsePattern normalizes a raw template string and reports whether it is
// canonical. Surrounding whitespace and case differences in token names are
// tolerated; the template itself is not rewritten into another template.
func ParsePattern(raw string) (Pattern, bool) {
	p := Pattern(strings.ToLower(strings.TrimSpace(raw)))
	return p, p.Known()
}

// Apply substitutes the contact's name parts into the template and returns
// the local part of the address (everything before the @). Name parts are
// lowercased, stripped of diacritics, and reduced to ASCII letters so that
// "José O'Brien" yields "jose" / "obrien".
func (p Pattern) Apply(firstName, lastName string) string {
	first := NormalizeNamePart(firstName)
	last := NormalizeNamePart(lastName)

	local := string(p)
	local = strings.ReplaceAll(local, "{first}", first)
	local = strings.ReplaceAll(local, "{last}", last)
	if first != "" {
		local = strings.ReplaceAll(local, "{f}", first[:1])
	} else {
		local = strings.ReplaceAll(local, "{f}", "")
	}
	if last != "" {
		local = strings.ReplaceAll(local, "{l}", last[:1])
	} else {
		local = strings.ReplaceAll(local, "{l}", "")
	}
	return local
}

// PatternSource tags where a resolved pattern came from.
type PatternSource string

const (
	SourceExact    PatternSource = "exact"    // exact-domain recall hit
	SourceSemantic PatternSource = "semantic" // vector-similarity recall hit
	SourceOverride PatternSource = "override" // failure-memory correction
	SourceRAG      PatternSource = "rag"      // recalled and re-validated
	SourceRules    PatternSource = "rules"    // bayesian evidence aggregation
	SourceLLM      PatternSource = "llm"      // llm arbitration
	SourceExternal PatternSource = "external" // third-party hint, confirmed by validation
)

// PatternRecord is a validated pattern for a single domain. One row per
// domain; superseded in place, never hard-deleted.
type PatternRecord struct {
	ID          string          `json:"id"`
	Domain      string          `json:"domain"`
	Pattern     Pattern         `json:"pattern"`
	Confidence  float64         `json:"confidence"`
	Sector      string          `json:"sector,omitempty"`
	Region      string          `json:"region,omitempty"`
	CompanySize string          `json:"company_size,omitempty"`
	Embedding   pgvector.Vector `json:"-"`
	Source      PatternSource   `json:"source"`
	VerifiedAt  time.Time       `json:"verified_at"`
	UsageCount  int             `json:"usage_count"`
}

// PatternMatch is a recall result: a prior validated pattern plus the
// age-decayed confidence we place in reusing it.
type PatternMatch struct {
	Domain     string        `json:"domain"`
	Pattern    Pattern       `json:"pattern"`
	Confidence float64       `json:"confidence"`
	Similarity float64       `json:"similarity,omitempty"`
	Source     PatternSource `json:"source"`
	VerifiedAt time.Time     `json:"verified_at"`
}
