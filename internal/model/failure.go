package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// FailureRecord captures an attempted pattern that did not validate, so the
// same mistake is not repeated. A later success for the same domain fills in
// CorrectPattern retroactively.
type FailureRecord struct {
	ID                   string             `json:"id"`
	Domain               string             `json:"domain"`
	CompanyName          string             `json:"company_name,omitempty"`
	AttemptedPattern     Pattern            `json:"attempted_pattern"`
	Sector               string             `json:"sector,omitempty"`
	Region               string             `json:"region,omitempty"`
	CompanySize          string             `json:"company_size,omitempty"`
	ValidationResults    []ValidationResult `json:"validation_results,omitempty"`
	FailureReason        string             `json:"failure_reason"`
	Embedding            *pgvector.Vector   `json:"-"` // nil when embedding generation failed
	CorrectPattern       *Pattern           `json:"correct_pattern,omitempty"`
	CorrectionConfidence *float64           `json:"correction_confidence,omitempty"`
	PreventedRepeats     int                `json:"prevented_repeats"`
	FailedAt             time.Time          `json:"failed_at"`
	CorrectedAt          *time.Time         `json:"corrected_at,omitempty"`
}

// Resolved reports whether a later success has supplied the correct pattern.
func (f FailureRecord) Resolved() bool {
	return f.CorrectPattern != nil
}

// Override is a failure-memory recommendation: a corrected pattern learned
// from prior mistakes on similar companies, returned instead of re-running
// prediction and validation.
type Override struct {
	RecommendedPattern Pattern `json:"recommended_pattern"`
	Confidence         float64 `json:"confidence"`
	BasedOnFailures    int     `json:"based_on_failures"`
	SavingsUSD         float64 `json:"savings_usd"`
}
