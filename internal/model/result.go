package model

import (
	"sort"
	"time"
)

// VerifyStatus is the outcome of a single email verification probe.
type VerifyStatus string

const (
	VerifyValid     VerifyStatus = "valid"
	VerifyInvalid   VerifyStatus = "invalid"
	VerifyAcceptAll VerifyStatus = "accept_all"
	VerifyUnknown   VerifyStatus = "unknown"
	VerifyTimeout   VerifyStatus = "timeout"
	VerifyError     VerifyStatus = "error"
)

// ValidationResult records one probe against the validation oracle.
type ValidationResult struct {
	Email   string       `json:"email"`
	Status  VerifyStatus `json:"status"`
	Score   float64      `json:"score,omitempty"`
	Contact string       `json:"contact,omitempty"`
}

// Posterior is a probability distribution over pattern templates. Canonical
// patterns are always present; unknown patterns observed in evidence may
// appear as extra entries.
type Posterior map[Pattern]float64

// Sum returns the total probability mass (≈1 for a valid posterior).
func (p Posterior) Sum() float64 {
	total := 0.0
	for _, v := range p {
		total += v
	}
	return total
}

// Top2 returns the MAP pattern and the runner-up with their probabilities.
// Ties are broken by canonical ordering, then lexicographically, so results
// are deterministic.
func (p Posterior) Top2() (best Pattern, bestP float64, second Pattern, secondP float64) {
	type entry struct {
		pat Pattern
		pr  float64
	}
	entries := make([]entry, 0, len(p))
	for pat, pr := range p {
		entries = append(entries, entry{pat, pr})
	}
	rank := make(map[Pattern]int, len(CanonicalPatterns))
	for i, c := range CanonicalPatterns {
		rank[c] = i
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].pr != entries[j].pr {
			return entries[i].pr > entries[j].pr
		}
		ri, iok := rank[entries[i].pat]
		rj, jok := rank[entries[j].pat]
		if iok && jok {
			return ri < rj
		}
		if iok != jok {
			return iok
		}
		return entries[i].pat < entries[j].pat
	})
	if len(entries) > 0 {
		best, bestP = entries[0].pat, entries[0].pr
	}
	if len(entries) > 1 {
		second, secondP = entries[1].pat, entries[1].pr
	}
	return best, bestP, second, secondP
}

// Uncertainty summarizes how spread out a posterior is.
type Uncertainty struct {
	Entropy float64 `json:"entropy"` // bits
	Margin  float64 `json:"margin"`  // P(MAP) - P(runner-up)
	Tie     bool    `json:"tie"`     // margin below the tie threshold
}

// EvidenceBundle holds the per-layer pseudo-counts gathered for a prediction,
// keyed by layer name. Built fresh per request, never mutated afterwards.
type EvidenceBundle map[string]map[Pattern]float64

// LayerTrace is the explainability record for one evidence layer.
type LayerTrace struct {
	Layer     string  `json:"layer"`
	Weight    float64 `json:"weight"`
	Records   int     `json:"records"`
	TotalMass float64 `json:"total_mass"`
	TopShare  float64 `json:"top_share,omitempty"` // share of layer mass on the MAP pattern
}

// PredictTrace is the full audit trail attached to every prediction. It is a
// first-class output: the finalize step logs it with its storage decision.
type PredictTrace struct {
	PriorMass float64      `json:"prior_mass"`
	Layers    []LayerTrace `json:"layers"`
	Entropy   float64      `json:"entropy"`
	Margin    float64      `json:"margin"`
	Fallback  bool         `json:"fallback,omitempty"` // prior-only fallback after internal error
}

// PredictResult is the evidence aggregator's answer: always structurally
// valid, even under total evidence-source failure.
type PredictResult struct {
	Pattern     Pattern        `json:"pattern"`
	Confidence  float64        `json:"confidence"`
	Posterior   Posterior      `json:"posterior"`
	Uncertainty Uncertainty    `json:"uncertainty"`
	Evidence    EvidenceBundle `json:"evidence"`
	Trace       PredictTrace   `json:"trace"`
	NeedsLLM    bool           `json:"needs_llm"`
}

// HintedPattern is a third-party-suggested pattern accompanying a learn
// request, testable ahead of the normal flow.
type HintedPattern struct {
	Pattern    Pattern `json:"pattern"`
	Confidence float64 `json:"confidence"`
	Origin     string  `json:"origin,omitempty"`
}

// LearnRequest is the input to the learn pipeline.
type LearnRequest struct {
	Context  CompanyContext `json:"context"`
	Contacts []Contact      `json:"contacts,omitempty"`
	Hint     *HintedPattern `json:"hint,omitempty"`
}

// LearnOutcome distinguishes terminal pipeline exits.
type LearnOutcome string

const (
	OutcomeOK                 LearnOutcome = "ok"
	OutcomeNoMX               LearnOutcome = "no_mx_records"
	OutcomeInsufficientProbes LearnOutcome = "insufficient_contacts"
	OutcomeValidationFailed   LearnOutcome = "validation_failed"
)

// LearnResult is the pipeline's final answer for one domain.
type LearnResult struct {
	Domain          string             `json:"domain"`
	Outcome         LearnOutcome       `json:"outcome"`
	Pattern         Pattern            `json:"pattern,omitempty"`
	Confidence      float64            `json:"confidence"`
	Source          PatternSource      `json:"source,omitempty"`
	ValidatedEmails []string           `json:"validated_emails,omitempty"`
	Validations     []ValidationResult `json:"validations,omitempty"`
	Persisted       bool               `json:"persisted"`
	CatchAll        bool               `json:"catch_all,omitempty"`
	CostUSD         float64            `json:"cost_usd"`
	Latency         time.Duration      `json:"latency"`
	LayerResults    *PredictTrace      `json:"layer_results,omitempty"`
}
