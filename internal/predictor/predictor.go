// Package predictor aggregates historical pattern evidence into a
// Dirichlet-smoothed posterior over the canonical pattern set. It never
// fails outright: when evidence gathering breaks down it degrades to the
// global prior with a flagged, lower-confidence answer.
package predictor

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/config"
	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/prior"
	"github.com/sells-group/email-intel/internal/store"
	"github.com/sells-group/email-intel/pkg/embedding"
)

const fallbackConfidence = 0.65

// Predictor computes pattern posteriors from stored evidence.
type Predictor struct {
	store    store.Store
	embedder embedding.Provider
	priors   *prior.Table
	cfg      config.PredictorConfig
	now      func() time.Time
}

// New creates a Predictor.
func New(s store.Store, e embedding.Provider, pt *prior.Table, cfg config.PredictorConfig) *Predictor {
	return &Predictor{
		store:    s,
		embedder: e,
		priors:   pt,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithNow overrides the clock, for tests exercising recency decay.
func (p *Predictor) WithNow(now func() time.Time) *Predictor {
	p.now = now
	return p
}

// Predict builds the posterior for a company context. It always returns a
// usable result: on a cold start (no evidence, no errors) the posterior
// equals the smoothed global prior; when every productive layer errored the
// result is the prior-only distribution with Trace.Fallback set and
// confidence capped, so callers can tell a degraded answer from a clean one.
func (p *Predictor) Predict(ctx context.Context, c model.CompanyContext) *model.PredictResult {
	now := p.now()
	snap := p.priors.Snapshot()

	bundle, errs := p.gatherEvidence(ctx, c, now)
	result := p.computePosterior(c, snap, bundle, now)

	if errs > 0 && len(bundle) == 0 {
		result.Trace.Fallback = true
		result.Confidence = fallbackConfidence
		zap.L().Warn("predictor: all evidence layers failed, returning prior-only posterior",
			zap.String("domain", c.Domain),
			zap.Int("layer_errors", errs),
		)
	}
	return result
}

// computePosterior turns the evidence bundle into a normalized posterior
// with uncertainty measures, confidence, and the arbitration gate decision.
func (p *Predictor) computePosterior(c model.CompanyContext, snap *prior.Snapshot, bundle model.EvidenceBundle, now time.Time) *model.PredictResult {
	counts := make(map[model.Pattern]float64, len(model.CanonicalPatterns))
	for _, pat := range model.CanonicalPatterns {
		counts[pat] = p.cfg.DirichletBeta * snap.Frequency(pat)
	}

	layers := make([]model.LayerTrace, 0, len(bundle))
	for _, layer := range []string{LayerDomain, LayerKNN, LayerSectorRegion, LayerSector, LayerRegionTLD, LayerTLD} {
		layerCounts, ok := bundle[layer]
		if !ok {
			continue
		}
		weight := p.layerWeight(layer)
		trace := model.LayerTrace{Layer: layer, Weight: weight, Records: len(layerCounts)}

		var top model.Pattern
		for pat, mass := range layerCounts {
			counts[pat] += weight * mass
			trace.TotalMass += mass
			if top == "" || mass > layerCounts[top] {
				top = pat
			}
		}
		if trace.TotalMass > 0 {
			trace.TopShare = layerCounts[top] / trace.TotalMass
		}
		layers = append(layers, trace)
	}

	// Clip and normalize. The floor keeps log terms finite.
	total := 0.0
	for pat, v := range counts {
		if v < p.cfg.MassFloor {
			counts[pat] = p.cfg.MassFloor
		}
		total += counts[pat]
	}
	posterior := make(model.Posterior, len(counts))
	for pat, v := range counts {
		posterior[pat] = v / total
	}

	best, bestP, _, secondP := posterior.Top2()
	entropy := 0.0
	for _, prob := range posterior {
		if prob > 0 {
			entropy -= prob * math.Log2(prob)
		}
	}
	margin := bestP - secondP

	u := model.Uncertainty{
		Entropy: entropy,
		Margin:  margin,
		Tie:     margin < p.cfg.TieThreshold,
	}

	confidence := p.confidence(posterior, best, margin, bundle)
	needsLLM := p.ShouldCallLLM(u, confidence)

	return &model.PredictResult{
		Pattern:     best,
		Confidence:  confidence,
		Posterior:   posterior,
		Uncertainty: u,
		Evidence:    bundle,
		Trace: model.PredictTrace{
			PriorMass: p.cfg.DirichletBeta,
			Layers:    layers,
			Entropy:   entropy,
			Margin:    margin,
		},
		NeedsLLM: needsLLM,
	}
}

// confidence blends the MAP probability, how strongly the nearest neighbors
// agree with the MAP pattern, and a small certainty bonus for clear margins.
func (p *Predictor) confidence(posterior model.Posterior, best model.Pattern, margin float64, bundle model.EvidenceBundle) float64 {
	agreement := 0.0
	if knn, ok := bundle[LayerKNN]; ok {
		total := 0.0
		for _, mass := range knn {
			total += mass
		}
		if total > 0 {
			agreement = knn[best] / total
		}
	}

	bonus := (margin - 0.10) * 0.5
	if bonus < 0 {
		bonus = 0
	}
	if bonus > 0.10 {
		bonus = 0.10
	}

	conf := 0.55*posterior[best] + 0.10*agreement + bonus
	if conf < 0 {
		conf = 0
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

// ShouldCallLLM is the arbitration gate: high entropy, a thin margin, or a
// weak overall confidence each independently trigger a second opinion.
func (p *Predictor) ShouldCallLLM(u model.Uncertainty, confidence float64) bool {
	return u.Entropy > p.cfg.LLMGate.Entropy ||
		u.Margin < p.cfg.LLMGate.Margin ||
		confidence < p.cfg.LLMGate.Confidence
}

// Candidates returns the top-k patterns by posterior probability in a
// deterministic order.
func Candidates(posterior model.Posterior, k int) []model.Pattern {
	pats := make([]model.Pattern, 0, len(posterior))
	for pat := range posterior {
		pats = append(pats, pat)
	}
	sort.Slice(pats, func(i, j int) bool {
		if posterior[pats[i]] != posterior[pats[j]] {
			return posterior[pats[i]] > posterior[pats[j]]
		}
		return pats[i] < pats[j]
	})
	if k < len(pats) {
		pats = pats[:k]
	}
	return pats
}
