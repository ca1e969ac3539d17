package pipeline

import (
	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/predictor"
)

const (
	synthBoostMax    = 0.15
	synthBoostAtRate = 0.66
	catchAllPenalty  = 0.10
	synthFloor       = 0.60
	synthCeiling     = 0.98
)

// baseConfidence is the prior trust in each resolution path before
// validation evidence is applied.
func baseConfidence(source model.PatternSource) float64 {
	switch source {
	case model.SourceRAG:
		return 0.85
	case model.SourceExternal:
		return 0.80
	case model.SourceRules:
		return 0.75
	default: // llm and anything unrecognized
		return 0.70
	}
}

// synthesizeConfidence folds validation evidence into the source base: a
// boost proportional to the probe success rate once it clears the bar, and a
// penalty when the domain accepts anything.
func synthesizeConfidence(source model.PatternSource, successRate float64, catchAll bool) float64 {
	conf := baseConfidence(source)
	if successRate >= synthBoostAtRate {
		conf += synthBoostMax * successRate
	}
	if catchAll {
		conf -= catchAllPenalty
	}
	if conf < synthFloor {
		conf = synthFloor
	}
	if conf > synthCeiling {
		conf = synthCeiling
	}
	return conf
}

// predictionSource tags how the aggregator reached its answer: retrieval
// evidence (exact record or nearest neighbors) reads as rag, otherwise the
// posterior rests on the hierarchical rules layers and the prior.
func predictionSource(res *model.PredictResult) model.PatternSource {
	if _, ok := res.Evidence[predictor.LayerDomain]; ok {
		return model.SourceRAG
	}
	if _, ok := res.Evidence[predictor.LayerKNN]; ok {
		return model.SourceRAG
	}
	return model.SourceRules
}
