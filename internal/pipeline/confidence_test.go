package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/predictor"
)

func TestBaseConfidence(t *testing.T) {
	assert.Equal(t, 0.85, baseConfidence(model.SourceRAG))
	assert.Equal(t, 0.80, baseConfidence(model.SourceExternal))
	assert.Equal(t, 0.75, baseConfidence(model.SourceRules))
	assert.Equal(t, 0.70, baseConfidence(model.SourceLLM))
	assert.Equal(t, 0.70, baseConfidence(model.PatternSource("other")))
}

func TestSynthesizeConfidence_SuccessBoost(t *testing.T) {
	// Below the boost bar the base stands alone.
	assert.InDelta(t, 0.75, synthesizeConfidence(model.SourceRules, 0.5, false), 1e-9)
	// At and above the bar the boost scales with the rate.
	assert.InDelta(t, 0.75+0.15*0.66, synthesizeConfidence(model.SourceRules, 0.66, false), 1e-9)
	assert.InDelta(t, 0.90, synthesizeConfidence(model.SourceRules, 1.0, false), 1e-9)
}

func TestSynthesizeConfidence_CatchAllPenalty(t *testing.T) {
	assert.InDelta(t, 0.80, synthesizeConfidence(model.SourceRules, 1.0, true), 1e-9)
}

func TestSynthesizeConfidence_Clipping(t *testing.T) {
	// rag with a perfect rate would reach 1.0; the ceiling caps it.
	assert.InDelta(t, 0.98, synthesizeConfidence(model.SourceRAG, 1.0, false), 1e-9)
	// llm with a catch-all penalty would fall to 0.60 exactly; lower
	// combinations are floored there.
	assert.InDelta(t, 0.60, synthesizeConfidence(model.SourceLLM, 0.0, true), 1e-9)
}

func TestPredictionSource(t *testing.T) {
	withDomain := &model.PredictResult{Evidence: model.EvidenceBundle{
		predictor.LayerDomain: {model.PatternFLast: 1.0},
	}}
	assert.Equal(t, model.SourceRAG, predictionSource(withDomain))

	withKNN := &model.PredictResult{Evidence: model.EvidenceBundle{
		predictor.LayerKNN: {model.PatternFLast: 1.0},
	}}
	assert.Equal(t, model.SourceRAG, predictionSource(withKNN))

	contextOnly := &model.PredictResult{Evidence: model.EvidenceBundle{
		predictor.LayerSector: {model.PatternFLast: 1.0},
	}}
	assert.Equal(t, model.SourceRules, predictionSource(contextOnly))

	empty := &model.PredictResult{Evidence: model.EvidenceBundle{}}
	assert.Equal(t, model.SourceRules, predictionSource(empty))
}
