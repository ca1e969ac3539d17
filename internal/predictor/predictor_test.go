package predictor

import (
	"context"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/config"
	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/prior"
	"github.com/sells-group/email-intel/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testClock = func() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// stubEmbedder returns a fixed vector, or an error when set.
type stubEmbedder struct {
	vec pgvector.Vector
	err error
}

func (s *stubEmbedder) Embed(context.Context, string) (pgvector.Vector, error) {
	if s.err != nil {
		return pgvector.Vector{}, s.err
	}
	return s.vec, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }

// errStore fails the exact-domain lookup; everything else behaves normally.
type errStore struct {
	*store.MemoryStore
}

func (s *errStore) GetPattern(context.Context, string) (*model.PatternRecord, error) {
	return nil, eris.New("connection refused")
}

func newTestPredictor(st store.Store, emb *stubEmbedder) *Predictor {
	return New(st, emb, prior.NewTable(st), config.DefaultPredictorConfig()).WithNow(testClock)
}

func TestPredict_ColdStart(t *testing.T) {
	st := store.NewMemory().WithNow(testClock)
	p := newTestPredictor(st, &stubEmbedder{vec: pgvector.NewVector([]float32{1, 0, 0})})

	res := p.Predict(context.Background(), model.CompanyContext{
		Domain: "acme.com",
		Sector: "Technology",
		Region: "Global",
	})

	// With no evidence the posterior is the smoothed global prior.
	assert.Equal(t, model.PatternFirstDotLast, res.Pattern)
	assert.False(t, res.Trace.Fallback)
	assert.InDelta(t, 1.0, res.Posterior.Sum(), 1e-6)
	for _, pat := range model.CanonicalPatterns {
		assert.Greater(t, res.Posterior[pat], 0.0, string(pat))
	}
	assert.True(t, res.NeedsLLM)
}

func TestPredict_DomainEvidenceDominates(t *testing.T) {
	st := store.NewMemory().WithNow(testClock)
	require.NoError(t, st.UpsertPattern(context.Background(), model.PatternRecord{
		Domain:     "acme.com",
		Pattern:    model.PatternFLast,
		Confidence: 0.95,
		Source:     model.SourceRules,
		VerifiedAt: testClock(),
	}))
	p := newTestPredictor(st, &stubEmbedder{vec: pgvector.NewVector([]float32{1, 0, 0})})

	res := p.Predict(context.Background(), model.CompanyContext{Domain: "acme.com"})

	assert.Equal(t, model.PatternFLast, res.Pattern)
	assert.Greater(t, res.Posterior[model.PatternFLast], res.Posterior[model.PatternFirstDotLast])
}

func TestPredict_SectorEvidenceShiftsPosterior(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory().WithNow(testClock)
	emb := &stubEmbedder{vec: pgvector.NewVector([]float32{1, 0, 0})}

	target := model.CompanyContext{Domain: "newco.com", Sector: "Legal", Region: "EU"}
	baseline := newTestPredictor(st, emb).Predict(ctx, target)

	for _, domain := range []string{"alpha.com", "beta.com", "gamma.com"} {
		require.NoError(t, st.UpsertPattern(ctx, model.PatternRecord{
			Domain:     domain,
			Pattern:    model.PatternFirstULast,
			Confidence: 0.9,
			Sector:     "Legal",
			Region:     "EU",
			VerifiedAt: testClock(),
		}))
	}

	res := newTestPredictor(st, emb).Predict(ctx, target)

	// Matching sector+region records strictly raise the observed pattern.
	assert.Greater(t, res.Posterior[model.PatternFirstULast], baseline.Posterior[model.PatternFirstULast])
	assert.InDelta(t, 1.0, res.Posterior.Sum(), 1e-6)
}

func TestPredict_OwnDomainExcludedFromContextLayers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory().WithNow(testClock)
	require.NoError(t, st.UpsertPattern(ctx, model.PatternRecord{
		Domain:     "acme.com",
		Pattern:    model.PatternLast,
		Confidence: 0.9,
		Sector:     "Retail",
		VerifiedAt: testClock(),
	}))
	p := newTestPredictor(st, &stubEmbedder{vec: pgvector.NewVector([]float32{1, 0, 0})})

	res := p.Predict(ctx, model.CompanyContext{Domain: "acme.com", Sector: "Retail"})

	// The acme.com row feeds the domain layer only, not sector or tld.
	assert.Contains(t, res.Evidence, LayerDomain)
	assert.NotContains(t, res.Evidence, LayerSector)
	assert.NotContains(t, res.Evidence, LayerTLD)
}

func TestPredict_FallbackOnTotalLayerFailure(t *testing.T) {
	st := &errStore{store.NewMemory().WithNow(testClock)}
	p := newTestPredictor(st, &stubEmbedder{err: eris.New("provider down")})

	// A dotless domain has no tld, and without sector/region only the
	// domain and knn layers run. Both error, so nothing is gathered.
	res := p.Predict(context.Background(), model.CompanyContext{Domain: "localhost"})

	assert.True(t, res.Trace.Fallback)
	assert.Equal(t, fallbackConfidence, res.Confidence)
	assert.Equal(t, model.PatternFirstDotLast, res.Pattern)
	assert.InDelta(t, 1.0, res.Posterior.Sum(), 1e-6)
	assert.Empty(t, res.Evidence)
}

func TestPredict_ColdStartWithoutErrorsIsNotFallback(t *testing.T) {
	st := store.NewMemory().WithNow(testClock)
	p := newTestPredictor(st, &stubEmbedder{vec: pgvector.NewVector([]float32{1, 0, 0})})

	res := p.Predict(context.Background(), model.CompanyContext{Domain: "fresh.io"})

	assert.False(t, res.Trace.Fallback)
	assert.NotEqual(t, fallbackConfidence, res.Confidence)
}

func TestRecordMass_ClampAndDecay(t *testing.T) {
	st := store.NewMemory()
	p := newTestPredictor(st, &stubEmbedder{})

	now := testClock()

	// Confidence below the floor is clamped up to 0.70.
	assert.InDelta(t, 0.70, p.recordMass(0.3, now, now), 1e-9)
	// A 180-day-old record decays by a factor of 1/e.
	old := now.AddDate(0, 0, -180)
	assert.InDelta(t, 0.9*0.3679, p.recordMass(0.9, old, now), 1e-3)
	// Future timestamps never inflate mass.
	future := now.AddDate(0, 0, 10)
	assert.InDelta(t, 0.9, p.recordMass(0.9, future, now), 1e-9)
}

func TestShouldCallLLM_Boundaries(t *testing.T) {
	p := newTestPredictor(store.NewMemory(), &stubEmbedder{})

	safe := model.Uncertainty{Entropy: 1.0, Margin: 0.5}
	assert.False(t, p.ShouldCallLLM(safe, 0.90))

	// Entropy must exceed 1.5 strictly.
	assert.False(t, p.ShouldCallLLM(model.Uncertainty{Entropy: 1.5, Margin: 0.5}, 0.90))
	assert.True(t, p.ShouldCallLLM(model.Uncertainty{Entropy: 1.51, Margin: 0.5}, 0.90))

	// Margin below 0.10 triggers; exactly 0.10 does not.
	assert.False(t, p.ShouldCallLLM(model.Uncertainty{Entropy: 1.0, Margin: 0.10}, 0.90))
	assert.True(t, p.ShouldCallLLM(model.Uncertainty{Entropy: 1.0, Margin: 0.099}, 0.90))

	// Confidence below 0.70 triggers; exactly 0.70 does not.
	assert.False(t, p.ShouldCallLLM(safe, 0.70))
	assert.True(t, p.ShouldCallLLM(safe, 0.699))
}

func TestConfidence_MaxBlend(t *testing.T) {
	p := newTestPredictor(store.NewMemory(), &stubEmbedder{})

	// Certain posterior, unanimous neighbors, full margin bonus.
	posterior := model.Posterior{model.PatternFirstDotLast: 1.0}
	bundle := model.EvidenceBundle{
		LayerKNN: {model.PatternFirstDotLast: 3.0},
	}
	conf := p.confidence(posterior, model.PatternFirstDotLast, 1.0, bundle)
	assert.InDelta(t, 0.75, conf, 1e-9)
}

func TestCandidates_DeterministicOrder(t *testing.T) {
	posterior := model.Posterior{
		model.PatternFirstDotLast: 0.4,
		model.PatternFLast:        0.3,
		model.PatternFirstLast:    0.3,
		model.PatternFirst:        0.0,
	}
	got := Candidates(posterior, 3)
	assert.Equal(t, []model.Pattern{
		model.PatternFirstDotLast,
		model.PatternFLast,
		model.PatternFirstLast,
	}, got)
}
