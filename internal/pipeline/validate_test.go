package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/store"
	"github.com/sells-group/email-intel/pkg/verifier"
)

func TestUsableContacts(t *testing.T) {
	contacts := []model.Contact{
		{FirstName: "Jane", LastName: "Doe", Title: "CEO"},
		{FirstName: "John", LastName: "Smith"},
		{FirstName: "", LastName: "Lee", Title: "VP"},
	}
	got := usableContacts(contacts)
	require.Len(t, got, 1)
	assert.Equal(t, "Jane", got[0].FirstName)
}

func TestSelectProbes_EvenlySpaced(t *testing.T) {
	contacts := make([]model.Contact, 5)
	for i := range contacts {
		contacts[i] = model.Contact{FirstName: string(rune('a' + i)), LastName: "x", Title: "t"}
	}

	got := selectProbes(contacts, 3)
	require.Len(t, got, 3)
	// First, middle, last.
	assert.Equal(t, "a", got[0].FirstName)
	assert.Equal(t, "c", got[1].FirstName)
	assert.Equal(t, "e", got[2].FirstName)
}

func TestSelectProbes_FewerThanRequested(t *testing.T) {
	contacts := testContacts()
	assert.Len(t, selectProbes(contacts, 5), 3)
	assert.Len(t, selectProbes(nil, 3), 0)
}

func TestValidatePattern_EarlyStop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory().WithNow(testClock)
	cfg := testConfig()
	cfg.Pipeline.RequiredValid = 1
	vc := &mockVerifier{status: model.VerifyValid}
	p := newTestPipeline(cfg, st, vc, &mockHealth{mxOK: true})

	// One required success: the first wave is a single probe and it lands.
	outcome := p.validatePattern(ctx, model.CompanyContext{Domain: "acme.com"}, model.PatternFirstDotLast, testContacts())

	assert.Equal(t, 1, outcome.OracleCalls)
	assert.Equal(t, 1, outcome.Valid)
	assert.Equal(t, 1, outcome.Probed)
	assert.Equal(t, int64(1), vc.calls.Load())
}

// slowVerifier answers valid but delays chosen addresses, so a probe issued
// while earlier ones are still in flight would show up in the call count.
type slowVerifier struct {
	delays map[string]time.Duration
	calls  atomic.Int64
}

func (s *slowVerifier) Verify(_ context.Context, email string) (*verifier.Result, error) {
	s.calls.Add(1)
	if d, ok := s.delays[email]; ok {
		time.Sleep(d)
	}
	return &verifier.Result{Email: email, Status: model.VerifyValid, Score: 0.95}, nil
}

func TestValidatePattern_TwoOfThreeStopsAtTwoCalls(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory().WithNow(testClock)
	cfg := testConfig() // RequiredValid = 2
	vc := &slowVerifier{delays: map[string]time.Duration{
		"john.smith@acme.com": 150 * time.Millisecond,
	}}
	p := newTestPipeline(cfg, st, vc, &mockHealth{mxOK: true})

	outcome := p.validatePattern(ctx, model.CompanyContext{Domain: "acme.com"}, model.PatternFirstDotLast, testContacts())

	// Both first-wave probes validate, so the third contact is never probed,
	// even though the second response arrives late.
	assert.Equal(t, 2, outcome.OracleCalls)
	assert.Equal(t, 2, outcome.Valid)
	assert.Equal(t, 2, outcome.Probed)
	assert.Equal(t, int64(2), vc.calls.Load())
}

func TestValidatePattern_CacheAvoidsRepeatCalls(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory().WithNow(testClock)
	cfg := testConfig()
	cfg.Pipeline.RequiredValid = 3 // no early stop: every probe is issued
	vc := &mockVerifier{status: model.VerifyValid}
	p := newTestPipeline(cfg, st, vc, &mockHealth{mxOK: true})

	c := model.CompanyContext{Domain: "acme.com"}
	first := p.validatePattern(ctx, c, model.PatternFirstDotLast, testContacts())
	assert.Equal(t, 3, first.OracleCalls)

	second := p.validatePattern(ctx, c, model.PatternFirstDotLast, testContacts())
	assert.Zero(t, second.OracleCalls)
	assert.Equal(t, 3, second.Valid)
	assert.Equal(t, int64(3), vc.calls.Load())
	assert.Equal(t, int64(3), p.Metrics().OracleCacheHits)
}

func TestValidatePattern_BudgetExhaustion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory().WithNow(testClock)
	cfg := testConfig()
	cfg.Pipeline.RequiredValid = 3
	cfg.Pipeline.VerifyBudgetPerDomain = 2
	vc := &mockVerifier{status: model.VerifyValid}
	p := newTestPipeline(cfg, st, vc, &mockHealth{mxOK: true})

	outcome := p.validatePattern(ctx, model.CompanyContext{Domain: "acme.com"}, model.PatternFirstDotLast, testContacts())

	// Two calls fit the budget; the third probe is denied, not sent.
	assert.Equal(t, 2, outcome.OracleCalls)
	assert.Equal(t, 2, outcome.Valid)
	assert.Equal(t, 3, outcome.Probed)

	denied := 0
	for _, res := range outcome.Results {
		if res.Status == model.VerifyError {
			denied++
		}
	}
	assert.Equal(t, 1, denied)
}

func TestValidatePattern_CatchAllFlag(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory().WithNow(testClock)
	cfg := testConfig()
	cfg.Pipeline.RequiredValid = 3
	vc := &mockVerifier{status: model.VerifyAcceptAll}
	p := newTestPipeline(cfg, st, vc, &mockHealth{mxOK: true})

	outcome := p.validatePattern(ctx, model.CompanyContext{Domain: "acme.com"}, model.PatternFirstDotLast, testContacts())

	assert.True(t, outcome.CatchAll)
	assert.Zero(t, outcome.Valid)
}

func TestValidationOutcome_SuccessRate(t *testing.T) {
	v := &validationOutcome{Probed: 3, Valid: 2}
	assert.InDelta(t, 2.0/3.0, v.SuccessRate(), 1e-9)
	assert.Zero(t, (&validationOutcome{}).SuccessRate())
}
