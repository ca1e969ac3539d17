// Package pipeline orchestrates pattern learning for a domain: recall,
// failure-memory override, Bayesian prediction with optional arbitration,
// mandatory sampled validation against real contacts, confidence synthesis,
// and the persistence decision. A run always produces a structured result;
// terminal failures come back as outcomes, not errors.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/config"
	"github.com/sells-group/email-intel/internal/cost"
	"github.com/sells-group/email-intel/internal/failmem"
	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/monitoring"
	"github.com/sells-group/email-intel/internal/predictor"
	"github.com/sells-group/email-intel/internal/recall"
	"github.com/sells-group/email-intel/internal/resilience"
	"github.com/sells-group/email-intel/internal/store"
	"github.com/sells-group/email-intel/pkg/arbiter"
	"github.com/sells-group/email-intel/pkg/domainhealth"
	"github.com/sells-group/email-intel/pkg/verifier"
)

// Pipeline wires the learning flow together.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	recaller  *recall.Recaller
	failures  *failmem.Memory
	predictor *predictor.Predictor
	chooser   arbiter.Chooser
	verifier  verifier.Client
	health    domainhealth.Checker
	costs     *cost.Calculator
	metrics   *monitoring.Collector

	budget   *domainBudget
	retry    resilience.RetryConfig
	cacheTTL time.Duration
	now      func() time.Time
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	rec *recall.Recaller,
	fm *failmem.Memory,
	pred *predictor.Predictor,
	chooser arbiter.Chooser,
	vc verifier.Client,
	hc domainhealth.Checker,
	costs *cost.Calculator,
	metrics *monitoring.Collector,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		recaller:  rec,
		failures:  fm,
		predictor: pred,
		chooser:   chooser,
		verifier:  vc,
		health:    hc,
		costs:     costs,
		metrics:   metrics,
		budget: newDomainBudget(cfg.Pipeline.VerifyBudgetPerDomain,
			time.Duration(cfg.Pipeline.VerifyBudgetHours)*time.Hour),
		retry:    resilience.DefaultRetryConfig(),
		cacheTTL: time.Duration(cfg.Pipeline.VerifyCacheHours) * time.Hour,
		now:      time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (p *Pipeline) WithNow(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Predict runs pure prediction with no validation side effects.
func (p *Pipeline) Predict(ctx context.Context, c model.CompanyContext) *model.PredictResult {
	return p.predictor.Predict(ctx, c)
}

// Metrics exposes the pipeline's counter snapshot.
func (p *Pipeline) Metrics() *monitoring.MetricsSnapshot {
	return p.metrics.Snapshot()
}

// LearnPattern resolves and validates the email pattern for one domain.
// The returned error is reserved for infrastructure failures; every
// domain-level verdict, including terminal failures, is a LearnResult.
func (p *Pipeline) LearnPattern(ctx context.Context, req model.LearnRequest) (*model.LearnResult, error) {
	start := time.Now()
	log := zap.L().With(zap.String("domain", req.Context.Domain))
	log.Info("pipeline: learning pattern")

	result := &model.LearnResult{
		Domain:  req.Context.Domain,
		Outcome: model.OutcomeOK,
	}
	usable := usableContacts(req.Contacts)

	// External hint fast path: a confident third-party suggestion with
	// enough real contacts is tested before anything else.
	if p.tryHint(ctx, req, usable, result) {
		p.finish(result, start, true)
		return result, nil
	}

	// Recall: a confident previously-validated pattern skips re-validation.
	match, err := p.recaller.Recall(ctx, req.Context)
	if err != nil {
		log.Warn("pipeline: recall failed, continuing without it", zap.Error(err))
	}
	if match != nil && match.Confidence >= p.cfg.Pipeline.RecallShortCircuit {
		result.Pattern = match.Pattern
		result.Confidence = match.Confidence
		result.Source = match.Source
		p.persistDecision(ctx, req, result, match.Source != model.SourceExact)
		p.finish(result, start, true)
		return result, nil
	}

	// Override check: a correction learned from past failures is already
	// implicitly validated.
	override, err := p.failures.CheckForOverride(ctx, req.Context)
	if err != nil {
		log.Warn("pipeline: override check failed, continuing without it", zap.Error(err))
	}
	if override != nil {
		log.Info("pipeline: failure-memory override",
			zap.String("pattern", string(override.RecommendedPattern)),
			zap.Int("based_on_failures", override.BasedOnFailures),
			zap.Float64("savings_usd", override.SavingsUSD),
		)
		result.Pattern = override.RecommendedPattern
		result.Confidence = override.Confidence
		result.Source = model.SourceOverride
		p.persistDecision(ctx, req, result, true)
		p.finish(result, start, true)
		return result, nil
	}

	// Predict, arbitrating only when the uncertainty gate fires.
	pred := p.predictor.Predict(ctx, req.Context)
	pattern := pred.Pattern
	source := predictionSource(pred)
	result.LayerResults = &pred.Trace

	if pred.NeedsLLM && p.chooser != nil {
		arbitrated, conf, reasoning := predictor.Arbitrate(ctx, p.chooser, req.Context, pred)
		p.metrics.ArbitrationCall()
		result.CostUSD += p.costs.Arbitration()
		log.Info("pipeline: arbitration",
			zap.String("pattern", string(arbitrated)),
			zap.Float64("confidence", conf),
			zap.String("reasoning", reasoning),
		)
		pattern = arbitrated
		source = model.SourceLLM
	}

	// Health precondition: a domain with no MX records cannot receive mail.
	health, err := p.health.Check(ctx, req.Context.Domain)
	if err != nil {
		log.Warn("pipeline: health check failed, proceeding to validation", zap.Error(err))
	} else if !health.MXOK {
		result.Outcome = model.OutcomeNoMX
		result.Pattern = pattern
		result.Confidence = 0
		p.recordFailure(ctx, req, pattern, "no MX records", nil)
		p.finish(result, start, false)
		return result, nil
	}

	// Validation precondition: enough real people to probe.
	if len(usable) < p.cfg.Pipeline.MinContacts {
		result.Outcome = model.OutcomeInsufficientProbes
		result.Pattern = pattern
		result.Confidence = 0
		p.recordFailure(ctx, req, pattern, "insufficient usable contacts", nil)
		p.finish(result, start, false)
		return result, nil
	}

	// A failed hint may have probed these same addresses moments ago; the
	// verify cache absorbs any repeats, so that path never pays twice.
	probes := selectProbes(usable, p.cfg.Pipeline.ProbeCount)
	outcome := p.validatePattern(ctx, req.Context, pattern, probes)
	result.Validations = outcome.Results
	result.ValidatedEmails = outcome.ValidEmails
	result.CatchAll = outcome.CatchAll
	result.CostUSD += p.costs.Verifications(outcome.OracleCalls)

	if outcome.Valid < p.cfg.Pipeline.RequiredValid {
		result.Outcome = model.OutcomeValidationFailed
		result.Pattern = pattern
		result.Confidence = 0
		p.recordFailure(ctx, req, pattern, "validation below threshold", outcome.Results)
		p.finish(result, start, false)
		return result, nil
	}

	result.Pattern = pattern
	result.Source = source
	result.Confidence = synthesizeConfidence(source, outcome.SuccessRate(), outcome.CatchAll)
	p.persistDecision(ctx, req, result, true)
	p.finish(result, start, true)
	return result, nil
}

// tryHint tests a third-party-suggested pattern ahead of the normal flow.
// Returns true when the hint validated and the run is complete.
func (p *Pipeline) tryHint(ctx context.Context, req model.LearnRequest, usable []model.Contact, result *model.LearnResult) bool {
	hint := req.Hint
	if hint == nil || !hint.Pattern.Known() {
		return false
	}
	if hint.Confidence < p.cfg.Pipeline.HintMinConfidence || len(usable) < p.cfg.Pipeline.MinContacts {
		return false
	}

	probes := selectProbes(usable, p.cfg.Pipeline.ProbeCount)
	outcome := p.validatePattern(ctx, req.Context, hint.Pattern, probes)
	result.CostUSD += p.costs.Verifications(outcome.OracleCalls)

	if outcome.Valid < p.cfg.Pipeline.RequiredValid {
		zap.L().Info("pipeline: external hint failed validation",
			zap.String("domain", req.Context.Domain),
			zap.String("pattern", string(hint.Pattern)),
		)
		p.recordFailure(ctx, req, hint.Pattern, "external hint failed validation", outcome.Results)
		return false
	}

	result.Pattern = hint.Pattern
	result.Source = model.SourceExternal
	result.Confidence = synthesizeConfidence(model.SourceExternal, outcome.SuccessRate(), outcome.CatchAll)
	result.Validations = outcome.Results
	result.ValidatedEmails = outcome.ValidEmails
	result.CatchAll = outcome.CatchAll
	p.persistDecision(ctx, req, result, true)
	return true
}

// persistDecision stores the pattern when confidence clears the threshold
// and, regardless, fans the answer out to unresolved failure records. upsert
// is false when the row already exists from an exact recall hit.
func (p *Pipeline) persistDecision(ctx context.Context, req model.LearnRequest, result *model.LearnResult, upsert bool) {
	if upsert && result.Confidence >= p.cfg.Pipeline.PersistThreshold {
		rec := model.PatternRecord{
			Domain:      req.Context.Domain,
			Pattern:     result.Pattern,
			Confidence:  result.Confidence,
			Sector:      req.Context.Sector,
			Region:      req.Context.Region,
			CompanySize: req.Context.CompanySize,
			Source:      result.Source,
			VerifiedAt:  p.now().UTC(),
		}
		if err := p.recaller.Upsert(ctx, rec, req.Context); err != nil {
			zap.L().Warn("pipeline: persist failed",
				zap.String("domain", req.Context.Domain),
				zap.Error(err),
			)
		} else {
			result.Persisted = true
		}
	} else if !upsert {
		// Exact recall hit: the row already exists and usage was bumped.
		result.Persisted = true
	}

	if result.Pattern == "" {
		return
	}
	if _, err := p.failures.UpdateWithCorrectPattern(ctx, req.Context.Domain, result.Pattern, result.Confidence); err != nil {
		zap.L().Warn("pipeline: retroactive failure correction failed",
			zap.String("domain", req.Context.Domain),
			zap.Error(err),
		)
	}
}

// recordFailure writes the attempt to failure memory so the next run on a
// similar company does not repeat it.
func (p *Pipeline) recordFailure(ctx context.Context, req model.LearnRequest, pattern model.Pattern, reason string, results []model.ValidationResult) {
	rec := model.FailureRecord{
		Domain:            req.Context.Domain,
		CompanyName:       req.Context.CompanyName,
		AttemptedPattern:  pattern,
		Sector:            req.Context.Sector,
		Region:            req.Context.Region,
		CompanySize:       req.Context.CompanySize,
		ValidationResults: results,
		FailureReason:     reason,
		FailedAt:          p.now().UTC(),
	}
	if _, err := p.failures.StoreFailure(ctx, rec); err != nil {
		zap.L().Warn("pipeline: failure record write failed",
			zap.String("domain", req.Context.Domain),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) finish(result *model.LearnResult, start time.Time, ok bool) {
	result.Latency = time.Since(start)
	if ok {
		p.metrics.LearnCompleted()
		zap.L().Info("pipeline: learn complete",
			zap.String("domain", result.Domain),
			zap.String("pattern", string(result.Pattern)),
			zap.String("source", string(result.Source)),
			zap.Float64("confidence", result.Confidence),
			zap.Bool("persisted", result.Persisted),
			zap.Float64("cost_usd", result.CostUSD),
			zap.Duration("latency", result.Latency),
		)
		return
	}
	p.metrics.LearnFailed()
	zap.L().Warn("pipeline: learn failed",
		zap.String("domain", result.Domain),
		zap.String("outcome", string(result.Outcome)),
		zap.Float64("cost_usd", result.CostUSD),
		zap.Duration("latency", result.Latency),
	)
}
