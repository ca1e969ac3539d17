// Package failmem remembers attempted patterns that failed validation and
// turns later corrections into overrides, so the pipeline never pays twice
// for the same mistake.
package failmem

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/config"
	"github.com/sells-group/email-intel/internal/cost"
	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/monitoring"
	"github.com/sells-group/email-intel/internal/store"
	"github.com/sells-group/email-intel/pkg/embedding"
)

const (
	searchLimit       = 10
	textFallbackLimit = 10
)

// Memory stores validation failures and recommends corrections.
type Memory struct {
	store    store.Store
	embedder embedding.Provider
	costs    *cost.Calculator
	metrics  *monitoring.Collector
	cfg      config.PredictorConfig
}

// New creates a failure Memory. The vector distance tolerance and the
// correction confidence cutoff come from the predictor config.
func New(s store.Store, e embedding.Provider, costs *cost.Calculator, m *monitoring.Collector, cfg config.PredictorConfig) *Memory {
	return &Memory{store: s, embedder: e, costs: costs, metrics: m, cfg: cfg}
}

// failureText renders the descriptive string embedded for similarity search.
func failureText(rec model.FailureRecord) string {
	return fmt.Sprintf("company %s, domain %s, sector %s, region %s, attempted pattern %s",
		rec.CompanyName, rec.Domain, rec.Sector, rec.Region, rec.AttemptedPattern)
}

// StoreFailure embeds a descriptive string for the failure and persists it.
// Embedding failure is tolerated: the record is stored without a vector and
// future lookups fall back to text matching.
func (m *Memory) StoreFailure(ctx context.Context, rec model.FailureRecord) (string, error) {
	vec, err := m.embedder.Embed(ctx, failureText(rec))
	if err != nil {
		zap.L().Warn("failmem: embedding failed, storing failure without vector",
			zap.String("domain", rec.Domain),
			zap.Error(err),
		)
		m.metrics.EmbeddingFailure()
	} else {
		rec.Embedding = &vec
	}

	id, err := m.store.InsertFailure(ctx, rec)
	if err != nil {
		return "", eris.Wrap(err, "failmem: insert failure")
	}
	return id, nil
}

// FindSimilarFailures looks up past failures resembling the context, most
// specific first: exact domain(+pattern) matches, then vector neighbors,
// then a sector-or-region text fallback when no embedding path succeeds.
// attempted may be empty to search across all attempted patterns.
func (m *Memory) FindSimilarFailures(ctx context.Context, c model.CompanyContext, attempted model.Pattern) ([]model.FailureRecord, error) {
	var exact []model.FailureRecord
	var err error
	if attempted != "" {
		exact, err = m.store.FindFailuresExact(ctx, c.Domain, attempted)
	} else {
		exact, err = m.store.FindFailuresByDomain(ctx, c.Domain)
	}
	if err != nil {
		return nil, eris.Wrap(err, "failmem: exact lookup")
	}

	out := exact
	seen := make(map[string]bool, len(exact))
	for _, rec := range exact {
		seen[rec.ID] = true
	}

	vec, embErr := m.embedder.Embed(ctx, c.EmbeddingText())
	if embErr == nil {
		neighbors, err := m.store.SearchFailuresByEmbedding(ctx, vec, attempted, m.cfg.FailureDistanceTolerance, searchLimit)
		if err != nil {
			return nil, eris.Wrap(err, "failmem: vector search")
		}
		for _, n := range neighbors {
			if !seen[n.Record.ID] {
				seen[n.Record.ID] = true
				out = append(out, n.Record)
			}
		}
		return out, nil
	}

	zap.L().Warn("failmem: embedding failed, using text fallback",
		zap.String("domain", c.Domain),
		zap.Error(embErr),
	)
	m.metrics.EmbeddingFailure()

	textMatches, err := m.store.FindFailuresByText(ctx, c.Sector, c.Region, textFallbackLimit)
	if err != nil {
		return nil, eris.Wrap(err, "failmem: text fallback")
	}
	for _, rec := range textMatches {
		if attempted != "" && rec.AttemptedPattern != attempted {
			continue
		}
		if !seen[rec.ID] {
			seen[rec.ID] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

// CheckForOverride recommends a corrected pattern when similar past failures
// carry a confident correction. The most frequent corrected pattern wins by
// majority vote, with confidence averaged across the agreeing records, and
// each contributing record's prevented_repeats counter is bumped.
func (m *Memory) CheckForOverride(ctx context.Context, c model.CompanyContext) (*model.Override, error) {
	similar, err := m.FindSimilarFailures(ctx, c, "")
	if err != nil {
		return nil, err
	}

	votes := make(map[model.Pattern][]model.FailureRecord)
	for _, rec := range similar {
		if rec.CorrectPattern == nil || rec.CorrectionConfidence == nil {
			continue
		}
		if *rec.CorrectionConfidence < m.cfg.CorrectionMinConfidence {
			continue
		}
		votes[*rec.CorrectPattern] = append(votes[*rec.CorrectPattern], rec)
	}
	if len(votes) == 0 {
		return nil, nil
	}

	var winner model.Pattern
	for pat, recs := range votes {
		if winner == "" || len(recs) > len(votes[winner]) ||
			(len(recs) == len(votes[winner]) && pat < winner) {
			winner = pat
		}
	}

	agreeing := votes[winner]
	sum := 0.0
	ids := make([]string, 0, len(agreeing))
	for _, rec := range agreeing {
		sum += *rec.CorrectionConfidence
		ids = append(ids, rec.ID)
	}

	if err := m.store.IncrementPreventedRepeats(ctx, ids); err != nil {
		zap.L().Warn("failmem: prevented_repeats increment failed",
			zap.String("domain", c.Domain),
			zap.Error(err),
		)
	}
	m.metrics.OverrideSave()

	return &model.Override{
		RecommendedPattern: winner,
		Confidence:         sum / float64(len(agreeing)),
		BasedOnFailures:    len(agreeing),
		SavingsUSD:         m.costs.ArbitrationSavings(1),
	}, nil
}

// UpdateWithCorrectPattern fans a validated pattern out to every unresolved
// failure for the domain. Returns the number of records corrected.
func (m *Memory) UpdateWithCorrectPattern(ctx context.Context, domain string, pattern model.Pattern, confidence float64) (int, error) {
	n, err := m.store.UpdateFailuresCorrectPattern(ctx, domain, pattern, confidence)
	if err != nil {
		return 0, eris.Wrap(err, "failmem: update correct pattern")
	}
	if n > 0 {
		zap.L().Info("failmem: corrected prior failures",
			zap.String("domain", domain),
			zap.String("pattern", string(pattern)),
			zap.Int("updated", n),
		)
	}
	return n, nil
}
