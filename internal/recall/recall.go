// Package recall retrieves previously validated patterns by exact domain
// key or by semantic similarity over company-context embeddings. It never
// invents a match: below-threshold similarity and provider failures both
// come back as a miss.
package recall

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/config"
	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/monitoring"
	"github.com/sells-group/email-intel/internal/store"
	"github.com/sells-group/email-intel/pkg/embedding"
)

const (
	knnLimit = 5

	decayAfter180 = 0.90
	decayAfter365 = 0.85
)

// Recaller looks up validated patterns and writes new ones back.
type Recaller struct {
	store    store.Store
	embedder embedding.Provider
	metrics  *monitoring.Collector
	cfg      config.PredictorConfig
	now      func() time.Time
}

// New creates a Recaller. The semantic similarity threshold comes from the
// predictor config.
func New(s store.Store, e embedding.Provider, m *monitoring.Collector, cfg config.PredictorConfig) *Recaller {
	return &Recaller{store: s, embedder: e, metrics: m, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock, for tests exercising age decay.
func (r *Recaller) WithNow(now func() time.Time) *Recaller {
	r.now = now
	return r
}

// ageDecay discounts stored confidence for records past the staleness
// thresholds. Within 180 days the stored value stands as-is.
func (r *Recaller) ageDecay(confidence float64, verifiedAt time.Time) float64 {
	age := r.now().Sub(verifiedAt)
	switch {
	case age > 365*24*time.Hour:
		return confidence * decayAfter365
	case age > 180*24*time.Hour:
		return confidence * decayAfter180
	default:
		return confidence
	}
}

// Recall looks up a pattern for the domain, exact key first, then semantic
// neighbors. A nil result with nil error means no confident match exists.
// Embedding-provider failures degrade to a miss rather than an error.
func (r *Recaller) Recall(ctx context.Context, c model.CompanyContext) (*model.PatternMatch, error) {
	rec, err := r.store.GetPattern(ctx, c.Domain)
	if err != nil {
		return nil, eris.Wrap(err, "recall: exact lookup")
	}
	if rec != nil {
		if err := r.store.IncrementUsage(ctx, c.Domain); err != nil {
			zap.L().Warn("recall: usage increment failed", zap.String("domain", c.Domain), zap.Error(err))
		}
		r.metrics.RecallHit(model.SourceExact)
		return &model.PatternMatch{
			Domain:     rec.Domain,
			Pattern:    rec.Pattern,
			Confidence: r.ageDecay(rec.Confidence, rec.VerifiedAt),
			Similarity: 1.0,
			Source:     model.SourceExact,
			VerifiedAt: rec.VerifiedAt,
		}, nil
	}

	vec, err := r.embedder.Embed(ctx, c.EmbeddingText())
	if err != nil {
		zap.L().Warn("recall: embedding failed, treating as miss",
			zap.String("domain", c.Domain),
			zap.Error(err),
		)
		r.metrics.EmbeddingFailure()
		return nil, nil
	}

	neighbors, err := r.store.SearchPatternsByEmbedding(ctx, vec, knnLimit)
	if err != nil {
		return nil, eris.Wrap(err, "recall: semantic search")
	}
	for _, n := range neighbors {
		if n.Similarity < r.cfg.RecallSimilarityThreshold {
			break // results come back ordered by similarity
		}
		if n.Record.Domain == c.Domain {
			continue
		}
		r.metrics.RecallHit(model.SourceSemantic)
		return &model.PatternMatch{
			Domain:     n.Record.Domain,
			Pattern:    n.Record.Pattern,
			Confidence: r.ageDecay(n.Record.Confidence*n.Similarity, n.Record.VerifiedAt),
			Similarity: n.Similarity,
			Source:     model.SourceSemantic,
			VerifiedAt: n.Record.VerifiedAt,
		}, nil
	}
	return nil, nil
}

// Upsert embeds the record's company context and writes it keyed by domain.
// A provider embedding whose width differs from the schema is a fatal
// configuration error, never silently adjusted.
func (r *Recaller) Upsert(ctx context.Context, rec model.PatternRecord, c model.CompanyContext) error {
	vec, err := r.embedder.Embed(ctx, c.EmbeddingText())
	if err != nil {
		var mismatch *embedding.DimensionMismatchError
		if !errors.As(err, &mismatch) {
			r.metrics.EmbeddingFailure()
		}
		return eris.Wrap(err, "recall: upsert embedding")
	}
	rec.Embedding = vec

	if err := r.store.UpsertPattern(ctx, rec); err != nil {
		return eris.Wrap(err, "recall: upsert pattern")
	}
	return nil
}
