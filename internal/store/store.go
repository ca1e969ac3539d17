package store

import (
	"context"
	"math"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/sells-group/email-intel/internal/model"
)

// PatternNeighbor is a pattern record returned by vector search together
// with its cosine similarity to the query embedding.
type PatternNeighbor struct {
	Record     model.PatternRecord
	Similarity float64
}

// FailureNeighbor is a failure record returned by vector search together
// with its cosine distance from the query embedding (lower is closer).
type FailureNeighbor struct {
	Record   model.FailureRecord
	Distance float64
}

// Store defines the persistence interface for the pattern intelligence core:
// a domain-keyed pattern table with a vector column, an append-plus-correct
// failure table, a global-prior aggregate, and a verification result cache.
type Store interface {
	// Patterns
	GetPattern(ctx context.Context, domain string) (*model.PatternRecord, error)
	UpsertPattern(ctx context.Context, rec model.PatternRecord) error
	IncrementUsage(ctx context.Context, domain string) error
	SearchPatternsByEmbedding(ctx context.Context, embedding pgvector.Vector, limit int) ([]PatternNeighbor, error)
	FindPatternsBySectorRegion(ctx context.Context, sector, region string, limit int) ([]model.PatternRecord, error)
	FindPatternsBySector(ctx context.Context, sector string, limit int) ([]model.PatternRecord, error)
	FindPatternsByRegionTLD(ctx context.Context, region, tld string, limit int) ([]model.PatternRecord, error)
	FindPatternsByTLD(ctx context.Context, tld string, limit int) ([]model.PatternRecord, error)
	GlobalPatternCounts(ctx context.Context) (map[model.Pattern]int, error)

	// Failures
	InsertFailure(ctx context.Context, rec model.FailureRecord) (string, error)
	FindFailuresExact(ctx context.Context, domain string, pattern model.Pattern) ([]model.FailureRecord, error)
	FindFailuresByDomain(ctx context.Context, domain string) ([]model.FailureRecord, error)
	// SearchFailuresByEmbedding restricts to the attempted pattern when one
	// is given; an empty pattern searches across all attempts.
	SearchFailuresByEmbedding(ctx context.Context, embedding pgvector.Vector, pattern model.Pattern, maxDistance float64, limit int) ([]FailureNeighbor, error)
	FindFailuresByText(ctx context.Context, sector, region string, limit int) ([]model.FailureRecord, error)
	IncrementPreventedRepeats(ctx context.Context, ids []string) error
	UpdateFailuresCorrectPattern(ctx context.Context, domain string, pattern model.Pattern, confidence float64) (int, error)

	// Verification cache
	GetCachedVerification(ctx context.Context, email string) (*model.ValidationResult, error)
	SetCachedVerification(ctx context.Context, email string, res model.ValidationResult, ttl time.Duration) error
	DeleteExpiredVerifications(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// CosineSimilarity computes the cosine similarity of two vectors of equal
// length. Used by the non-pgvector backends; returns 0 for mismatched or
// zero-magnitude inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
