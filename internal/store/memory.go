package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/sells-group/email-intel/internal/model"
)

// MemoryStore is an in-process Store used in tests and for ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	patterns map[string]model.PatternRecord // keyed by domain
	failures map[string]model.FailureRecord // keyed by id
	verify   map[string]cachedVerification
	now      func() time.Time
}

type cachedVerification struct {
	result    model.ValidationResult
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		patterns: make(map[string]model.PatternRecord),
		failures: make(map[string]model.FailureRecord),
		verify:   make(map[string]cachedVerification),
		now:      time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (s *MemoryStore) WithNow(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) GetPattern(_ context.Context, domain string) (*model.PatternRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.patterns[domain]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) UpsertPattern(_ context.Context, rec model.PatternRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = s.now().UTC()
	}
	if prev, ok := s.patterns[rec.Domain]; ok {
		rec.ID = prev.ID
		rec.UsageCount = prev.UsageCount + 1
	}
	s.patterns[rec.Domain] = rec
	return nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.patterns[domain]; ok {
		rec.UsageCount++
		s.patterns[domain] = rec
	}
	return nil
}

func (s *MemoryStore) SearchPatternsByEmbedding(_ context.Context, embedding pgvector.Vector, limit int) ([]PatternNeighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := embedding.Slice()
	var out []PatternNeighbor
	for _, rec := range s.patterns {
		if len(rec.Embedding.Slice()) == 0 {
			continue
		}
		out = append(out, PatternNeighbor{
			Record:     rec,
			Similarity: CosineSimilarity(query, rec.Embedding.Slice()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) filterPatterns(match func(model.PatternRecord) bool, limit int) []model.PatternRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PatternRecord
	for _, rec := range s.patterns {
		if match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VerifiedAt.After(out[j].VerifiedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) FindPatternsBySectorRegion(_ context.Context, sector, region string, limit int) ([]model.PatternRecord, error) {
	return s.filterPatterns(func(r model.PatternRecord) bool {
		return r.Sector == sector && r.Region == region
	}, limit), nil
}

func (s *MemoryStore) FindPatternsBySector(_ context.Context, sector string, limit int) ([]model.PatternRecord, error) {
	return s.filterPatterns(func(r model.PatternRecord) bool {
		return r.Sector == sector
	}, limit), nil
}

func (s *MemoryStore) FindPatternsByRegionTLD(_ context.Context, region, tld string, limit int) ([]model.PatternRecord, error) {
	return s.filterPatterns(func(r model.PatternRecord) bool {
		return r.Region == region && strings.HasSuffix(r.Domain, "."+tld)
	}, limit), nil
}

func (s *MemoryStore) FindPatternsByTLD(_ context.Context, tld string, limit int) ([]model.PatternRecord, error) {
	return s.filterPatterns(func(r model.PatternRecord) bool {
		return strings.HasSuffix(r.Domain, "."+tld)
	}, limit), nil
}

func (s *MemoryStore) GlobalPatternCounts(context.Context) (map[model.Pattern]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[model.Pattern]int)
	for _, rec := range s.patterns {
		counts[rec.Pattern]++
	}
	return counts, nil
}

func (s *MemoryStore) InsertFailure(_ context.Context, rec model.FailureRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.FailedAt.IsZero() {
		rec.FailedAt = s.now().UTC()
	}
	s.failures[rec.ID] = rec
	return rec.ID, nil
}

func (s *MemoryStore) filterFailures(match func(model.FailureRecord) bool, limit int) []model.FailureRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FailureRecord
	for _, rec := range s.failures {
		if match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) FindFailuresExact(_ context.Context, domain string, pattern model.Pattern) ([]model.FailureRecord, error) {
	return s.filterFailures(func(r model.FailureRecord) bool {
		return r.Domain == domain && r.AttemptedPattern == pattern
	}, 0), nil
}

func (s *MemoryStore) FindFailuresByDomain(_ context.Context, domain string) ([]model.FailureRecord, error) {
	return s.filterFailures(func(r model.FailureRecord) bool {
		return r.Domain == domain
	}, 0), nil
}

func (s *MemoryStore) SearchFailuresByEmbedding(_ context.Context, embedding pgvector.Vector, pattern model.Pattern, maxDistance float64, limit int) ([]FailureNeighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := embedding.Slice()
	var out []FailureNeighbor
	for _, rec := range s.failures {
		if rec.Embedding == nil || (pattern != "" && rec.AttemptedPattern != pattern) {
			continue
		}
		dist := 1 - CosineSimilarity(query, rec.Embedding.Slice())
		if dist <= maxDistance {
			out = append(out, FailureNeighbor{Record: rec, Distance: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindFailuresByText(_ context.Context, sector, region string, limit int) ([]model.FailureRecord, error) {
	return s.filterFailures(func(r model.FailureRecord) bool {
		return (sector != "" && r.Sector == sector) || (region != "" && r.Region == region)
	}, limit), nil
}

func (s *MemoryStore) IncrementPreventedRepeats(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.failures[id]; ok {
			rec.PreventedRepeats++
			s.failures[id] = rec
		}
	}
	return nil
}

func (s *MemoryStore) UpdateFailuresCorrectPattern(_ context.Context, domain string, pattern model.Pattern, confidence float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	updated := 0
	for id, rec := range s.failures {
		if rec.Domain != domain || rec.CorrectPattern != nil {
			continue
		}
		p := pattern
		c := confidence
		t := now
		rec.CorrectPattern = &p
		rec.CorrectionConfidence = &c
		rec.CorrectedAt = &t
		s.failures[id] = rec
		updated++
	}
	return updated, nil
}

// Failure returns a failure record by id (test helper).
func (s *MemoryStore) Failure(id string) (model.FailureRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.failures[id]
	return rec, ok
}

func (s *MemoryStore) GetCachedVerification(_ context.Context, email string) (*model.ValidationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.verify[email]
	if !ok || entry.expiresAt.Before(s.now()) {
		return nil, nil
	}
	res := entry.result
	return &res, nil
}

func (s *MemoryStore) SetCachedVerification(_ context.Context, email string, res model.ValidationResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verify[email] = cachedVerification{result: res, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) DeleteExpiredVerifications(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for email, entry := range s.verify {
		if entry.expiresAt.Before(now) {
			delete(s.verify, email)
			n++
		}
	}
	return n, nil
}
