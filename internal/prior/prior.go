// Package prior maintains the process-wide frequency distribution over
// canonical email patterns. Reads take an immutable snapshot; Refresh builds
// a replacement table off to the side and swaps it atomically, so in-flight
// requests never observe a partially-updated table.
package prior

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/store"
)

// Snapshot is an immutable view of the global pattern frequency
// distribution. Frequencies sum to 1 across the canonical set.
type Snapshot struct {
	Freq        map[model.Pattern]float64
	SampleCount int
	BuiltAt     time.Time
}

// Frequency returns the prior probability of a pattern, or 0 for patterns
// outside the snapshot.
func (s *Snapshot) Frequency(p model.Pattern) float64 {
	return s.Freq[p]
}

// MAP returns the highest-frequency pattern in the snapshot.
func (s *Snapshot) MAP() model.Pattern {
	best := model.PatternFirstDotLast
	bestF := -1.0
	for _, p := range model.CanonicalPatterns {
		if f := s.Freq[p]; f > bestF {
			best, bestF = p, f
		}
	}
	return best
}

// fallbackFreq is the hardcoded distribution used until enough validated
// rows exist, drawn from published corporate email format statistics.
var fallbackFreq = map[model.Pattern]float64{
	model.PatternFirstDotLast: 0.31,
	model.PatternFLast:        0.22,
	model.PatternFirstLast:    0.12,
	model.PatternFirst:        0.12,
	model.PatternFirstULast:   0.08,
	model.PatternFDotLast:     0.06,
	model.PatternLast:         0.05,
	model.PatternFirstL:       0.04,
}

// Table holds the current snapshot. Read-only during request processing;
// only Refresh replaces the snapshot.
type Table struct {
	store    store.Store
	snapshot atomic.Pointer[Snapshot]
}

// NewTable creates a Table seeded with the hardcoded fallback distribution.
// Call Refresh to load frequencies from historical data.
func NewTable(st store.Store) *Table {
	t := &Table{store: st}
	t.snapshot.Store(&Snapshot{Freq: fallbackFreq, BuiltAt: time.Now().UTC()})
	return t
}

// Snapshot returns the current immutable snapshot.
func (t *Table) Snapshot() *Snapshot {
	return t.snapshot.Load()
}

// Refresh rebuilds the distribution from aggregate validated-pattern counts
// and swaps it in atomically. An empty store keeps the fallback.
func (t *Table) Refresh(ctx context.Context) error {
	counts, err := t.store.GlobalPatternCounts(ctx)
	if err != nil {
		return eris.Wrap(err, "prior: load pattern counts")
	}

	total := 0
	for p, n := range counts {
		if !p.Known() {
			continue
		}
		total += n
	}
	if total == 0 {
		zap.L().Info("prior: no validated patterns yet, keeping fallback distribution")
		return nil
	}

	freq := make(map[model.Pattern]float64, len(model.CanonicalPatterns))
	for _, p := range model.CanonicalPatterns {
		freq[p] = float64(counts[p]) / float64(total)
	}

	next := &Snapshot{Freq: freq, SampleCount: total, BuiltAt: time.Now().UTC()}
	t.snapshot.Store(next)

	zap.L().Info("prior: refreshed global pattern distribution",
		zap.Int("samples", total),
		zap.String("map", string(next.MAP())),
	)
	return nil
}

// FallbackSnapshot returns the hardcoded distribution (used by the
// predictor's prior-only error fallback and by tests).
func FallbackSnapshot() *Snapshot {
	return &Snapshot{Freq: fallbackFreq, BuiltAt: time.Now().UTC()}
}
