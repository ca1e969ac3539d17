// Package monitoring tracks in-process counters for the learning pipeline:
// recall hits, override saves, oracle and arbitration call volume, and cache
// effectiveness. Counters are cheap atomics so hot paths never block.
package monitoring

import (
	"sync/atomic"
	"time"

	"github.com/sells-group/email-intel/internal/model"
)

// MetricsSnapshot holds a point-in-time view of pipeline activity since
// process start.
type MetricsSnapshot struct {
	RecallExactHits    int64 `json:"recall_exact_hits"`
	RecallSemanticHits int64 `json:"recall_semantic_hits"`
	OverrideSaves      int64 `json:"override_saves"`
	EmbeddingFailures  int64 `json:"embedding_failures"`

	OracleCalls      int64 `json:"oracle_calls"`
	OracleCacheHits  int64 `json:"oracle_cache_hits"`
	ArbitrationCalls int64 `json:"arbitration_calls"`

	LearnsCompleted int64 `json:"learns_completed"`
	LearnsFailed    int64 `json:"learns_failed"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector accumulates pipeline counters. The zero value is not usable;
// construct with NewCollector. A nil Collector is safe: every method is a
// no-op, so wiring metrics stays optional in tests.
type Collector struct {
	recallExact    atomic.Int64
	recallSemantic atomic.Int64
	overrideSaves  atomic.Int64
	embedFailures  atomic.Int64

	oracleCalls     atomic.Int64
	oracleCacheHits atomic.Int64
	arbitrations    atomic.Int64

	learnsCompleted atomic.Int64
	learnsFailed    atomic.Int64
}

// NewCollector creates a Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecallHit records a recall result by provenance.
func (c *Collector) RecallHit(source model.PatternSource) {
	if c == nil {
		return
	}
	if source == model.SourceSemantic {
		c.recallSemantic.Add(1)
		return
	}
	c.recallExact.Add(1)
}

// OverrideSave records a failure-memory override preventing a repeat mistake.
func (c *Collector) OverrideSave() {
	if c == nil {
		return
	}
	c.overrideSaves.Add(1)
}

// EmbeddingFailure records an embedding-provider error that degraded to a
// miss or a vectorless write.
func (c *Collector) EmbeddingFailure() {
	if c == nil {
		return
	}
	c.embedFailures.Add(1)
}

// OracleCall records one paid call to the validation oracle.
func (c *Collector) OracleCall() {
	if c == nil {
		return
	}
	c.oracleCalls.Add(1)
}

// OracleCacheHit records a verification served from the 24h result cache.
func (c *Collector) OracleCacheHit() {
	if c == nil {
		return
	}
	c.oracleCacheHits.Add(1)
}

// ArbitrationCall records one call to the reasoning service.
func (c *Collector) ArbitrationCall() {
	if c == nil {
		return
	}
	c.arbitrations.Add(1)
}

// LearnCompleted records a pipeline run that produced a validated pattern.
func (c *Collector) LearnCompleted() {
	if c == nil {
		return
	}
	c.learnsCompleted.Add(1)
}

// LearnFailed records a pipeline run ending in a terminal failure outcome.
func (c *Collector) LearnFailed() {
	if c == nil {
		return
	}
	c.learnsFailed.Add(1)
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() *MetricsSnapshot {
	if c == nil {
		return &MetricsSnapshot{CollectedAt: time.Now().UTC()}
	}
	return &MetricsSnapshot{
		RecallExactHits:    c.recallExact.Load(),
		RecallSemanticHits: c.recallSemantic.Load(),
		OverrideSaves:      c.overrideSaves.Load(),
		EmbeddingFailures:  c.embedFailures.Load(),
		OracleCalls:        c.oracleCalls.Load(),
		OracleCacheHits:    c.oracleCacheHits.Load(),
		ArbitrationCalls:   c.arbitrations.Load(),
		LearnsCompleted:    c.learnsCompleted.Load(),
		LearnsFailed:       c.learnsFailed.Load(),
		CollectedAt:        time.Now().UTC(),
	}
}
