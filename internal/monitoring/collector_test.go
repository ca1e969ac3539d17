package monitoring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/email-intel/internal/model"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.RecallHit(model.SourceExact)
	c.RecallHit(model.SourceSemantic)
	c.RecallHit(model.SourceSemantic)
	c.OverrideSave()
	c.EmbeddingFailure()
	c.OracleCall()
	c.OracleCall()
	c.OracleCacheHit()
	c.ArbitrationCall()
	c.LearnCompleted()
	c.LearnFailed()

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.RecallExactHits)
	assert.Equal(t, int64(2), snap.RecallSemanticHits)
	assert.Equal(t, int64(1), snap.OverrideSaves)
	assert.Equal(t, int64(1), snap.EmbeddingFailures)
	assert.Equal(t, int64(2), snap.OracleCalls)
	assert.Equal(t, int64(1), snap.OracleCacheHits)
	assert.Equal(t, int64(1), snap.ArbitrationCalls)
	assert.Equal(t, int64(1), snap.LearnsCompleted)
	assert.Equal(t, int64(1), snap.LearnsFailed)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector

	c.RecallHit(model.SourceExact)
	c.OverrideSave()
	c.EmbeddingFailure()
	c.OracleCall()
	c.OracleCacheHit()
	c.ArbitrationCall()
	c.LearnCompleted()
	c.LearnFailed()

	snap := c.Snapshot()
	assert.Zero(t, snap.OracleCalls)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.OracleCall()
			c.RecallHit(model.SourceExact)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.OracleCalls)
	assert.Equal(t, int64(50), snap.RecallExactHits)
}
