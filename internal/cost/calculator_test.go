package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifications(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.InDelta(t, 0.024, c.Verifications(3), 1e-9)
	assert.Zero(t, c.Verifications(0))
}

func TestArbitration(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.InDelta(t, 0.015, c.Arbitration(), 1e-9)
}

func TestEmbedding(t *testing.T) {
	c := NewCalculator(DefaultRates())
	// 50k tokens at $0.02 per million.
	assert.InDelta(t, 0.001, c.Embedding(50_000), 1e-9)
}

func TestArbitrationSavings(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.InDelta(t, 0.045, c.ArbitrationSavings(3), 1e-9)
}

func TestCustomRates(t *testing.T) {
	c := NewCalculator(Rates{
		Verification: VerificationRate{PerCall: 0.01},
		Arbitration:  ArbitrationRate{PerCall: 0.05},
	})
	assert.InDelta(t, 0.02, c.Verifications(2), 1e-9)
	assert.InDelta(t, 0.05, c.Arbitration(), 1e-9)
}
