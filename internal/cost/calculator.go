// Package cost attributes per-call spend for the paid collaborators: the
// validation oracle, the arbitration model, and the embedding provider.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Verification VerificationRate `yaml:"verification" mapstructure:"verification"`
	Arbitration  ArbitrationRate  `yaml:"arbitration" mapstructure:"arbitration"`
	Embedding    EmbeddingRate    `yaml:"embedding" mapstructure:"embedding"`
}

// VerificationRate holds validation-oracle pricing.
type VerificationRate struct {
	PerCall float64 `yaml:"per_call" mapstructure:"per_call"`
}

// ArbitrationRate holds reasoning-service pricing, flat per decision.
type ArbitrationRate struct {
	PerCall float64 `yaml:"per_call" mapstructure:"per_call"`
}

// EmbeddingRate holds embedding pricing (per million tokens).
type EmbeddingRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Verifications returns the cost of n validation-oracle calls.
func (c *Calculator) Verifications(n int) float64 {
	return float64(n) * c.rates.Verification.PerCall
}

// Arbitration returns the flat cost per arbitration decision.
func (c *Calculator) Arbitration() float64 {
	return c.rates.Arbitration.PerCall
}

// Embedding returns the cost for embedding token usage.
func (c *Calculator) Embedding(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.Embedding.PerMTok
}

// ArbitrationSavings estimates the spend avoided by skipping arbitration,
// used by the failure-memory override path to report savings.
func (c *Calculator) ArbitrationSavings(skipped int) float64 {
	return float64(skipped) * c.rates.Arbitration.PerCall
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Verification: VerificationRate{PerCall: 0.008},
		Arbitration:  ArbitrationRate{PerCall: 0.015},
		Embedding:    EmbeddingRate{PerMTok: 0.02},
	}
}
