package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 30, cfg.Verifier.TimeoutSecs)
	assert.Equal(t, 0.008, cfg.Pricing.PerVerification)
	assert.Equal(t, 0.015, cfg.Pricing.PerArbitration)

	assert.Equal(t, 3, cfg.Pipeline.MinContacts)
	assert.Equal(t, 3, cfg.Pipeline.ProbeCount)
	assert.Equal(t, 2, cfg.Pipeline.RequiredValid)
	assert.Equal(t, 0.75, cfg.Pipeline.RecallShortCircuit)
	assert.Equal(t, 0.70, cfg.Pipeline.PersistThreshold)
	assert.Equal(t, 5, cfg.Pipeline.VerifyBudgetPerDomain)

	assert.Equal(t, DefaultPredictorConfig(), cfg.Predictor)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("EMAILINTEL_STORE_DRIVER", "sqlite")
	t.Setenv("EMAILINTEL_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	base := Config{
		Store:     StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/emails"},
		Embedding: EmbeddingConfig{Key: "emb-key"},
		Verifier:  VerifierConfig{Key: "ver-key"},
		Anthropic: AnthropicConfig{Key: "ant-key"},
	}
	assert.NoError(t, base.Validate())

	noURL := base
	noURL.Store.DatabaseURL = ""
	assert.ErrorContains(t, noURL.Validate(), "store.database_url")

	// sqlite does not need a database URL.
	noURL.Store.Driver = "sqlite"
	assert.NoError(t, noURL.Validate())

	noEmb := base
	noEmb.Embedding.Key = ""
	assert.ErrorContains(t, noEmb.Validate(), "embedding.key")

	noVer := base
	noVer.Verifier.Key = ""
	assert.ErrorContains(t, noVer.Validate(), "verifier.key")

	noAnt := base
	noAnt.Anthropic.Key = ""
	assert.ErrorContains(t, noAnt.Validate(), "anthropic.key")
}

func TestDefaultPredictorConfig(t *testing.T) {
	d := DefaultPredictorConfig()

	assert.Equal(t, 8.0, d.DirichletBeta)
	assert.Equal(t, 1.00, d.LayerWeights.Domain)
	assert.Equal(t, 0.70, d.LayerWeights.KNN)
	assert.Equal(t, 0.20, d.LayerWeights.TLD)
	assert.Equal(t, 1.5, d.LLMGate.Entropy)
	assert.Equal(t, 0.10, d.LLMGate.Margin)
	assert.Equal(t, 0.70, d.LLMGate.Confidence)
	assert.Equal(t, 180.0, d.RecencyHalfLifeDays)
	assert.Equal(t, 10, d.KNNLimit)
	assert.Equal(t, 0.75, d.RecallSimilarityThreshold)
}

func TestLoadPredictorFile_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"dirichlet_beta: 4.0\nlayer_weights:\n  knn: 0.5\n"), 0o644))

	cfg, err := LoadPredictorFile(path, DefaultPredictorConfig())
	require.NoError(t, err)

	// Overridden keys change, everything else keeps the base values.
	assert.Equal(t, 4.0, cfg.DirichletBeta)
	assert.Equal(t, 0.5, cfg.LayerWeights.KNN)
	assert.Equal(t, 1.00, cfg.LayerWeights.Domain)
	assert.Equal(t, 1.5, cfg.LLMGate.Entropy)
}

func TestLoadPredictorFile_MissingFile(t *testing.T) {
	base := DefaultPredictorConfig()
	cfg, err := LoadPredictorFile(filepath.Join(t.TempDir(), "absent.yaml"), base)
	assert.Error(t, err)
	assert.Equal(t, base, cfg)
}
