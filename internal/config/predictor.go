package config

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// PredictorConfig centralizes every tuning constant of the evidence
// aggregator in one immutable struct, so behavior is swappable without code
// changes. Loaded once at startup; request handling only reads it.
type PredictorConfig struct {
	// DirichletBeta scales the prior pseudo-counts: higher values need more
	// evidence before the posterior moves off the global prior.
	DirichletBeta float64 `yaml:"dirichlet_beta" mapstructure:"dirichlet_beta"`

	LayerWeights LayerWeights `yaml:"layer_weights" mapstructure:"layer_weights"`
	LLMGate      LLMGate      `yaml:"llm_gate" mapstructure:"llm_gate"`

	// RecencyHalfLifeDays drives exp(-age_days/halflife) decay on evidence
	// records in every layer except exact-domain.
	RecencyHalfLifeDays float64 `yaml:"recency_halflife_days" mapstructure:"recency_halflife_days"`

	// KNNGamma is the similarity exponent for neighbor weighting; the mass
	// ceiling keeps dense neighborhoods from dominating the posterior.
	KNNGamma       float64 `yaml:"knn_gamma" mapstructure:"knn_gamma"`
	KNNMassCeiling float64 `yaml:"knn_mass_ceiling" mapstructure:"knn_mass_ceiling"`
	KNNLimit       int     `yaml:"knn_limit" mapstructure:"knn_limit"`

	// MassFloor prevents exact-zero pseudo-counts; TieThreshold flags
	// near-ties between the top two candidates.
	MassFloor    float64 `yaml:"mass_floor" mapstructure:"mass_floor"`
	TieThreshold float64 `yaml:"tie_threshold" mapstructure:"tie_threshold"`

	// Per-record confidence clamp applied inside evidence layers.
	RecordConfidenceFloor   float64 `yaml:"record_confidence_floor" mapstructure:"record_confidence_floor"`
	RecordConfidenceCeiling float64 `yaml:"record_confidence_ceiling" mapstructure:"record_confidence_ceiling"`

	// Recall settings: minimum cosine similarity for a semantic hit, and
	// the failure-memory vector distance tolerance.
	RecallSimilarityThreshold float64 `yaml:"recall_similarity_threshold" mapstructure:"recall_similarity_threshold"`
	FailureDistanceTolerance  float64 `yaml:"failure_distance_tolerance" mapstructure:"failure_distance_tolerance"`
	CorrectionMinConfidence   float64 `yaml:"correction_min_confidence" mapstructure:"correction_min_confidence"`
}

// LayerWeights holds the per-layer multipliers for evidence pseudo-counts.
type LayerWeights struct {
	Domain       float64 `yaml:"domain" mapstructure:"domain"`
	KNN          float64 `yaml:"knn" mapstructure:"knn"`
	SectorRegion float64 `yaml:"sector_region" mapstructure:"sector_region"`
	Sector       float64 `yaml:"sector" mapstructure:"sector"`
	RegionTLD    float64 `yaml:"region_tld" mapstructure:"region_tld"`
	TLD          float64 `yaml:"tld" mapstructure:"tld"`
}

// LLMGate holds the arbitration escalation thresholds. Any one trigger is
// sufficient to escalate.
type LLMGate struct {
	Entropy    float64 `yaml:"entropy" mapstructure:"entropy"`
	Margin     float64 `yaml:"margin" mapstructure:"margin"`
	Confidence float64 `yaml:"confidence" mapstructure:"confidence"`
}

// DefaultPredictorConfig returns the tuned production constants.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		DirichletBeta: 8.0,
		LayerWeights: LayerWeights{
			Domain:       1.00,
			KNN:          0.70,
			SectorRegion: 0.50,
			Sector:       0.35,
			RegionTLD:    0.25,
			TLD:          0.20,
		},
		LLMGate: LLMGate{
			Entropy:    1.5,
			Margin:     0.10,
			Confidence: 0.70,
		},
		RecencyHalfLifeDays:       180,
		KNNGamma:                  2.0,
		KNNMassCeiling:            3.0,
		KNNLimit:                  10,
		MassFloor:                 1e-9,
		TieThreshold:              0.02,
		RecordConfidenceFloor:     0.70,
		RecordConfidenceCeiling:   1.0,
		RecallSimilarityThreshold: 0.75,
		FailureDistanceTolerance:  0.15,
		CorrectionMinConfidence:   0.70,
	}
}

func setPredictorDefaults(v *viper.Viper) {
	d := DefaultPredictorConfig()
	v.SetDefault("predictor.dirichlet_beta", d.DirichletBeta)
	v.SetDefault("predictor.layer_weights.domain", d.LayerWeights.Domain)
	v.SetDefault("predictor.layer_weights.knn", d.LayerWeights.KNN)
	v.SetDefault("predictor.layer_weights.sector_region", d.LayerWeights.SectorRegion)
	v.SetDefault("predictor.layer_weights.sector", d.LayerWeights.Sector)
	v.SetDefault("predictor.layer_weights.region_tld", d.LayerWeights.RegionTLD)
	v.SetDefault("predictor.layer_weights.tld", d.LayerWeights.TLD)
	v.SetDefault("predictor.llm_gate.entropy", d.LLMGate.Entropy)
	v.SetDefault("predictor.llm_gate.margin", d.LLMGate.Margin)
	v.SetDefault("predictor.llm_gate.confidence", d.LLMGate.Confidence)
	v.SetDefault("predictor.recency_halflife_days", d.RecencyHalfLifeDays)
	v.SetDefault("predictor.knn_gamma", d.KNNGamma)
	v.SetDefault("predictor.knn_mass_ceiling", d.KNNMassCeiling)
	v.SetDefault("predictor.knn_limit", d.KNNLimit)
	v.SetDefault("predictor.mass_floor", d.MassFloor)
	v.SetDefault("predictor.tie_threshold", d.TieThreshold)
	v.SetDefault("predictor.record_confidence_floor", d.RecordConfidenceFloor)
	v.SetDefault("predictor.record_confidence_ceiling", d.RecordConfidenceCeiling)
	v.SetDefault("predictor.recall_similarity_threshold", d.RecallSimilarityThreshold)
	v.SetDefault("predictor.failure_distance_tolerance", d.FailureDistanceTolerance)
	v.SetDefault("predictor.correction_min_confidence", d.CorrectionMinConfidence)
}

// LoadPredictorFile overlays a standalone YAML tuning file onto the given
// predictor config. Used for offline experiments without touching the main
// config tree.
func LoadPredictorFile(path string, base PredictorConfig) (PredictorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, eris.Wrapf(err, "config: read predictor file %s", path)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, eris.Wrapf(err, "config: parse predictor file %s", path)
	}
	return cfg, nil
}
