package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Verifier  VerifierConfig  `yaml:"verifier" mapstructure:"verifier"`
	Predictor PredictorConfig `yaml:"predictor" mapstructure:"predictor"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres | sqlite | memory
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Model      string `yaml:"model" mapstructure:"model"`
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
}

// AnthropicConfig holds the arbitration model settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// VerifierConfig holds email validation oracle settings.
type VerifierConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PricingConfig holds per-call provider pricing for cost attribution.
type PricingConfig struct {
	PerVerification float64 `yaml:"per_verification" mapstructure:"per_verification"`
	PerArbitration  float64 `yaml:"per_arbitration" mapstructure:"per_arbitration"`
}

// PipelineConfig configures the learn pipeline.
type PipelineConfig struct {
	MinContacts           int     `yaml:"min_contacts" mapstructure:"min_contacts"`
	ProbeCount            int     `yaml:"probe_count" mapstructure:"probe_count"`
	RequiredValid         int     `yaml:"required_valid" mapstructure:"required_valid"`
	RecallShortCircuit    float64 `yaml:"recall_short_circuit" mapstructure:"recall_short_circuit"`
	PersistThreshold      float64 `yaml:"persist_threshold" mapstructure:"persist_threshold"`
	HintMinConfidence     float64 `yaml:"hint_min_confidence" mapstructure:"hint_min_confidence"`
	VerifyBudgetPerDomain int     `yaml:"verify_budget_per_domain" mapstructure:"verify_budget_per_domain"`
	VerifyBudgetHours     int     `yaml:"verify_budget_hours" mapstructure:"verify_budget_hours"`
	VerifyCacheHours      int     `yaml:"verify_cache_hours" mapstructure:"verify_cache_hours"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EMAILINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "email-intel.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("verifier.base_url", "https://api.emailable.com/v1")
	v.SetDefault("verifier.timeout_secs", 30)
	v.SetDefault("pricing.per_verification", 0.008)
	v.SetDefault("pricing.per_arbitration", 0.015)
	v.SetDefault("pipeline.min_contacts", 3)
	v.SetDefault("pipeline.probe_count", 3)
	v.SetDefault("pipeline.required_valid", 2)
	v.SetDefault("pipeline.recall_short_circuit", 0.75)
	v.SetDefault("pipeline.persist_threshold", 0.70)
	v.SetDefault("pipeline.hint_min_confidence", 0.6)
	v.SetDefault("pipeline.verify_budget_per_domain", 5)
	v.SetDefault("pipeline.verify_budget_hours", 24)
	v.SetDefault("pipeline.verify_cache_hours", 24)
	setPredictorDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that credentials required by enabled collaborators are
// present. Missing credentials are configuration errors, reported before any
// prediction work starts, never degraded silently.
func (c *Config) Validate() error {
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for the postgres driver")
	}
	if c.Embedding.Key == "" {
		return eris.New("config: embedding.key is required")
	}
	if c.Verifier.Key == "" {
		return eris.New("config: verifier.key is required")
	}
	if c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key is required")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
