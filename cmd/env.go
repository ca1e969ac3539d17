package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/cost"
	"github.com/sells-group/email-intel/internal/failmem"
	"github.com/sells-group/email-intel/internal/monitoring"
	"github.com/sells-group/email-intel/internal/pipeline"
	"github.com/sells-group/email-intel/internal/predictor"
	"github.com/sells-group/email-intel/internal/prior"
	"github.com/sells-group/email-intel/internal/recall"
	"github.com/sells-group/email-intel/internal/store"
	"github.com/sells-group/email-intel/pkg/arbiter"
	"github.com/sells-group/email-intel/pkg/domainhealth"
	"github.com/sells-group/email-intel/pkg/embedding"
	"github.com/sells-group/email-intel/pkg/verifier"
)

// pipelineEnv holds the initialized store, collaborator clients, and the
// pipeline needed by the learn/predict/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Priors   *prior.Table
	Metrics  *monitoring.Collector
	Failures *failmem.Memory
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured persistence backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Embedding.Dimensions, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath, cfg.Embedding.Dimensions)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, all collaborator clients, the prior table,
// and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	embedder := embedding.NewClient(cfg.Embedding.Key,
		embedding.WithBaseURL(cfg.Embedding.BaseURL),
		embedding.WithModel(cfg.Embedding.Model),
		embedding.WithDimensions(cfg.Embedding.Dimensions),
	)
	verifierClient := verifier.NewClient(cfg.Verifier.Key,
		verifier.WithBaseURL(cfg.Verifier.BaseURL),
	)
	chooser := arbiter.NewClient(cfg.Anthropic.Key,
		arbiter.WithModel(cfg.Anthropic.Model),
		arbiter.WithMaxTokens(cfg.Anthropic.MaxTokens),
	)
	health := domainhealth.NewDNSChecker()

	priors := prior.NewTable(st)
	if err := priors.Refresh(ctx); err != nil {
		zap.L().Warn("prior refresh failed, keeping fallback distribution", zap.Error(err))
	}

	metrics := monitoring.NewCollector()
	costs := cost.NewCalculator(cost.Rates{
		Verification: cost.VerificationRate{PerCall: cfg.Pricing.PerVerification},
		Arbitration:  cost.ArbitrationRate{PerCall: cfg.Pricing.PerArbitration},
		Embedding:    cost.DefaultRates().Embedding,
	})

	recaller := recall.New(st, embedder, metrics, cfg.Predictor)
	failures := failmem.New(st, embedder, costs, metrics, cfg.Predictor)
	pred := predictor.New(st, embedder, priors, cfg.Predictor)

	p := pipeline.New(cfg, st, recaller, failures, pred, chooser, verifierClient, health, costs, metrics)

	return &pipelineEnv{
		Store:    st,
		Pipeline: p,
		Priors:   priors,
		Metrics:  metrics,
		Failures: failures,
	}, nil
}
