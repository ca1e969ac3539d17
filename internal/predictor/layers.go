package predictor

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/model"
)

// Evidence layer names, most specific first. These key the EvidenceBundle
// and the per-layer trace.
const (
	LayerDomain       = "domain"
	LayerKNN          = "knn"
	LayerSectorRegion = "sector_region"
	LayerSector       = "sector"
	LayerRegionTLD    = "region_tld"
	LayerTLD          = "tld"
	LayerGlobalFreq   = "global_freq"
)

const layerQueryLimit = 50

// recordMass converts one historical record into a pseudo-count: confidence
// clamped to the configured band, then decayed by exp(-age_days/halflife).
func (p *Predictor) recordMass(confidence float64, verifiedAt time.Time, now time.Time) float64 {
	conf := confidence
	if conf < p.cfg.RecordConfidenceFloor {
		conf = p.cfg.RecordConfidenceFloor
	}
	if conf > p.cfg.RecordConfidenceCeiling {
		conf = p.cfg.RecordConfidenceCeiling
	}

	ageDays := now.Sub(verifiedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return conf * math.Exp(-ageDays/p.cfg.RecencyHalfLifeDays)
}

// domainLayer contributes the exact-domain record, undecayed: a validated
// pattern for this very domain is definitive evidence regardless of age.
func (p *Predictor) domainLayer(ctx context.Context, c model.CompanyContext) (map[model.Pattern]float64, error) {
	rec, err := p.store.GetPattern(ctx, c.Domain)
	if err != nil {
		zap.L().Warn("predictor: domain layer query failed", zap.String("domain", c.Domain), zap.Error(err))
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	conf := rec.Confidence
	if conf < p.cfg.RecordConfidenceFloor {
		conf = p.cfg.RecordConfidenceFloor
	}
	return map[model.Pattern]float64{rec.Pattern: conf}, nil
}

// knnLayer contributes similarity-weighted neighbors. Each neighbor's mass
// is record mass × similarity^gamma; the layer total is capped so dense
// neighborhoods cannot drown the other layers.
func (p *Predictor) knnLayer(ctx context.Context, c model.CompanyContext, now time.Time) (map[model.Pattern]float64, error) {
	vec, err := p.embedder.Embed(ctx, c.EmbeddingText())
	if err != nil {
		zap.L().Warn("predictor: knn layer embedding failed", zap.String("domain", c.Domain), zap.Error(err))
		return nil, err
	}

	neighbors, err := p.store.SearchPatternsByEmbedding(ctx, vec, p.cfg.KNNLimit)
	if err != nil {
		zap.L().Warn("predictor: knn layer search failed", zap.String("domain", c.Domain), zap.Error(err))
		return nil, err
	}

	counts := make(map[model.Pattern]float64)
	total := 0.0
	for _, n := range neighbors {
		if n.Record.Domain == c.Domain {
			continue // the exact record is the domain layer's business
		}
		if n.Similarity <= 0 {
			continue
		}
		mass := p.recordMass(n.Record.Confidence, n.Record.VerifiedAt, now) *
			math.Pow(n.Similarity, p.cfg.KNNGamma)
		counts[n.Record.Pattern] += mass
		total += mass
	}

	if total > p.cfg.KNNMassCeiling && total > 0 {
		scale := p.cfg.KNNMassCeiling / total
		for pat := range counts {
			counts[pat] *= scale
		}
	}
	return counts, nil
}

// recordsLayer sums decayed record masses per pattern for a list query.
func (p *Predictor) recordsLayer(name string, recs []model.PatternRecord, err error, skip string, now time.Time) (map[model.Pattern]float64, error) {
	if err != nil {
		zap.L().Warn("predictor: layer query failed", zap.String("layer", name), zap.Error(err))
		return nil, err
	}
	counts := make(map[model.Pattern]float64)
	for _, rec := range recs {
		if rec.Domain == skip {
			continue
		}
		counts[rec.Pattern] += p.recordMass(rec.Confidence, rec.VerifiedAt, now)
	}
	return counts, nil
}

// gatherEvidence queries all layers and assembles the bundle. A failed layer
// degrades to an absent layer; the error count lets the caller distinguish a
// genuine cold start from a broken backend.
func (p *Predictor) gatherEvidence(ctx context.Context, c model.CompanyContext, now time.Time) (model.EvidenceBundle, int) {
	bundle := make(model.EvidenceBundle)
	errs := 0

	add := func(layer string, counts map[model.Pattern]float64, err error) {
		if err != nil {
			errs++
			return
		}
		if len(counts) > 0 {
			bundle[layer] = counts
		}
	}

	counts, err := p.domainLayer(ctx, c)
	add(LayerDomain, counts, err)

	counts, err = p.knnLayer(ctx, c, now)
	add(LayerKNN, counts, err)

	if c.Sector != "" && c.Region != "" {
		recs, qerr := p.store.FindPatternsBySectorRegion(ctx, c.Sector, c.Region, layerQueryLimit)
		counts, err = p.recordsLayer(LayerSectorRegion, recs, qerr, c.Domain, now)
		add(LayerSectorRegion, counts, err)
	}
	if c.Sector != "" {
		recs, qerr := p.store.FindPatternsBySector(ctx, c.Sector, layerQueryLimit)
		counts, err = p.recordsLayer(LayerSector, recs, qerr, c.Domain, now)
		add(LayerSector, counts, err)
	}
	if tld := c.TLD(); tld != "" {
		if c.Region != "" {
			recs, qerr := p.store.FindPatternsByRegionTLD(ctx, c.Region, tld, layerQueryLimit)
			counts, err = p.recordsLayer(LayerRegionTLD, recs, qerr, c.Domain, now)
			add(LayerRegionTLD, counts, err)
		}
		recs, qerr := p.store.FindPatternsByTLD(ctx, tld, layerQueryLimit)
		counts, err = p.recordsLayer(LayerTLD, recs, qerr, c.Domain, now)
		add(LayerTLD, counts, err)
	}

	return bundle, errs
}

// layerWeight maps a layer name to its configured multiplier.
func (p *Predictor) layerWeight(layer string) float64 {
	switch layer {
	case LayerDomain:
		return p.cfg.LayerWeights.Domain
	case LayerKNN:
		return p.cfg.LayerWeights.KNN
	case LayerSectorRegion:
		return p.cfg.LayerWeights.SectorRegion
	case LayerSector:
		return p.cfg.LayerWeights.Sector
	case LayerRegionTLD:
		return p.cfg.LayerWeights.RegionTLD
	case LayerTLD:
		return p.cfg.LayerWeights.TLD
	default:
		return 0
	}
}
