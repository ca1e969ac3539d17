package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/db"
	"github.com/sells-group/email-intel/internal/model"
)

// PostgresStore implements Store using pgxpool with pgvector for
// nearest-neighbor search over company-context embeddings.
type PostgresStore struct {
	pool    db.Pool
	dims    int
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool. dims is the
// embedding width the schema is created with; it must match the embedding
// provider's output exactly.
func NewPostgres(ctx context.Context, connString string, dims int, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Register pgvector types on each new connection so vector parameters
	// and scans use the native codec.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			zap.L().Debug("postgres: pgvector types not registered (extension may not exist yet)",
				zap.Error(err))
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, dims: dims, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool db.Pool, dims int) *PostgresStore {
	return &PostgresStore{pool: pool, dims: dims}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS email_patterns (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	domain       TEXT NOT NULL UNIQUE,
	pattern      TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	sector       TEXT NOT NULL DEFAULT '',
	region       TEXT NOT NULL DEFAULT '',
	company_size TEXT NOT NULL DEFAULT '',
	embedding    VECTOR(%d),
	source       TEXT NOT NULL DEFAULT 'rules',
	verified_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	usage_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pattern_failures (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	domain                TEXT NOT NULL,
	company_name          TEXT NOT NULL DEFAULT '',
	attempted_pattern     TEXT NOT NULL,
	sector                TEXT NOT NULL DEFAULT '',
	region                TEXT NOT NULL DEFAULT '',
	company_size          TEXT NOT NULL DEFAULT '',
	validation_results    JSONB,
	failure_reason        TEXT NOT NULL DEFAULT '',
	embedding             VECTOR(%d),
	correct_pattern       TEXT,
	correction_confidence DOUBLE PRECISION,
	prevented_repeats     INTEGER NOT NULL DEFAULT 0,
	failed_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	corrected_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS verify_cache (
	email      TEXT PRIMARY KEY,
	result     JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_email_patterns_sector_region ON email_patterns(sector, region);
CREATE INDEX IF NOT EXISTS idx_email_patterns_sector ON email_patterns(sector);
CREATE INDEX IF NOT EXISTS idx_pattern_failures_domain ON pattern_failures(domain);
CREATE INDEX IF NOT EXISTS idx_pattern_failures_domain_pattern ON pattern_failures(domain, attempted_pattern);
CREATE INDEX IF NOT EXISTS idx_verify_cache_expires_at ON verify_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(postgresMigration, s.dims, s.dims))
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const patternColumns = `id, domain, pattern, confidence, sector, region, company_size, embedding, source, verified_at, usage_count`

func scanPattern(row pgx.Row) (*model.PatternRecord, error) {
	var rec model.PatternRecord
	var pattern string
	var source string
	var embedding *pgvector.Vector
	err := row.Scan(&rec.ID, &rec.Domain, &pattern, &rec.Confidence, &rec.Sector,
		&rec.Region, &rec.CompanySize, &embedding, &source, &rec.VerifiedAt, &rec.UsageCount)
	if err != nil {
		return nil, err
	}
	rec.Pattern = model.Pattern(pattern)
	rec.Source = model.PatternSource(source)
	if embedding != nil {
		rec.Embedding = *embedding
	}
	return &rec, nil
}

func (s *PostgresStore) GetPattern(ctx context.Context, domain string) (*model.PatternRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM email_patterns WHERE domain = $1`, domain)
	rec, err := scanPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get pattern")
	}
	return rec, nil
}

// UpsertPattern inserts or updates the single row for a domain. First writer
// wins on concurrent inserts; the later writer's refresh lands as an update.
func (s *PostgresStore) UpsertPattern(ctx context.Context, rec model.PatternRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_patterns (id, domain, pattern, confidence, sector, region, company_size, embedding, source, verified_at, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (domain) DO UPDATE SET
			pattern      = EXCLUDED.pattern,
			confidence   = EXCLUDED.confidence,
			sector       = EXCLUDED.sector,
			region       = EXCLUDED.region,
			company_size = EXCLUDED.company_size,
			embedding    = EXCLUDED.embedding,
			source       = EXCLUDED.source,
			verified_at  = EXCLUDED.verified_at,
			usage_count  = email_patterns.usage_count + 1`,
		rec.ID, rec.Domain, string(rec.Pattern), rec.Confidence, rec.Sector, rec.Region,
		rec.CompanySize, rec.Embedding, string(rec.Source), rec.VerifiedAt, rec.UsageCount)
	return eris.Wrap(err, "postgres: upsert pattern")
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, domain string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE email_patterns SET usage_count = usage_count + 1 WHERE domain = $1`, domain)
	return eris.Wrap(err, "postgres: increment usage")
}

func (s *PostgresStore) SearchPatternsByEmbedding(ctx context.Context, embedding pgvector.Vector, limit int) ([]PatternNeighbor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+patternColumns+`, 1 - (embedding <=> $1) AS similarity
		FROM email_patterns
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, embedding, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search patterns")
	}
	defer rows.Close()

	var out []PatternNeighbor
	for rows.Next() {
		var rec model.PatternRecord
		var pattern, source string
		var emb *pgvector.Vector
		var sim float64
		if err := rows.Scan(&rec.ID, &rec.Domain, &pattern, &rec.Confidence, &rec.Sector,
			&rec.Region, &rec.CompanySize, &emb, &source, &rec.VerifiedAt, &rec.UsageCount, &sim); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pattern neighbor")
		}
		rec.Pattern = model.Pattern(pattern)
		rec.Source = model.PatternSource(source)
		if emb != nil {
			rec.Embedding = *emb
		}
		out = append(out, PatternNeighbor{Record: rec, Similarity: sim})
	}
	return out, eris.Wrap(rows.Err(), "postgres: search patterns rows")
}

func (s *PostgresStore) findPatterns(ctx context.Context, where string, limit int, args ...any) ([]model.PatternRecord, error) {
	query := `SELECT ` + patternColumns + ` FROM email_patterns WHERE ` + where +
		fmt.Sprintf(` ORDER BY verified_at DESC LIMIT %d`, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find patterns")
	}
	defer rows.Close()

	var out []model.PatternRecord
	for rows.Next() {
		var rec model.PatternRecord
		var pattern, source string
		var emb *pgvector.Vector
		if err := rows.Scan(&rec.ID, &rec.Domain, &pattern, &rec.Confidence, &rec.Sector,
			&rec.Region, &rec.CompanySize, &emb, &source, &rec.VerifiedAt, &rec.UsageCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pattern")
		}
		rec.Pattern = model.Pattern(pattern)
		rec.Source = model.PatternSource(source)
		if emb != nil {
			rec.Embedding = *emb
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find patterns rows")
}

func (s *PostgresStore) FindPatternsBySectorRegion(ctx context.Context, sector, region string, limit int) ([]model.PatternRecord, error) {
	return s.findPatterns(ctx, `sector = $1 AND region = $2`, limit, sector, region)
}

func (s *PostgresStore) FindPatternsBySector(ctx context.Context, sector string, limit int) ([]model.PatternRecord, error) {
	return s.findPatterns(ctx, `sector = $1`, limit, sector)
}

func (s *PostgresStore) FindPatternsByRegionTLD(ctx context.Context, region, tld string, limit int) ([]model.PatternRecord, error) {
	return s.findPatterns(ctx, `region = $1 AND domain LIKE '%.' || $2`, limit, region, tld)
}

func (s *PostgresStore) FindPatternsByTLD(ctx context.Context, tld string, limit int) ([]model.PatternRecord, error) {
	return s.findPatterns(ctx, `domain LIKE '%.' || $1`, limit, tld)
}

func (s *PostgresStore) GlobalPatternCounts(ctx context.Context) (map[model.Pattern]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pattern, count(*) FROM email_patterns GROUP BY pattern`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: global pattern counts")
	}
	defer rows.Close()

	counts := make(map[model.Pattern]int)
	for rows.Next() {
		var pattern string
		var n int
		if err := rows.Scan(&pattern, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pattern count")
		}
		counts[model.Pattern(pattern)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: global pattern counts rows")
}

func (s *PostgresStore) InsertFailure(ctx context.Context, rec model.FailureRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.FailedAt.IsZero() {
		rec.FailedAt = time.Now().UTC()
	}
	resultsJSON, err := json.Marshal(rec.ValidationResults)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal validation results")
	}
	var correct *string
	if rec.CorrectPattern != nil {
		s := string(*rec.CorrectPattern)
		correct = &s
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pattern_failures (id, domain, company_name, attempted_pattern, sector, region, company_size,
			validation_results, failure_reason, embedding, correct_pattern, correction_confidence, prevented_repeats, failed_at, corrected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.Domain, rec.CompanyName, string(rec.AttemptedPattern), rec.Sector, rec.Region, rec.CompanySize,
		resultsJSON, rec.FailureReason, rec.Embedding, correct, rec.CorrectionConfidence, rec.PreventedRepeats, rec.FailedAt, rec.CorrectedAt)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert failure")
	}
	return rec.ID, nil
}

const failureColumns = `id, domain, company_name, attempted_pattern, sector, region, company_size,
	validation_results, failure_reason, embedding, correct_pattern, correction_confidence, prevented_repeats, failed_at, corrected_at`

func scanFailure(rows pgx.Rows) (model.FailureRecord, error) {
	var rec model.FailureRecord
	var attempted string
	var resultsJSON []byte
	var correct *string
	err := rows.Scan(&rec.ID, &rec.Domain, &rec.CompanyName, &attempted, &rec.Sector, &rec.Region,
		&rec.CompanySize, &resultsJSON, &rec.FailureReason, &rec.Embedding, &correct,
		&rec.CorrectionConfidence, &rec.PreventedRepeats, &rec.FailedAt, &rec.CorrectedAt)
	if err != nil {
		return rec, err
	}
	rec.AttemptedPattern = model.Pattern(attempted)
	if correct != nil {
		p := model.Pattern(*correct)
		rec.CorrectPattern = &p
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &rec.ValidationResults); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func (s *PostgresStore) queryFailures(ctx context.Context, query string, args ...any) ([]model.FailureRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query failures")
	}
	defer rows.Close()

	var out []model.FailureRecord
	for rows.Next() {
		rec, err := scanFailure(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query failures rows")
}

func (s *PostgresStore) FindFailuresExact(ctx context.Context, domain string, pattern model.Pattern) ([]model.FailureRecord, error) {
	return s.queryFailures(ctx,
		`SELECT `+failureColumns+` FROM pattern_failures WHERE domain = $1 AND attempted_pattern = $2 ORDER BY failed_at DESC`,
		domain, string(pattern))
}

func (s *PostgresStore) FindFailuresByDomain(ctx context.Context, domain string) ([]model.FailureRecord, error) {
	return s.queryFailures(ctx,
		`SELECT `+failureColumns+` FROM pattern_failures WHERE domain = $1 ORDER BY failed_at DESC`,
		domain)
}

func (s *PostgresStore) SearchFailuresByEmbedding(ctx context.Context, embedding pgvector.Vector, pattern model.Pattern, maxDistance float64, limit int) ([]FailureNeighbor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+failureColumns+`, embedding <=> $1 AS distance
		FROM pattern_failures
		WHERE ($2 = '' OR attempted_pattern = $2) AND embedding IS NOT NULL AND embedding <=> $1 <= $3
		ORDER BY embedding <=> $1
		LIMIT $4`, embedding, string(pattern), maxDistance, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search failures")
	}
	defer rows.Close()

	var out []FailureNeighbor
	for rows.Next() {
		var rec model.FailureRecord
		var attempted string
		var resultsJSON []byte
		var correct *string
		var dist float64
		if err := rows.Scan(&rec.ID, &rec.Domain, &rec.CompanyName, &attempted, &rec.Sector, &rec.Region,
			&rec.CompanySize, &resultsJSON, &rec.FailureReason, &rec.Embedding, &correct,
			&rec.CorrectionConfidence, &rec.PreventedRepeats, &rec.FailedAt, &rec.CorrectedAt, &dist); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure neighbor")
		}
		rec.AttemptedPattern = model.Pattern(attempted)
		if correct != nil {
			p := model.Pattern(*correct)
			rec.CorrectPattern = &p
		}
		if len(resultsJSON) > 0 {
			if err := json.Unmarshal(resultsJSON, &rec.ValidationResults); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal validation results")
			}
		}
		out = append(out, FailureNeighbor{Record: rec, Distance: dist})
	}
	return out, eris.Wrap(rows.Err(), "postgres: search failures rows")
}

func (s *PostgresStore) FindFailuresByText(ctx context.Context, sector, region string, limit int) ([]model.FailureRecord, error) {
	return s.queryFailures(ctx,
		`SELECT `+failureColumns+` FROM pattern_failures WHERE (sector = $1 AND sector <> '') OR (region = $2 AND region <> '') ORDER BY failed_at DESC LIMIT $3`,
		sector, region, limit)
}

func (s *PostgresStore) IncrementPreventedRepeats(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE pattern_failures SET prevented_repeats = prevented_repeats + 1 WHERE id = ANY($1)`, ids)
	return eris.Wrap(err, "postgres: increment prevented repeats")
}

// UpdateFailuresCorrectPattern fans the correct pattern out to every
// unresolved failure for the domain. Returns the number updated.
func (s *PostgresStore) UpdateFailuresCorrectPattern(ctx context.Context, domain string, pattern model.Pattern, confidence float64) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pattern_failures
		SET correct_pattern = $2, correction_confidence = $3, corrected_at = now()
		WHERE domain = $1 AND correct_pattern IS NULL`,
		domain, string(pattern), confidence)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: update failures correct pattern")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetCachedVerification(ctx context.Context, email string) (*model.ValidationResult, error) {
	var resultJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM verify_cache WHERE email = $1 AND expires_at > now()`, email).Scan(&resultJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached verification")
	}
	var res model.ValidationResult
	if err := json.Unmarshal(resultJSON, &res); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached verification")
	}
	return &res, nil
}

func (s *PostgresStore) SetCachedVerification(ctx context.Context, email string, res model.ValidationResult, ttl time.Duration) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal verification")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO verify_cache (email, result, cached_at, expires_at)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (email) DO UPDATE SET result = EXCLUDED.result, cached_at = now(), expires_at = EXCLUDED.expires_at`,
		email, resultJSON, time.Now().UTC().Add(ttl))
	return eris.Wrap(err, "postgres: set cached verification")
}

func (s *PostgresStore) DeleteExpiredVerifications(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM verify_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired verifications")
	}
	return int(tag.RowsAffected()), nil
}
