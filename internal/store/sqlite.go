package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/email-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. SQLite has no
// vector type, so embeddings are stored as JSON arrays and similarity is
// computed in Go — acceptable at local/dev data volumes.
type SQLiteStore struct {
	db   *sql.DB
	dims int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, dims int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, dims: dims}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS email_patterns (
	id           TEXT PRIMARY KEY,
	domain       TEXT NOT NULL UNIQUE,
	pattern      TEXT NOT NULL,
	confidence   REAL NOT NULL,
	sector       TEXT NOT NULL DEFAULT '',
	region       TEXT NOT NULL DEFAULT '',
	company_size TEXT NOT NULL DEFAULT '',
	embedding    TEXT,
	source       TEXT NOT NULL DEFAULT 'rules',
	verified_at  DATETIME NOT NULL,
	usage_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pattern_failures (
	id                    TEXT PRIMARY KEY,
	domain                TEXT NOT NULL,
	company_name          TEXT NOT NULL DEFAULT '',
	attempted_pattern     TEXT NOT NULL,
	sector                TEXT NOT NULL DEFAULT '',
	region                TEXT NOT NULL DEFAULT '',
	company_size          TEXT NOT NULL DEFAULT '',
	validation_results    TEXT,
	failure_reason        TEXT NOT NULL DEFAULT '',
	embedding             TEXT,
	correct_pattern       TEXT,
	correction_confidence REAL,
	prevented_repeats     INTEGER NOT NULL DEFAULT 0,
	failed_at             DATETIME NOT NULL,
	corrected_at          DATETIME
);

CREATE TABLE IF NOT EXISTS verify_cache (
	email      TEXT PRIMARY KEY,
	result     TEXT NOT NULL,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_email_patterns_sector_region ON email_patterns(sector, region);
CREATE INDEX IF NOT EXISTS idx_pattern_failures_domain ON pattern_failures(domain);
CREATE INDEX IF NOT EXISTS idx_verify_cache_expires_at ON verify_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVec(v pgvector.Vector) (any, error) {
	slice := v.Slice()
	if len(slice) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(slice)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeVec(s sql.NullString) ([]float32, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

const sqlitePatternCols = `id, domain, pattern, confidence, sector, region, company_size, embedding, source, verified_at, usage_count`

func (s *SQLiteStore) scanPatternRow(scan func(dest ...any) error) (*model.PatternRecord, error) {
	var rec model.PatternRecord
	var pattern, source string
	var emb sql.NullString
	if err := scan(&rec.ID, &rec.Domain, &pattern, &rec.Confidence, &rec.Sector,
		&rec.Region, &rec.CompanySize, &emb, &source, &rec.VerifiedAt, &rec.UsageCount); err != nil {
		return nil, err
	}
	rec.Pattern = model.Pattern(pattern)
	rec.Source = model.PatternSource(source)
	vec, err := decodeVec(emb)
	if err != nil {
		return nil, err
	}
	if vec != nil {
		rec.Embedding = pgvector.NewVector(vec)
	}
	return &rec, nil
}

func (s *SQLiteStore) GetPattern(ctx context.Context, domain string) (*model.PatternRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePatternCols+` FROM email_patterns WHERE domain = ?`, domain)
	rec, err := s.scanPatternRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get pattern")
	}
	return rec, nil
}

func (s *SQLiteStore) UpsertPattern(ctx context.Context, rec model.PatternRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = time.Now().UTC()
	}
	emb, err := encodeVec(rec.Embedding)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode embedding")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO email_patterns (id, domain, pattern, confidence, sector, region, company_size, embedding, source, verified_at, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET
			pattern      = excluded.pattern,
			confidence   = excluded.confidence,
			sector       = excluded.sector,
			region       = excluded.region,
			company_size = excluded.company_size,
			embedding    = excluded.embedding,
			source       = excluded.source,
			verified_at  = excluded.verified_at,
			usage_count  = email_patterns.usage_count + 1`,
		rec.ID, rec.Domain, string(rec.Pattern), rec.Confidence, rec.Sector, rec.Region,
		rec.CompanySize, emb, string(rec.Source), rec.VerifiedAt, rec.UsageCount)
	return eris.Wrap(err, "sqlite: upsert pattern")
}

func (s *SQLiteStore) IncrementUsage(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_patterns SET usage_count = usage_count + 1 WHERE domain = ?`, domain)
	return eris.Wrap(err, "sqlite: increment usage")
}

func (s *SQLiteStore) SearchPatternsByEmbedding(ctx context.Context, embedding pgvector.Vector, limit int) ([]PatternNeighbor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePatternCols+` FROM email_patterns WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search patterns")
	}
	defer rows.Close()

	query := embedding.Slice()
	var out []PatternNeighbor
	for rows.Next() {
		rec, err := s.scanPatternRow(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pattern")
		}
		sim := CosineSimilarity(query, rec.Embedding.Slice())
		out = append(out, PatternNeighbor{Record: *rec, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: search patterns rows")
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SQLiteStore) findPatterns(ctx context.Context, where string, limit int, args ...any) ([]model.PatternRecord, error) {
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePatternCols+` FROM email_patterns WHERE `+where+` ORDER BY verified_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find patterns")
	}
	defer rows.Close()

	var out []model.PatternRecord
	for rows.Next() {
		rec, err := s.scanPatternRow(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pattern")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find patterns rows")
}

func (s *SQLiteStore) FindPatternsBySectorRegion(ctx context.Context, sector, region string, limit int) ([]model.PatternRecord, error) {
	return s.findPatterns(ctx, `sector = ? AND region = ?`, limit, sector, region)
}

func (s *SQLiteStore) FindPatternsBySector(ctx context.Context, sector string, limit int) ([]model.PatternRecord, error) {
	return s.findPatterns(ctx, `sector = ?`, limit, sector)
}

func (s *SQLiteStore) FindPatternsByRegionTLD(ctx context.Context, region, tld string, limit int) ([]model.PatternRecord, error) {
	return s.findPatterns(ctx, `region = ? AND domain LIKE '%.' || ?`, limit, region, tld)
}

func (s *SQLiteStore) FindPatternsByTLD(ctx context.Context, tld string, limit int) ([]model.PatternRecord, error) {
	return s.findPatterns(ctx, `domain LIKE '%.' || ?`, limit, tld)
}

func (s *SQLiteStore) GlobalPatternCounts(ctx context.Context) (map[model.Pattern]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern, count(*) FROM email_patterns GROUP BY pattern`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: global pattern counts")
	}
	defer rows.Close()

	counts := make(map[model.Pattern]int)
	for rows.Next() {
		var pattern string
		var n int
		if err := rows.Scan(&pattern, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pattern count")
		}
		counts[model.Pattern(pattern)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: global pattern counts rows")
}

const sqliteFailureCols = `id, domain, company_name, attempted_pattern, sector, region, company_size,
	validation_results, failure_reason, embedding, correct_pattern, correction_confidence, prevented_repeats, failed_at, corrected_at`

func (s *SQLiteStore) scanFailureRow(scan func(dest ...any) error) (*model.FailureRecord, error) {
	var rec model.FailureRecord
	var attempted string
	var resultsJSON, emb, correct sql.NullString
	if err := scan(&rec.ID, &rec.Domain, &rec.CompanyName, &attempted, &rec.Sector, &rec.Region,
		&rec.CompanySize, &resultsJSON, &rec.FailureReason, &emb, &correct,
		&rec.CorrectionConfidence, &rec.PreventedRepeats, &rec.FailedAt, &rec.CorrectedAt); err != nil {
		return nil, err
	}
	rec.AttemptedPattern = model.Pattern(attempted)
	if correct.Valid {
		p := model.Pattern(correct.String)
		rec.CorrectPattern = &p
	}
	if resultsJSON.Valid && resultsJSON.String != "" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &rec.ValidationResults); err != nil {
			return nil, err
		}
	}
	vec, err := decodeVec(emb)
	if err != nil {
		return nil, err
	}
	if vec != nil {
		v := pgvector.NewVector(vec)
		rec.Embedding = &v
	}
	return &rec, nil
}

func (s *SQLiteStore) InsertFailure(ctx context.Context, rec model.FailureRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.FailedAt.IsZero() {
		rec.FailedAt = time.Now().UTC()
	}
	resultsJSON, err := json.Marshal(rec.ValidationResults)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal validation results")
	}
	var emb any
	if rec.Embedding != nil {
		emb, err = encodeVec(*rec.Embedding)
		if err != nil {
			return "", eris.Wrap(err, "sqlite: encode embedding")
		}
	}
	var correct *string
	if rec.CorrectPattern != nil {
		v := string(*rec.CorrectPattern)
		correct = &v
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pattern_failures (id, domain, company_name, attempted_pattern, sector, region, company_size,
			validation_results, failure_reason, embedding, correct_pattern, correction_confidence, prevented_repeats, failed_at, corrected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Domain, rec.CompanyName, string(rec.AttemptedPattern), rec.Sector, rec.Region, rec.CompanySize,
		string(resultsJSON), rec.FailureReason, emb, correct, rec.CorrectionConfidence, rec.PreventedRepeats, rec.FailedAt, rec.CorrectedAt)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert failure")
	}
	return rec.ID, nil
}

func (s *SQLiteStore) queryFailures(ctx context.Context, query string, args ...any) ([]model.FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query failures")
	}
	defer rows.Close()

	var out []model.FailureRecord
	for rows.Next() {
		rec, err := s.scanFailureRow(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query failures rows")
}

func (s *SQLiteStore) FindFailuresExact(ctx context.Context, domain string, pattern model.Pattern) ([]model.FailureRecord, error) {
	return s.queryFailures(ctx,
		`SELECT `+sqliteFailureCols+` FROM pattern_failures WHERE domain = ? AND attempted_pattern = ? ORDER BY failed_at DESC`,
		domain, string(pattern))
}

func (s *SQLiteStore) FindFailuresByDomain(ctx context.Context, domain string) ([]model.FailureRecord, error) {
	return s.queryFailures(ctx,
		`SELECT `+sqliteFailureCols+` FROM pattern_failures WHERE domain = ? ORDER BY failed_at DESC`,
		domain)
}

func (s *SQLiteStore) SearchFailuresByEmbedding(ctx context.Context, embedding pgvector.Vector, pattern model.Pattern, maxDistance float64, limit int) ([]FailureNeighbor, error) {
	recs, err := s.queryFailures(ctx,
		`SELECT `+sqliteFailureCols+` FROM pattern_failures WHERE (? = '' OR attempted_pattern = ?) AND embedding IS NOT NULL`,
		string(pattern), string(pattern))
	if err != nil {
		return nil, err
	}

	query := embedding.Slice()
	var out []FailureNeighbor
	for _, rec := range recs {
		if rec.Embedding == nil {
			continue
		}
		dist := 1 - CosineSimilarity(query, rec.Embedding.Slice())
		if dist <= maxDistance {
			out = append(out, FailureNeighbor{Record: rec, Distance: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SQLiteStore) FindFailuresByText(ctx context.Context, sector, region string, limit int) ([]model.FailureRecord, error) {
	return s.queryFailures(ctx,
		`SELECT `+sqliteFailureCols+` FROM pattern_failures WHERE (sector = ? AND sector <> '') OR (region = ? AND region <> '') ORDER BY failed_at DESC LIMIT ?`,
		sector, region, limit)
}

func (s *SQLiteStore) IncrementPreventedRepeats(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE pattern_failures SET prevented_repeats = prevented_repeats + 1 WHERE id = ?`, id); err != nil {
			return eris.Wrap(err, "sqlite: increment prevented repeats")
		}
	}
	return nil
}

func (s *SQLiteStore) UpdateFailuresCorrectPattern(ctx context.Context, domain string, pattern model.Pattern, confidence float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pattern_failures
		SET correct_pattern = ?, correction_confidence = ?, corrected_at = ?
		WHERE domain = ? AND correct_pattern IS NULL`,
		string(pattern), confidence, time.Now().UTC(), domain)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: update failures correct pattern")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) GetCachedVerification(ctx context.Context, email string) (*model.ValidationResult, error) {
	var resultJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM verify_cache WHERE email = ? AND expires_at > ?`,
		email, time.Now().UTC()).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached verification")
	}
	var res model.ValidationResult
	if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached verification")
	}
	return &res, nil
}

func (s *SQLiteStore) SetCachedVerification(ctx context.Context, email string, res model.ValidationResult, ttl time.Duration) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal verification")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verify_cache (email, result, cached_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET result = excluded.result, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		email, string(resultJSON), now, now.Add(ttl))
	return eris.Wrap(err, "sqlite: set cached verification")
}

func (s *SQLiteStore) DeleteExpiredVerifications(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM verify_cache WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired verifications")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}
