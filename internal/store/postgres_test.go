package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var verifiedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestPostgresStore_GetPattern(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresWithPool(mock, 1536)

	mock.ExpectQuery(`SELECT .+ FROM email_patterns WHERE domain = \$1`).
		WithArgs("acme.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "domain", "pattern", "confidence", "sector", "region",
			"company_size", "embedding", "source", "verified_at", "usage_count",
		}).AddRow("id-1", "acme.com", "{f}{last}", 0.88, "Technology", "Global",
			"", nil, "rules", verifiedAt, 3))

	rec, err := st.GetPattern(context.Background(), "acme.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.PatternFLast, rec.Pattern)
	assert.Equal(t, 0.88, rec.Confidence)
	assert.Equal(t, model.SourceRules, rec.Source)
	assert.Equal(t, 3, rec.UsageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPattern_Miss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresWithPool(mock, 1536)

	mock.ExpectQuery(`SELECT .+ FROM email_patterns WHERE domain = \$1`).
		WithArgs("missing.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "domain", "pattern", "confidence", "sector", "region",
			"company_size", "embedding", "source", "verified_at", "usage_count",
		}))

	rec, err := st.GetPattern(context.Background(), "missing.com")
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementUsage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresWithPool(mock, 1536)

	mock.ExpectExec(`UPDATE email_patterns SET usage_count = usage_count \+ 1`).
		WithArgs("acme.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, st.IncrementUsage(context.Background(), "acme.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateFailuresCorrectPattern(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresWithPool(mock, 1536)

	mock.ExpectExec(`UPDATE pattern_failures`).
		WithArgs("acme.com", "{first}.{last}", 0.9).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := st.UpdateFailuresCorrectPattern(context.Background(), "acme.com", model.PatternFirstDotLast, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementPreventedRepeats_EmptyIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresWithPool(mock, 1536)

	// No ids, no query.
	assert.NoError(t, st.IncrementPreventedRepeats(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCachedVerification_Miss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresWithPool(mock, 1536)

	mock.ExpectQuery(`SELECT result FROM verify_cache`).
		WithArgs("jane.doe@acme.com").
		WillReturnRows(pgxmock.NewRows([]string{"result"}))

	res, err := st.GetCachedVerification(context.Background(), "jane.doe@acme.com")
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCachedVerification_Hit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresWithPool(mock, 1536)

	mock.ExpectQuery(`SELECT result FROM verify_cache`).
		WithArgs("jane.doe@acme.com").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).
			AddRow([]byte(`{"email":"jane.doe@acme.com","status":"valid","score":0.99}`)))

	res, err := st.GetCachedVerification(context.Background(), "jane.doe@acme.com")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, model.VerifyValid, res.Status)
	assert.Equal(t, 0.99, res.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredVerifications(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresWithPool(mock, 1536)

	mock.ExpectExec(`DELETE FROM verify_cache WHERE expires_at`).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := st.DeleteExpiredVerifications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GlobalPatternCounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresWithPool(mock, 1536)

	mock.ExpectQuery(`SELECT pattern, count\(\*\) FROM email_patterns GROUP BY pattern`).
		WillReturnRows(pgxmock.NewRows([]string{"pattern", "count"}).
			AddRow("{first}.{last}", 12).
			AddRow("{f}{last}", 5))

	counts, err := st.GlobalPatternCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, counts[model.PatternFirstDotLast])
	assert.Equal(t, 5, counts[model.PatternFLast])
	assert.NoError(t, mock.ExpectationsWereMet())
}
