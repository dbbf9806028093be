package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

func TestSaveUsesReturningUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	rec := &domain.Record{
		ID:          "b-1",
		UserID:      "u-9",
		ImageRef:    domain.TextAnalysisRef,
		Consent:     true,
		SymptomText: "Itching",
		Assessment: domain.Assessment{
			Conditions:    []string{"eczema"},
			TopConfidence: 0.65,
			Risk:          domain.RiskMedium,
			OverallRisk:   "low",
			Urgency:       domain.UrgencyModerate,
			Findings: []domain.Finding{
				{Label: "Eczema", Key: "eczema", Confidence: 0.65, Category: domain.CategoryMedium, Urgency: domain.UrgencyModerate},
			},
			Provider:  "openai-text",
			Timestamp: ts,
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analyses")).
		WithArgs("b-1", "u-9", "text-analysis", true, "Itching",
			0.65, "MEDIUM", "low", "Moderate", "", "", "openai-text", false, sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO conditions")).
		WithArgs("eczema", "Eczema").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_conditions")).
		WithArgs("b-1", 11, 0, 0.65, "medium", "Moderate").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO symptoms")).
		WithArgs("itching", "Itching").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_symptoms")).
		WithArgs("b-1", 2, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewAnalysisRepository(db).Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListHistoryPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{
		"id", "user_id", "image_ref", "consent", "symptom_text",
		"top_confidence", "risk", "overall_risk", "urgency", "symptom_note", "recommendation",
		"provider", "degraded", "findings_json", "created_at",
	}
	mock.ExpectQuery(`WHERE user_id=\$1\s+ORDER BY created_at DESC, id DESC\s+LIMIT \$2 OFFSET \$3`).
		WithArgs("u-9", 5, 5).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("b-1", "u-9", "text-analysis", true, "", 0.65, "MEDIUM", "low", "Moderate", "", "", "openai-text", false, nil, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ac.analysis_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"analysis_id", "name_key"}).AddRow("b-1", "eczema"))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE asy.analysis_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"analysis_id", "name"}).
			AddRow("b-1", "itching").
			AddRow("b-1", "redness"))

	recs, err := NewAnalysisRepository(db).ListHistory(context.Background(), domain.HistoryFilter{UserID: "u-9", Page: 2, PageSize: 5})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"eczema"}, recs[0].Assessment.Conditions)
	assert.Empty(t, recs[0].Assessment.Findings)
	assert.Equal(t, []string{"itching", "redness"}, recs[0].Symptoms)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSkipsDuplicateConditionKeys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := &domain.Record{
		ID: "b-2", UserID: "u-9", ImageRef: "uploads/x.jpg", Consent: true,
		Assessment: domain.Assessment{
			Findings: []domain.Finding{
				{Label: "Eczema", Key: "eczema", Confidence: 0.6},
				{Label: "eczema", Key: "eczema", Confidence: 0.5},
				{Label: "Eczéma", Key: "eczéma", Confidence: 0.4},
			},
			Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analyses")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO conditions")).
		WithArgs("eczema", "Eczema").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_conditions")).
		WithArgs("b-2", 1, 0, 0.6, "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO conditions")).
		WithArgs("eczéma", "Eczéma").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_conditions")).
		WithArgs("b-2", 2, 2, 0.4, "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewAnalysisRepository(db).Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListHistoryWithoutUserFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM analyses\s+ORDER BY created_at DESC, id DESC\s+LIMIT \$1 OFFSET \$2`).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	recs, err := NewAnalysisRepository(db).ListHistory(context.Background(), domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
