package mysql

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

func sampleRecord() *domain.Record {
	return &domain.Record{
		ID:          "a-1",
		UserID:      "u-1",
		ImageRef:    "uploads/1700000000000-u-1.jpg",
		Consent:     true,
		SymptomText: "itching, pain",
		Assessment: domain.Assessment{
			Conditions:    []string{"melanoma", "nevus"},
			TopConfidence: 0.92,
			Risk:          domain.RiskHigh,
			OverallRisk:   "high",
			Urgency:       domain.UrgencyImmediate,
			Findings: []domain.Finding{
				{Label: "Melanoma", Key: "melanoma", Confidence: 0.92, Category: domain.CategoryHigh, Urgency: domain.UrgencyImmediate},
				{Label: "Nevus", Key: "nevus", Confidence: 0.05, Category: domain.CategoryLow, Urgency: domain.UrgencyRoutine},
			},
			Provider:  "detection",
			Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestSaveInsertsLinks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := sampleRecord()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analyses")).
		WithArgs("a-1", "u-1", rec.ImageRef, true, "itching, pain",
			0.92, "HIGH", "high", "Immediate", "", "",
			"detection", false, sqlmock.AnyArg(), rec.Assessment.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conditions")).
		WithArgs("melanoma", "Melanoma").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_conditions")).
		WithArgs("a-1", 7, 0, 0.92, "high", "Immediate").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conditions")).
		WithArgs("nevus", "Nevus").
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_conditions")).
		WithArgs("a-1", 8, 1, 0.05, "low", "Routine").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO symptoms")).
		WithArgs("itching", "itching").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_symptoms")).
		WithArgs("a-1", 3, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO symptoms")).
		WithArgs("pain", "pain").
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_symptoms")).
		WithArgs("a-1", 4, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewAnalysisRepository(db).Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSkipsDuplicateKeys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	long := strings.Repeat("a", maxNameLength)
	rec := sampleRecord()
	rec.SymptomText = "Itch, " + long + "x, " + long + "y"
	rec.Assessment.Findings = []domain.Finding{
		{Label: "Eczéma", Key: "eczéma", Confidence: 0.5, Category: domain.CategoryMedium, Urgency: domain.UrgencyModerate},
		{Label: "eczéma", Key: "eczéma", Confidence: 0.4, Category: domain.CategoryMedium, Urgency: domain.UrgencyModerate},
		{Label: "Eczema", Key: "eczema", Confidence: 0.3, Category: domain.CategoryMedium, Urgency: domain.UrgencyModerate},
		{Label: long + "1", Key: long + "1", Confidence: 0.2, Category: domain.CategoryLow, Urgency: domain.UrgencyRoutine},
		{Label: long + "2", Key: long + "2", Confidence: 0.1, Category: domain.CategoryLow, Urgency: domain.UrgencyRoutine},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analyses")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conditions")).
		WithArgs("eczéma", "Eczéma").
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_conditions")).
		WithArgs("a-1", 11, 0, 0.5, "medium", "Moderate").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conditions")).
		WithArgs("eczema", "Eczema").
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_conditions")).
		WithArgs("a-1", 12, 2, 0.3, "medium", "Moderate").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conditions")).
		WithArgs(long, long).
		WillReturnResult(sqlmock.NewResult(13, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_conditions")).
		WithArgs("a-1", 13, 3, 0.2, "low", "Routine").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO symptoms")).
		WithArgs("itch", "Itch").
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_symptoms")).
		WithArgs("a-1", 21, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO symptoms")).
		WithArgs(long, long).
		WillReturnResult(sqlmock.NewResult(22, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_symptoms")).
		WithArgs("a-1", 22, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewAnalysisRepository(db).Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := sampleRecord()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analyses")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conditions")).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err = NewAnalysisRepository(db).Save(context.Background(), rec)
	assert.ErrorContains(t, err, "deadlock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

var historyColumns = []string{
	"id", "user_id", "image_ref", "consent", "symptom_text",
	"top_confidence", "risk", "overall_risk", "urgency", "symptom_note", "recommendation",
	"provider", "degraded", "findings_json", "created_at",
}

func TestListHistoryFiltersByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	newer := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	older := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM analyses\s+WHERE user_id=\?\s+ORDER BY created_at DESC`).
		WithArgs("u-1", 20, 0).
		WillReturnRows(sqlmock.NewRows(historyColumns).
			AddRow("a-2", "u-1", "text-analysis", true, "", 0.7, "MEDIUM", "low", "Moderate", "", "See a doctor.", "openai-text", false,
				`[{"label":"Eczema","key":"eczema","confidence":0.7,"category":"medium","urgency":"Moderate"}]`, newer).
			AddRow("a-1", "u-1", "uploads/1-u-1.jpg", true, "pain", 0.0, "LOW", "low", "Routine", "note", "rec", "detection", true, "[]", older))
	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_conditions ac")).
		WithArgs("a-2", "a-1").
		WillReturnRows(sqlmock.NewRows([]string{"analysis_id", "name_key"}).
			AddRow("a-2", "eczema"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_symptoms asy")).
		WithArgs("a-2", "a-1").
		WillReturnRows(sqlmock.NewRows([]string{"analysis_id", "name"}).
			AddRow("a-1", "pain"))

	recs, err := NewAnalysisRepository(db).ListHistory(context.Background(), domain.HistoryFilter{UserID: "u-1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, domain.ID("a-2"), recs[0].ID)
	assert.Equal(t, []string{"eczema"}, recs[0].Assessment.Conditions)
	assert.Equal(t, domain.RiskMedium, recs[0].Assessment.Risk)
	require.Len(t, recs[0].Assessment.Findings, 1)
	assert.Equal(t, domain.CategoryMedium, recs[0].Assessment.Findings[0].Category)
	assert.Equal(t, newer, recs[0].Assessment.Timestamp)

	assert.Equal(t, []string{}, recs[0].Symptoms)
	assert.Equal(t, []string{"pain"}, recs[1].Symptoms)

	assert.Empty(t, recs[1].Assessment.Conditions)
	assert.NotNil(t, recs[1].Assessment.Conditions)
	assert.True(t, recs[1].Assessment.Degraded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListHistoryAllUsersPaged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM analyses\s+ORDER BY created_at DESC, id DESC\s+LIMIT \? OFFSET \?`).
		WithArgs(10, 20).
		WillReturnRows(sqlmock.NewRows(historyColumns))

	recs, err := NewAnalysisRepository(db).ListHistory(context.Background(), domain.HistoryFilter{Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPageBoundsAndClip(t *testing.T) {
	p, s := pageBounds(0, 0)
	assert.Equal(t, 1, p)
	assert.Equal(t, 20, s)
	_, s = pageBounds(2, 1000)
	assert.Equal(t, 100, s)

	assert.Equal(t, "abc", clip("abcdef", 3))
	assert.Equal(t, "ab", clip("ab", 3))
	assert.Equal(t, "-", stringOrDash("  "))
	assert.Equal(t, "ab", nameKey("ab   "))
}
