package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save inserts the record with its condition and symptom links in one transaction
func (r *AnalysisRepository) Save(ctx context.Context, rec *domain.Record) error {
	const insertAnalysis = `
INSERT INTO analyses
  (id, user_id, image_ref, consent, symptom_text,
   top_confidence, risk, overall_risk, urgency, symptom_note, recommendation,
   provider, degraded, findings_json, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);
`
	const upsertCondition = `
INSERT INTO conditions (name_key, name) VALUES (?,?)
ON DUPLICATE KEY UPDATE id=LAST_INSERT_ID(id);
`
	const linkCondition = `
INSERT INTO analysis_conditions (analysis_id, condition_id, position, confidence, category, urgency)
VALUES (?,?,?,?,?,?);
`
	const upsertSymptom = `
INSERT INTO symptoms (name_key, name) VALUES (?,?)
ON DUPLICATE KEY UPDATE id=LAST_INSERT_ID(id);
`
	const linkSymptom = `
INSERT INTO analysis_symptoms (analysis_id, symptom_id, position) VALUES (?,?,?);
`
	a := rec.Assessment
	findings, err := findingsJSON(a.Findings)
	if err != nil {
		return err
	}
	created := a.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertAnalysis,
		rec.ID, stringOrDash(rec.UserID), rec.ImageRef, rec.Consent, rec.SymptomText,
		a.TopConfidence, string(a.Risk), a.OverallRisk, string(a.Urgency), a.SymptomNote, a.Recommendation,
		a.Provider, a.Degraded, findings, created,
	); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	// name_key is clipped to the column width, so two long labels can share a key
	seen := make(map[string]bool, len(a.Findings))
	for i, f := range a.Findings {
		key := nameKey(conditionKey(f))
		if seen[key] {
			continue
		}
		seen[key] = true
		res, err := tx.ExecContext(ctx, upsertCondition, key, clip(f.Label, maxNameLength))
		if err != nil {
			return fmt.Errorf("upsert condition %q: %w", f.Label, err)
		}
		condID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("condition id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, linkCondition, rec.ID, condID, i, f.Confidence, string(f.Category), string(f.Urgency)); err != nil {
			return fmt.Errorf("link condition: %w", err)
		}
	}

	seen = map[string]bool{}
	pos := 0
	for _, s := range domain.SymptomList(rec.SymptomText) {
		s = clip(s, maxNameLength)
		key := nameKey(strings.ToLower(s))
		if seen[key] {
			continue
		}
		seen[key] = true
		res, err := tx.ExecContext(ctx, upsertSymptom, key, s)
		if err != nil {
			return fmt.Errorf("upsert symptom %q: %w", s, err)
		}
		symID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("symptom id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, linkSymptom, rec.ID, symID, pos); err != nil {
			return fmt.Errorf("link symptom: %w", err)
		}
		pos++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListHistory returns a page of records ordered by created_at desc, with their conditions and symptoms
func (r *AnalysisRepository) ListHistory(ctx context.Context, f domain.HistoryFilter) ([]*domain.Record, error) {
	page, pageSize := pageBounds(f.Page, f.PageSize)
	offset := (page - 1) * pageSize

	query := `
SELECT id, user_id, image_ref, consent, symptom_text,
       top_confidence, risk, overall_risk, urgency, symptom_note, recommendation,
       provider, degraded, findings_json, created_at
FROM analyses`
	args := []interface{}{}
	if f.UserID != "" {
		query += "\nWHERE user_id=?"
		args = append(args, f.UserID)
	}
	query += "\nORDER BY created_at DESC, id DESC\nLIMIT ? OFFSET ?;"
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	out := []*domain.Record{}
	byID := map[domain.ID]*domain.Record{}
	for rows.Next() {
		var rec domain.Record
		var risk, urgency string
		var findings sql.NullString
		var created time.Time
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.ImageRef, &rec.Consent, &rec.SymptomText,
			&rec.Assessment.TopConfidence, &risk, &rec.Assessment.OverallRisk, &urgency,
			&rec.Assessment.SymptomNote, &rec.Assessment.Recommendation,
			&rec.Assessment.Provider, &rec.Assessment.Degraded, &findings, &created,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		rec.Assessment.Risk = domain.RiskLevel(risk)
		rec.Assessment.Urgency = domain.Urgency(urgency)
		rec.Assessment.Timestamp = created.UTC()
		rec.Assessment.Conditions = []string{}
		rec.Symptoms = []string{}
		if rec.Assessment.Findings, err = parseFindings(findings.String); err != nil {
			return nil, fmt.Errorf("decode findings of %s: %w", rec.ID, err)
		}
		out = append(out, &rec)
		byID[rec.ID] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	args = make([]interface{}, 0, len(out))
	for _, rec := range out {
		args = append(args, rec.ID)
	}
	if err := r.attachConditions(ctx, args, byID); err != nil {
		return nil, err
	}
	if err := r.attachSymptoms(ctx, args, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AnalysisRepository) attachConditions(ctx context.Context, args []interface{}, byID map[domain.ID]*domain.Record) error {
	query := `
SELECT ac.analysis_id, c.name_key
FROM analysis_conditions ac
JOIN conditions c ON c.id = ac.condition_id
WHERE ac.analysis_id IN (` + placeholders(len(args)) + `)
ORDER BY ac.analysis_id, ac.position;`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying conditions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id domain.ID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("scanning condition: %w", err)
		}
		if rec, ok := byID[id]; ok {
			rec.Assessment.Conditions = append(rec.Assessment.Conditions, name)
		}
	}
	return rows.Err()
}

func (r *AnalysisRepository) attachSymptoms(ctx context.Context, args []interface{}, byID map[domain.ID]*domain.Record) error {
	query := `
SELECT asy.analysis_id, s.name
FROM analysis_symptoms asy
JOIN symptoms s ON s.id = asy.symptom_id
WHERE asy.analysis_id IN (` + placeholders(len(args)) + `)
ORDER BY asy.analysis_id, asy.position;`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying symptoms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id domain.ID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("scanning symptom: %w", err)
		}
		if rec, ok := byID[id]; ok {
			rec.Symptoms = append(rec.Symptoms, name)
		}
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func conditionKey(f domain.Finding) string {
	if f.Key != "" {
		return f.Key
	}
	return strings.ToLower(strings.TrimSpace(f.Label))
}

func findingsJSON(f []domain.Finding) (string, error) {
	if len(f) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode findings: %w", err)
	}
	return string(b), nil
}

func parseFindings(s string) ([]domain.Finding, error) {
	out := []domain.Finding{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
