package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	domain "github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

type AnalysisRepository struct{ db *sql.DB }

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository { return &AnalysisRepository{db: db} }

// Save inserts the record with its condition and symptom links in one transaction
func (r *AnalysisRepository) Save(ctx context.Context, rec *domain.Record) error {
	const insertAnalysis = `
INSERT INTO analyses
  (id, user_id, image_ref, consent, symptom_text,
   top_confidence, risk, overall_risk, urgency, symptom_note, recommendation,
   provider, degraded, findings_json, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15);`
	const upsertCondition = `
INSERT INTO conditions (name_key, name) VALUES ($1,$2)
ON CONFLICT (name_key) DO UPDATE SET name_key = EXCLUDED.name_key
RETURNING id;`
	const linkCondition = `
INSERT INTO analysis_conditions (analysis_id, condition_id, position, confidence, category, urgency)
VALUES ($1,$2,$3,$4,$5,$6);`
	const upsertSymptom = `
INSERT INTO symptoms (name_key, name) VALUES ($1,$2)
ON CONFLICT (name_key) DO UPDATE SET name_key = EXCLUDED.name_key
RETURNING id;`
	const linkSymptom = `
INSERT INTO analysis_symptoms (analysis_id, symptom_id, position) VALUES ($1,$2,$3);`

	a := rec.Assessment
	findings := "[]"
	if len(a.Findings) > 0 {
		b, err := json.Marshal(a.Findings)
		if err != nil {
			return fmt.Errorf("encode findings: %w", err)
		}
		findings = string(b)
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

	seen := make(map[string]bool, len(a.Findings))
	for i, f := range a.Findings {
		key := f.Key
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(f.Label))
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		var condID int64
		if err := tx.QueryRowContext(ctx, upsertCondition, key, f.Label).Scan(&condID); err != nil {
			return fmt.Errorf("upsert condition %q: %w", f.Label, err)
		}
		if _, err := tx.ExecContext(ctx, linkCondition, rec.ID, condID, i, f.Confidence, string(f.Category), string(f.Urgency)); err != nil {
			return fmt.Errorf("link condition: %w", err)
		}
	}

	for pos, s := range domain.SymptomList(rec.SymptomText) {
		var symID int64
		if err := tx.QueryRowContext(ctx, upsertSymptom, strings.ToLower(s), s).Scan(&symID); err != nil {
			return fmt.Errorf("upsert symptom %q: %w", s, err)
		}
		if _, err := tx.ExecContext(ctx, linkSymptom, rec.ID, symID, pos); err != nil {
			return fmt.Errorf("link symptom: %w", err)
		}
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
		args = append(args, f.UserID)
		query += fmt.Sprintf("\nWHERE user_id=$%d", len(args))
	}
	args = append(args, pageSize, offset)
	query += fmt.Sprintf("\nORDER BY created_at DESC, id DESC\nLIMIT $%d OFFSET $%d;", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	out := []*domain.Record{}
	byID := map[domain.ID]*domain.Record{}
	ids := []string{}
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
		rec.Assessment.Findings = []domain.Finding{}
		if s := strings.TrimSpace(findings.String); s != "" {
			if err := json.Unmarshal([]byte(s), &rec.Assessment.Findings); err != nil {
				return nil, fmt.Errorf("decode findings of %s: %w", rec.ID, err)
			}
		}
		out = append(out, &rec)
		byID[rec.ID] = &rec
		ids = append(ids, string(rec.ID))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	const conds = `
SELECT ac.analysis_id, c.name_key
FROM analysis_conditions ac
JOIN conditions c ON c.id = ac.condition_id
WHERE ac.analysis_id = ANY($1)
ORDER BY ac.analysis_id, ac.position;`
	err = r.attach(ctx, conds, ids, func(rec *domain.Record, name string) {
		rec.Assessment.Conditions = append(rec.Assessment.Conditions, name)
	}, byID)
	if err != nil {
		return nil, fmt.Errorf("conditions: %w", err)
	}

	const syms = `
SELECT asy.analysis_id, s.name
FROM analysis_symptoms asy
JOIN symptoms s ON s.id = asy.symptom_id
WHERE asy.analysis_id = ANY($1)
ORDER BY asy.analysis_id, asy.position;`
	err = r.attach(ctx, syms, ids, func(rec *domain.Record, name string) {
		rec.Symptoms = append(rec.Symptoms, name)
	}, byID)
	if err != nil {
		return nil, fmt.Errorf("symptoms: %w", err)
	}
	return out, nil
}

// attach runs an (analysis_id, name) query over ids and hands each row to add.
func (r *AnalysisRepository) attach(ctx context.Context, query string, ids []string, add func(*domain.Record, string), byID map[domain.ID]*domain.Record) error {
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id domain.ID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		if rec, ok := byID[id]; ok {
			add(rec, name)
		}
	}
	return rows.Err()
}
