// Package risk turns raw provider predictions into the unified risk model.
package risk

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

// Coerce brings a provider score into [0,1]. Scores in (1,100] are read as
// percentages; anything above 100 becomes 1.
func Coerce(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s <= 1:
		return s
	case s <= 100:
		return s / 100
	default:
		return 1
	}
}

// Key normalizes a condition label for deduplication.
func Key(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// CategoryOf returns the keyword category of a label.
func CategoryOf(label string) analysis.Category {
	l := strings.ToLower(label)
	for _, row := range categoryKeywords {
		for _, kw := range row.keywords {
			if strings.Contains(l, kw) {
				return row.category
			}
		}
	}
	return analysis.CategoryLow
}

// Tier computes the risk level of the top prediction.
func Tier(top analysis.Prediction) analysis.RiskLevel {
	conf := Coerce(top.Score)
	switch {
	case conf > riskHighThreshold && strings.Contains(strings.ToLower(top.Label), highRiskKeyword):
		return analysis.RiskHigh
	case conf > riskMediumThreshold:
		return analysis.RiskMedium
	default:
		return analysis.RiskLow
	}
}

// UrgencyOf derives the response timeframe from a label's category and score.
func UrgencyOf(category analysis.Category, score float64) analysis.Urgency {
	switch {
	case category == analysis.CategoryHigh && score > urgencyHighThreshold:
		return analysis.UrgencyImmediate
	case category == analysis.CategoryHigh:
		return analysis.UrgencyHigh
	case category == analysis.CategoryMedium && score > urgencyMediumThreshold:
		return analysis.UrgencyModerate
	case category == analysis.CategoryMedium:
		return analysis.UrgencyLow
	default:
		return analysis.UrgencyRoutine
	}
}

// Overall summarizes a set of findings into high/medium/low.
func Overall(findings []analysis.Finding) string {
	medium := false
	for _, f := range findings {
		if f.Category == analysis.CategoryHigh && f.Confidence > overallHighThreshold {
			return "high"
		}
		if f.Category == analysis.CategoryMedium && f.Confidence > overallMediumThreshold {
			medium = true
		}
	}
	if medium {
		return "medium"
	}
	return "low"
}

// SymptomNote returns the note for the first keyword found in symptoms, or "".
func SymptomNote(symptoms string) string {
	s := strings.ToLower(symptoms)
	for _, n := range symptomNotes {
		if strings.Contains(s, n.keyword) {
			return n.note
		}
	}
	return ""
}

// ParseRiskLevel maps a provider's free-form risk string onto the enum.
func ParseRiskLevel(s string) analysis.RiskLevel {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "high"):
		return analysis.RiskHigh
	case strings.Contains(l, "medium"):
		return analysis.RiskMedium
	default:
		return analysis.RiskLow
	}
}

// Dedupe keeps the first prediction per normalized label. Blank labels are dropped.
func Dedupe(preds analysis.PredictionList) analysis.PredictionList {
	seen := make(map[string]struct{}, len(preds))
	out := make(analysis.PredictionList, 0, len(preds))
	for _, p := range preds {
		k := Key(p.Label)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Normalize coerces every score and sorts descending. Ties keep provider order.
func Normalize(preds analysis.PredictionList) analysis.PredictionList {
	out := make(analysis.PredictionList, len(preds))
	for i, p := range preds {
		out[i] = analysis.Prediction{Label: strings.TrimSpace(p.Label), Score: Coerce(p.Score)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Classifier builds assessments. The zero value uses time.Now.
type Classifier struct {
	Now func() time.Time
}

func (c Classifier) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Assess maps an inference plus optional symptom text to an Assessment. It never fails.
func (c Classifier) Assess(inf analysis.Inference, symptoms string) analysis.Assessment {
	preds := Dedupe(Normalize(inf.Predictions))
	a := analysis.Assessment{
		Conditions:  []string{},
		Findings:    []analysis.Finding{},
		Risk:        analysis.RiskLow,
		OverallRisk: "low",
		Urgency:     analysis.UrgencyRoutine,
		SymptomNote: SymptomNote(symptoms),
		Provider:    inf.Provider,
		Degraded:    inf.Degraded,
		Timestamp:   c.now().UTC(),
	}

	top, ok := preds.Top()
	if !ok {
		if a.SymptomNote == "" {
			a.SymptomNote = noPredictionNote
		} else {
			a.SymptomNote = noPredictionNote + " " + a.SymptomNote
		}
		// no predictions is always LOW, whatever the provider graded
		a.Recommendation = recommendations[analysis.RiskLow]
		if g := strings.TrimSpace(inf.Guidance); g != "" {
			a.Recommendation = g
		}
		return a
	}

	for _, p := range preds {
		cat := CategoryOf(p.Label)
		a.Findings = append(a.Findings, analysis.Finding{
			Label:      p.Label,
			Key:        Key(p.Label),
			Confidence: p.Score,
			Category:   cat,
			Urgency:    UrgencyOf(cat, p.Score),
		})
		a.Conditions = append(a.Conditions, Key(p.Label))
	}

	a.TopConfidence = top.Score
	a.Risk = Tier(top)
	if inf.RiskHint != "" {
		a.Risk = inf.RiskHint
	}
	a.Urgency = a.Findings[0].Urgency
	a.OverallRisk = Overall(a.Findings)
	a.Recommendation = recommendations[a.Risk]
	if g := strings.TrimSpace(inf.Guidance); g != "" {
		a.Recommendation = g
	}
	return a
}
