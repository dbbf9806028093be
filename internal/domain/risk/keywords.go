package risk

import (
	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

// categoryKeywords maps a label substring to its urgency category. Order matters:
// high is checked before medium.
var categoryKeywords = []struct {
	category analysis.Category
	keywords []string
}{
	{analysis.CategoryHigh, []string{"melanoma", "carcinoma", "malignant", "cancer", "squamous", "basal"}},
	{analysis.CategoryMedium, []string{"psoriasis", "eczema", "vitiligo", "infection", "fungal", "bacterial"}},
}

// highRiskKeyword is the only label that can lift the top prediction to HIGH.
const highRiskKeyword = "melanoma"

// Risk tier thresholds, applied to the top prediction.
const (
	riskHighThreshold   = 0.8
	riskMediumThreshold = 0.5
)

// Urgency thresholds, per category. Independent of the risk tier thresholds.
const (
	urgencyHighThreshold   = 0.7
	urgencyMediumThreshold = 0.6
)

// Overall-risk thresholds across all findings.
const (
	overallHighThreshold   = 0.6
	overallMediumThreshold = 0.7
)

// symptomNotes is scanned in order; the first matching substring wins.
var symptomNotes = []struct {
	keyword string
	note    string
}{
	{"pain", "Pain can accompany more severe skin conditions; have a clinician examine the area."},
	{"itching", "Itching is common with eczema or fungal infections."},
}

const noPredictionNote = "No confident prediction was returned for this input."

var recommendations = map[analysis.RiskLevel]string{
	analysis.RiskHigh:   "Seek evaluation by a dermatologist as soon as possible.",
	analysis.RiskMedium: "Book a dermatology appointment to have the area checked.",
	analysis.RiskLow:    "Monitor the area and consult a professional if it changes in size, shape or colour.",
}
