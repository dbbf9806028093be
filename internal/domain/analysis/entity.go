package analysis

import (
	"time"
)

// ID identifies a persisted analysis record
type ID string

// TextAnalysisRef is stored as the image reference of prompt-only analyses.
const TextAnalysisRef = "text-analysis"

// InputKind enum
type InputKind string

const (
	InputImage InputKind = "image"
	InputText  InputKind = "text"
)

// RiskLevel enum
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Urgency enum
type Urgency string

const (
	UrgencyRoutine   Urgency = "Routine"
	UrgencyLow       Urgency = "Low"
	UrgencyModerate  Urgency = "Moderate"
	UrgencyHigh      Urgency = "High"
	UrgencyImmediate Urgency = "Immediate"
)

// Category is the keyword bucket a condition label falls into.
type Category string

const (
	CategoryHigh   Category = "high"
	CategoryMedium Category = "medium"
	CategoryLow    Category = "low"
)

// Input is either an image or a text prompt. With an Image, Prompt holds the
// optional symptom text passed to providers that accept context.
type Input struct {
	Image    []byte
	MIMEType string
	Prompt   string
}

func (in Input) Kind() InputKind {
	if len(in.Image) > 0 {
		return InputImage
	}
	return InputText
}

// NormalizedImage is a JPEG buffer within the configured size limit.
type NormalizedImage struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Prediction value object
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// PredictionList is ordered by descending score. Empty means no confident prediction.
type PredictionList []Prediction

func (l PredictionList) Top() (Prediction, bool) {
	if len(l) == 0 {
		return Prediction{}, false
	}
	return l[0], true
}

// Inference is what an adapter returns: the predictions plus whatever else the
// provider graded on its own.
type Inference struct {
	Provider    string         `json:"provider"`
	Predictions PredictionList `json:"predictions"`
	// RiskHint is set by providers that grade risk themselves; it overrides the derived tier.
	RiskHint RiskLevel `json:"risk_hint,omitempty"`
	Guidance string    `json:"guidance,omitempty"`
	Message  string    `json:"message,omitempty"`
	Degraded bool      `json:"degraded,omitempty"`
}

// Finding is a prediction enriched with its keyword category and urgency.
type Finding struct {
	Label      string   `json:"label"`
	Key        string   `json:"key"`
	Confidence float64  `json:"confidence"`
	Category   Category `json:"category"`
	Urgency    Urgency  `json:"urgency"`
}

// Assessment is the unified risk model returned to callers.
type Assessment struct {
	Conditions     []string  `json:"conditions"`
	TopConfidence  float64   `json:"top_confidence"`
	Risk           RiskLevel `json:"risk"`
	OverallRisk    string    `json:"overall_risk"`
	Urgency        Urgency   `json:"urgency"`
	SymptomNote    string    `json:"symptom_note"`
	Recommendation string    `json:"recommendation"`
	Findings       []Finding `json:"findings"`
	Provider       string    `json:"provider,omitempty"`
	Degraded       bool      `json:"degraded,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Record is the persisted form of an assessment. Immutable once created.
type Record struct {
	ID          ID         `json:"id"`
	UserID      string     `json:"user_id"`
	ImageRef    string     `json:"image_ref"`
	Consent     bool       `json:"consent"`
	SymptomText string     `json:"symptom_text,omitempty"`
	// Symptoms are the individual entries split out of SymptomText.
	Symptoms    []string   `json:"symptoms"`
	Assessment  Assessment `json:"assessment"`
}

// HistoryFilter narrows ListHistory. Zero value lists everything.
type HistoryFilter struct {
	UserID   string
	Page     int
	PageSize int
}
