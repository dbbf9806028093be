package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bryanwahyu/dermascan/internal/domain/ai"
	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
	"github.com/bryanwahyu/dermascan/internal/domain/risk"
)

// DegradedMessage is returned to callers when a provider's reply could not be read.
const DegradedMessage = "The analysis service returned an unreadable result; no confident prediction is available."

// StripCodeFence removes a markdown code block around a JSON reply. Without a
// fence it falls back to the outermost {...} span.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	const fence = "```"

	start := strings.Index(s, fence)
	if start == -1 {
		first := strings.Index(s, "{")
		last := strings.LastIndex(s, "}")
		if first == -1 || last < first {
			return s
		}
		return strings.TrimSpace(s[first : last+1])
	}

	rest := s[start+len(fence):]
	end := strings.Index(rest, fence)
	if end == -1 {
		return s
	}
	body := strings.TrimSpace(rest[:end])
	// drop a language tag such as ```json
	if first := strings.IndexAny(body, "{["); first > 0 {
		body = body[first:]
	} else if first == -1 {
		return ""
	}
	return strings.TrimSpace(body)
}

// Score accepts a JSON number or a string such as "0.8" or "85%".
type Score float64

func (s *Score) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*s = Score(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("score: %w", err)
	}
	str = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(str), "%"))
	if str == "" {
		*s = 0
		return nil
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return fmt.Errorf("score %q: %w", str, err)
	}
	*s = Score(f)
	return nil
}

// Condition is one entry of a "conditions" array.
type Condition struct {
	Label      string
	Confidence *Score
}

// Conditions accepts a string, an array of strings, or an array of
// {name|label|condition, confidence} objects.
type Conditions []Condition

func (c *Conditions) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		if strings.TrimSpace(single) != "" {
			*c = Conditions{{Label: single}}
		}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("conditions: %w", err)
	}
	out := make(Conditions, 0, len(raw))
	for _, item := range raw {
		var label string
		if err := json.Unmarshal(item, &label); err == nil {
			out = append(out, Condition{Label: label})
			continue
		}
		var obj struct {
			Name       string `json:"name"`
			Label      string `json:"label"`
			Condition  string `json:"condition"`
			Confidence *Score `json:"confidence"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("conditions item: %w", err)
		}
		l := obj.Label
		if l == "" {
			l = obj.Name
		}
		if l == "" {
			l = obj.Condition
		}
		out = append(out, Condition{Label: l, Confidence: obj.Confidence})
	}
	*c = out
	return nil
}

// VisionReply is the JSON object requested by GetVisionSystemPrompt.
type VisionReply struct {
	Conditions Conditions `json:"conditions"`
	Confidence Score      `json:"confidence"`
	Message    string     `json:"message"`
	Timestamp  string     `json:"timestamp"`
}

// TextReply is the JSON object requested by GetTextSystemPrompt.
type TextReply struct {
	Conditions Conditions `json:"conditions"`
	RiskLevel  string     `json:"risk_level"`
	Confidence Score      `json:"confidence"`
	Guidance   string     `json:"guidance"`
}

// ParseVision reads a vision reply into an Inference. The error is always a
// *ai.MalformedOutputError.
func ParseVision(provider, raw string) (analysis.Inference, error) {
	var r VisionReply
	if err := decode(provider, raw, &r); err != nil {
		return analysis.Inference{}, err
	}
	return analysis.Inference{
		Provider:    provider,
		Predictions: r.Conditions.predictions(float64(r.Confidence)),
		Message:     strings.TrimSpace(r.Message),
	}, nil
}

// ParseText reads a symptom-text reply. risk_level is taken as the assessment's risk directly.
func ParseText(provider, raw string) (analysis.Inference, error) {
	var r TextReply
	if err := decode(provider, raw, &r); err != nil {
		return analysis.Inference{}, err
	}
	return analysis.Inference{
		Provider:    provider,
		Predictions: r.Conditions.predictions(float64(r.Confidence)),
		RiskHint:    risk.ParseRiskLevel(r.RiskLevel),
		Guidance:    strings.TrimSpace(r.Guidance),
	}, nil
}

// Degraded is the zero-confidence stand-in for an unreadable reply.
func Degraded(provider string) analysis.Inference {
	return analysis.Inference{
		Provider:    provider,
		Predictions: analysis.PredictionList{},
		Message:     DegradedMessage,
		Degraded:    true,
	}
}

func decode(provider, raw string, v any) error {
	body := StripCodeFence(raw)
	if body == "" {
		return &ai.MalformedOutputError{Provider: provider, Raw: raw, Cause: errors.New("empty reply")}
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &ai.MalformedOutputError{Provider: provider, Raw: raw, Cause: err}
	}
	return nil
}

// predictions gives the first condition the reply's top-level confidence
// unless it carries its own; later conditions without one get zero.
func (c Conditions) predictions(top float64) analysis.PredictionList {
	out := make(analysis.PredictionList, 0, len(c))
	for i, cond := range c {
		label := strings.TrimSpace(cond.Label)
		if label == "" {
			continue
		}
		score := 0.0
		switch {
		case cond.Confidence != nil:
			score = float64(*cond.Confidence)
		case i == 0:
			score = top
		}
		out = append(out, analysis.Prediction{Label: label, Score: score})
	}
	return out
}
