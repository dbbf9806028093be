package analysis

import (
	"fmt"
	"strings"
	"time"
)

// BuildRecord returns the persistable form of a, or nil when consent was not given.
// Consent gates storage only; the caller still returns a to the user.
func BuildRecord(id ID, a Assessment, userID, imageRef string, consent bool, symptoms string) *Record {
	if !consent {
		return nil
	}
	if strings.TrimSpace(imageRef) == "" {
		imageRef = TextAnalysisRef
	}
	findings := make([]Finding, len(a.Findings))
	copy(findings, a.Findings)
	conditions := make([]string, len(a.Conditions))
	copy(conditions, a.Conditions)
	a.Findings = findings
	a.Conditions = conditions

	return &Record{
		ID:          id,
		UserID:      userID,
		ImageRef:    imageRef,
		Consent:     true,
		SymptomText: strings.TrimSpace(symptoms),
		Symptoms:    SymptomList(symptoms),
		Assessment:  a,
	}
}

// BlobName follows the {epochMillis}-{userId}.jpg convention.
func BlobName(now time.Time, userID string) string {
	return fmt.Sprintf("%d-%s.jpg", now.UnixMilli(), userID)
}

// BatchBlobName adds the item index so images in one batch never share a name.
func BatchBlobName(now time.Time, userID string, index int) string {
	return fmt.Sprintf("%d-%s-%d.jpg", now.UnixMilli(), userID, index)
}

// SymptomList splits free symptom text on commas, semicolons and newlines.
// Entries are trimmed and deduplicated case-insensitively, first occurrence kept.
func SymptomList(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		key := strings.ToLower(p)
		if p == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}
