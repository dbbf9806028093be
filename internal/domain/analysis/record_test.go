package analysis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRecordConsent(t *testing.T) {
	a := Assessment{Conditions: []string{"melanoma"}, Risk: RiskHigh}

	assert.Nil(t, BuildRecord("id-1", a, "user-1", "uploads/x.jpg", false, "pain"))

	r := BuildRecord("id-1", a, "user-1", "uploads/x.jpg", true, "  pain ")
	require.NotNil(t, r)
	assert.Equal(t, ID("id-1"), r.ID)
	assert.Equal(t, "user-1", r.UserID)
	assert.Equal(t, "uploads/x.jpg", r.ImageRef)
	assert.Equal(t, "pain", r.SymptomText)
	assert.True(t, r.Consent)
	assert.Equal(t, RiskHigh, r.Assessment.Risk)
}

func TestBuildRecordSplitsSymptoms(t *testing.T) {
	r := BuildRecord("id-4", Assessment{}, "u", "", true, "Itching, pain;itching\n")
	require.NotNil(t, r)
	assert.Equal(t, []string{"Itching", "pain"}, r.Symptoms)

	r = BuildRecord("id-5", Assessment{}, "u", "", true, "")
	assert.Equal(t, []string{}, r.Symptoms)
}

func TestBuildRecordTextRef(t *testing.T) {
	r := BuildRecord("id-2", Assessment{}, "user-1", "", true, "")
	require.NotNil(t, r)
	assert.Equal(t, TextAnalysisRef, r.ImageRef)
}

func TestBuildRecordCopiesSlices(t *testing.T) {
	a := Assessment{Conditions: []string{"eczema"}}
	r := BuildRecord("id-3", a, "u", "", true, "")
	a.Conditions[0] = "changed"
	assert.Equal(t, "eczema", r.Assessment.Conditions[0])
}

func TestBlobName(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "1700000000123-user-9.jpg", BlobName(now, "user-9"))
	assert.Equal(t, "1700000000123-user-9-2.jpg", BatchBlobName(now, "user-9", 2))
}

func TestInvalidImageError(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := &InvalidImageError{Cause: cause}
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "invalid image: unexpected EOF", err.Error())
}

func TestInputKind(t *testing.T) {
	assert.Equal(t, InputImage, Input{Image: []byte{1}}.Kind())
	assert.Equal(t, InputText, Input{Prompt: "itchy"}.Kind())
}

func TestSymptomList(t *testing.T) {
	assert.Equal(t, []string{"itching", "redness", "Pain at night"},
		SymptomList(" itching, redness;\nPain at night, ITCHING ,, "))
	assert.Empty(t, SymptomList("   "))
}
