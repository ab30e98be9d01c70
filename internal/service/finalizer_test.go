package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-pipeline-server/internal/domain"
)

const fluFinalJSON = `{
	"diagnosisName": "Influenza",
	"diagnosisCode": "J11.1",
	"confidence": 0.85,
	"supportingEvidence": ["fever", "myalgia", "sick contact"],
	"recommendedTests": ["Rapid influenza antigen test"],
	"recommendedTreatments": ["Oseltamivir 75mg twice daily for 5 days", "Rest and hydration"]
}`

func TestFinalizeHealthyResponse(t *testing.T) {
	reasoner := &fakeReasoner{defaultResponse: fluFinalJSON}
	svc := NewFinalizerService(reasoner, testLogger())

	result := svc.Finalize(context.Background(), testPatientContext(), fluTranscript, nil)

	require.NotNil(t, result)
	assert.Equal(t, "Influenza", result.DiagnosisName)
	assert.Equal(t, "J11.1", result.DiagnosisCode)
	assert.InDelta(t, 0.85, result.Confidence, 0.001)
	assert.Len(t, result.RecommendedTreatments, 2)
	assert.False(t, result.IsFallback())
}

func TestFinalizeUnparseableResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{name: "plain prose", response: "not json"},
		{name: "empty response", response: ""},
		{name: "object without a name", response: `{"confidence": 0.9}`},
		{name: "truncated json", response: `{"diagnosisName": "Influ`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasoner := &fakeReasoner{defaultResponse: tt.response}
			svc := NewFinalizerService(reasoner, testLogger())

			result := svc.Finalize(context.Background(), testPatientContext(), fluTranscript, nil)

			require.NotNil(t, result)
			assert.Equal(t, domain.FallbackDiagnosisName, result.DiagnosisName)
			assert.Equal(t, domain.FallbackConfidence, result.Confidence)
			assert.True(t, result.IsFallback())
			// The fallback is exactly the sentinel pair: no invented
			// evidence, tests or treatments.
			assert.Empty(t, result.SupportingEvidence)
			assert.Empty(t, result.RecommendedTests)
			assert.Empty(t, result.RecommendedTreatments)
		})
	}
}

func TestFinalizeCallFailure(t *testing.T) {
	reasoner := &fakeReasoner{defaultErr: errReasonerDown}
	svc := NewFinalizerService(reasoner, testLogger())

	result := svc.Finalize(context.Background(), testPatientContext(), fluTranscript, nil)

	require.NotNil(t, result)
	assert.True(t, result.IsFallback())
}

func TestFinalizeClampsConfidence(t *testing.T) {
	reasoner := &fakeReasoner{defaultResponse: `{"diagnosisName": "Influenza", "confidence": 1.7}`}
	svc := NewFinalizerService(reasoner, testLogger())

	result := svc.Finalize(context.Background(), testPatientContext(), fluTranscript, nil)

	assert.Equal(t, 1.0, result.Confidence)
}
