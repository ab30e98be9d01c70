package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-pipeline-server/internal/domain"
)

func TestTrialMatchCachesByDiagnosis(t *testing.T) {
	client := &fakeTrialClient{matches: []domain.ClinicalTrialMatch{
		{ID: "NCT0001", Title: "Antiviral comparison study"},
	}}
	svc, err := NewTrialMatchService(client, 8, testLogger())
	require.NoError(t, err)

	first := svc.Match(context.Background(), fluResult())
	second := svc.Match(context.Background(), fluResult())

	assert.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.calls, "second lookup served from cache")
}

func TestTrialMatchSkipsFallbackDiagnosis(t *testing.T) {
	client := &fakeTrialClient{}
	svc, err := NewTrialMatchService(client, 8, testLogger())
	require.NoError(t, err)

	result := &domain.DiagnosticResult{
		DiagnosisName: domain.FallbackDiagnosisName,
		Confidence:    domain.FallbackConfidence,
	}
	matches := svc.Match(context.Background(), result)

	assert.Empty(t, matches)
	assert.Zero(t, client.calls)
}

func TestTrialMatchSearchFailureYieldsEmpty(t *testing.T) {
	client := &fakeTrialClient{err: errReasonerDown}
	svc, err := NewTrialMatchService(client, 8, testLogger())
	require.NoError(t, err)

	matches := svc.Match(context.Background(), fluResult())

	assert.Empty(t, matches)
}
