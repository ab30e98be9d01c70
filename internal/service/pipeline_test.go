package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-pipeline-server/internal/domain"
)

// healthyReasoner scripts a full successful run: differential, finalizer,
// four extraction fields and the SOAP note.
func healthyReasoner() *fakeReasoner {
	r := &fakeReasoner{}
	r.on("ranked differential diagnosis", fluDifferentialJSON, nil)
	r.on("Select the single best diagnosis", fluFinalJSON, nil)
	r.on("concise clinical description", "Acute viral respiratory infection with systemic symptoms.", nil)
	r.on("most appropriate ICD-10 code", "J11.1", nil)
	r.on("encounter reason code", "J11.1", nil)
	r.on("reason for this visit", "Fever and cough", nil)
	r.on("Compose a SOAP note", `{
		"subjective": "Three days of fever, chills and body aches.",
		"objective": "Febrile, otherwise unremarkable exam.",
		"assessment": "Findings consistent with Influenza (J11.1).",
		"plan": "1. Oseltamivir 75mg twice daily for 5 days\n2. Rest and hydration"
	}`, nil)
	return r
}

func newTestPipeline(reasoner *fakeReasoner, reader *fakePatientReader, writer *fakeEncounterWriter, opts PipelineOptions) *PipelineService {
	logger := testLogger()
	return NewPipelineService(
		reader,
		NewDifferentialService(reasoner, nil, logger),
		NewFinalizerService(reasoner, logger),
		NewExtractionService(reasoner, logger),
		NewSoapService(reasoner, logger),
		NewPersistenceService(reader, writer, logger),
		opts,
		logger,
	)
}

func TestRunHealthyPipeline(t *testing.T) {
	reader := &fakePatientReader{context: testPatientContext(), encounterRowID: 42}
	writer := &fakeEncounterWriter{}

	var mu sync.Mutex
	var states []domain.PipelineState
	opts := PipelineOptions{
		Progress: func(_ string, state domain.PipelineState) {
			mu.Lock()
			states = append(states, state)
			mu.Unlock()
		},
	}

	svc := newTestPipeline(healthyReasoner(), reader, writer, opts)

	result, err := svc.Run(context.Background(), RunParams{
		PatientID:   "patient-001",
		EncounterID: "enc-001",
		Transcript:  fluTranscript,
	})

	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, domain.StateCompleted, result.State)
	assert.Empty(t, result.Warnings)
	assert.False(t, result.Degraded())

	assert.Equal(t, "Influenza", result.DiagnosticResult.DiagnosisName)
	assert.Equal(t, "J11.1", result.DiagnosticResult.DiagnosisCode)
	assert.Len(t, result.Differentials, 3)
	assert.Contains(t, result.SoapNote.Assessment, "Influenza (J11.1)")
	assert.Equal(t, "J11.1", result.ExtractedFields.ClassificationCode)

	// Full state progression was observed in order.
	assert.Equal(t, []domain.PipelineState{
		domain.StateCreated,
		domain.StateDifferentialsGenerated,
		domain.StateDiagnosisFinalized,
		domain.StateFieldsExtracted,
		domain.StateNoteComposed,
		domain.StatePersisted,
		domain.StateCompleted,
	}, states)

	// All artifacts reached the writer.
	assert.Len(t, writer.upserted, 1)
	assert.Len(t, writer.conditions, 1)
	assert.Len(t, writer.differentials, 1)
	assert.False(t, result.CompletedAt.Before(result.StartedAt))
}

func TestRunMissingIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		params RunParams
	}{
		{name: "missing patient id", params: RunParams{EncounterID: "enc-001"}},
		{name: "missing encounter id", params: RunParams{PatientID: "patient-001"}},
		{name: "blank patient id", params: RunParams{PatientID: "  ", EncounterID: "enc-001"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakePatientReader{context: testPatientContext()}
			svc := newTestPipeline(healthyReasoner(), reader, &fakeEncounterWriter{}, PipelineOptions{})

			result, err := svc.Run(context.Background(), tt.params)

			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, domain.IsMissingInput(err))
		})
	}
}

func TestRunFetchesStoredTranscriptWhenOmitted(t *testing.T) {
	reader := &fakePatientReader{
		context:        testPatientContext(),
		transcript:     fluTranscript,
		encounterRowID: 42,
	}
	reasoner := healthyReasoner()
	svc := newTestPipeline(reasoner, reader, &fakeEncounterWriter{}, PipelineOptions{})

	result, err := svc.Run(context.Background(), RunParams{
		PatientID:   "patient-001",
		EncounterID: "enc-001",
	})

	require.NoError(t, err)
	assert.Equal(t, "Influenza", result.DiagnosticResult.DiagnosisName)
}

func TestRunNoTranscriptAnywhereIsFatal(t *testing.T) {
	reader := &fakePatientReader{
		context:       testPatientContext(),
		transcriptErr: domain.ErrNotFound,
	}
	reasoner := healthyReasoner()
	svc := newTestPipeline(reasoner, reader, &fakeEncounterWriter{}, PipelineOptions{})

	result, err := svc.Run(context.Background(), RunParams{
		PatientID:   "patient-001",
		EncounterID: "enc-001",
	})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, domain.IsMissingInput(err))
	assert.Zero(t, reasoner.callCount(), "no reasoning calls before inputs are resolved")
}

func TestRunUnknownPatientIsFatal(t *testing.T) {
	reader := &fakePatientReader{contextErr: domain.ErrNotFound}
	svc := newTestPipeline(healthyReasoner(), reader, &fakeEncounterWriter{}, PipelineOptions{})

	result, err := svc.Run(context.Background(), RunParams{
		PatientID:   "nobody",
		EncounterID: "enc-001",
		Transcript:  fluTranscript,
	})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRunDegradesThroughReasoningOutage(t *testing.T) {
	// Every reasoning call fails. The run still completes with the sentinel
	// diagnosis, empty fields and the templated note.
	reasoner := &fakeReasoner{defaultErr: errReasonerDown}
	reader := &fakePatientReader{context: testPatientContext(), encounterRowID: 42}
	writer := &fakeEncounterWriter{}
	svc := newTestPipeline(reasoner, reader, writer, PipelineOptions{})

	result, err := svc.Run(context.Background(), RunParams{
		PatientID:   "patient-001",
		EncounterID: "enc-001",
		Transcript:  fluTranscript,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, result.State)
	assert.True(t, result.Degraded())
	assert.True(t, result.DiagnosticResult.IsFallback())
	assert.Equal(t, domain.FallbackConfidence, result.DiagnosticResult.Confidence)
	assert.Empty(t, result.Differentials)
	assert.Contains(t, result.SoapNote.Assessment, domain.FallbackDiagnosisName)

	// Warnings cover the finalizer, all four extraction fields and the note.
	assert.Len(t, result.Warnings, 6)

	// Degraded results are still persisted.
	assert.Len(t, writer.upserted, 1)
	assert.Equal(t, domain.FallbackDiagnosisName, writer.upserted[0].Diagnosis)
}

func TestRunPersistenceStepFailureIsWarning(t *testing.T) {
	reader := &fakePatientReader{context: testPatientContext(), encounterRowID: 42}
	writer := &fakeEncounterWriter{conditionErr: errors.New("constraint violation")}
	svc := newTestPipeline(healthyReasoner(), reader, writer, PipelineOptions{})

	result, err := svc.Run(context.Background(), RunParams{
		PatientID:   "patient-001",
		EncounterID: "enc-001",
		Transcript:  fluTranscript,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, result.State)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, stepCondition, result.Warnings[0].Stage)
	assert.True(t, result.Degraded())
}

func TestRunUnknownEncounterDuringPersistenceIsFatal(t *testing.T) {
	reader := &fakePatientReader{context: testPatientContext(), encounterErr: domain.ErrNotFound}
	svc := newTestPipeline(healthyReasoner(), reader, &fakeEncounterWriter{}, PipelineOptions{})

	result, err := svc.Run(context.Background(), RunParams{
		PatientID:   "patient-001",
		EncounterID: "missing",
		Transcript:  fluTranscript,
	})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRunAttachesTrialMatches(t *testing.T) {
	reader := &fakePatientReader{context: testPatientContext(), encounterRowID: 42}
	trials := &fakeTrialClient{matches: []domain.ClinicalTrialMatch{
		{ID: "NCT0001", Title: "Antiviral comparison study", Phase: "3"},
	}}
	trialSvc, err := NewTrialMatchService(trials, 8, testLogger())
	require.NoError(t, err)

	svc := newTestPipeline(healthyReasoner(), reader, &fakeEncounterWriter{}, PipelineOptions{Trials: trialSvc})

	result, err := svc.Run(context.Background(), RunParams{
		PatientID:   "patient-001",
		EncounterID: "enc-001",
		Transcript:  fluTranscript,
	})

	require.NoError(t, err)
	require.Len(t, result.DiagnosticResult.ClinicalTrialMatches, 1)
	assert.Equal(t, "NCT0001", result.DiagnosticResult.ClinicalTrialMatches[0].ID)
}

func TestRunGeneratesUniqueRequestIDs(t *testing.T) {
	reader := &fakePatientReader{context: testPatientContext(), encounterRowID: 42}
	svc := newTestPipeline(healthyReasoner(), reader, &fakeEncounterWriter{}, PipelineOptions{})

	params := RunParams{PatientID: "patient-001", EncounterID: "enc-001", Transcript: fluTranscript}

	first, err := svc.Run(context.Background(), params)
	require.NoError(t, err)
	second, err := svc.Run(context.Background(), params)
	require.NoError(t, err)

	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestRunWithProgressNotifiesBothCallbacks(t *testing.T) {
	reader := &fakePatientReader{context: testPatientContext(), encounterRowID: 42}

	var mu sync.Mutex
	var shared, extra []domain.PipelineState
	opts := PipelineOptions{
		Progress: func(_ string, state domain.PipelineState) {
			mu.Lock()
			shared = append(shared, state)
			mu.Unlock()
		},
	}
	svc := newTestPipeline(healthyReasoner(), reader, &fakeEncounterWriter{}, opts)

	result, err := svc.RunWithProgress(context.Background(), RunParams{
		PatientID:   "patient-001",
		EncounterID: "enc-001",
		Transcript:  fluTranscript,
	}, func(_ string, state domain.PipelineState) {
		mu.Lock()
		extra = append(extra, state)
		mu.Unlock()
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, result.State)
	assert.Equal(t, shared, extra)
	assert.Equal(t, domain.StateCreated, extra[0])
	assert.Equal(t, domain.StateCompleted, extra[len(extra)-1])
}
