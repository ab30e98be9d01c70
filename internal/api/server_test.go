package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/service"
)

type stubReasoner struct{}

func (stubReasoner) Complete(_ context.Context, prompt string, _ string) (string, error) {
	// Enough of a script to carry a run end to end: the finalizer and SOAP
	// prompts get objects, everything else gets short text.
	switch {
	case strings.Contains(prompt, "ranked differential diagnosis"):
		return `[{"name": "Influenza", "qualitativeRisk": "High", "likelihoodPercentage": 70}]`, nil
	case strings.Contains(prompt, "Select the single best diagnosis"):
		return `{"diagnosisName": "Influenza", "diagnosisCode": "J11.1", "confidence": 0.85, "recommendedTreatments": ["Oseltamivir"]}`, nil
	case strings.Contains(prompt, "Compose a SOAP note"):
		return `{"subjective": "s", "objective": "o", "assessment": "Influenza (J11.1).", "plan": "p"}`, nil
	default:
		return "J11.1", nil
	}
}

type stubReader struct{ known bool }

func (r stubReader) GetPatientContext(_ context.Context, patientID string) (*domain.PatientContext, error) {
	if !r.known {
		return nil, domain.ErrNotFound
	}
	return &domain.PatientContext{PatientRowID: 1, PatientID: patientID}, nil
}

func (r stubReader) GetEncounterTranscript(_ context.Context, _ int64, _ string) (string, error) {
	return "", domain.ErrNotFound
}

func (r stubReader) ResolveEncounterRowID(_ context.Context, _ int64, _ string) (int64, error) {
	return 42, nil
}

type stubWriter struct{}

func (stubWriter) UpsertEncounterFields(_ context.Context, _ int64, _ domain.EncounterFields) error {
	return nil
}
func (stubWriter) InsertCondition(_ context.Context, _, _ int64, _, _ string) error { return nil }
func (stubWriter) ReplaceDifferentialDiagnoses(_ context.Context, _, _ int64, _ []domain.DifferentialDiagnosis) error {
	return nil
}

func newTestServer(t *testing.T, reader domain.PatientReader) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reasoner := stubReasoner{}
	pipeline := service.NewPipelineService(
		reader,
		service.NewDifferentialService(reasoner, nil, logger),
		service.NewFinalizerService(reasoner, logger),
		service.NewExtractionService(reasoner, logger),
		service.NewSoapService(reasoner, logger),
		service.NewPersistenceService(reader, stubWriter{}, logger),
		service.PipelineOptions{},
		logger,
	)

	cfg := domain.Config{Logging: domain.LoggingConfig{Level: "error"}}
	documents := service.NewDocumentService(reader, logger)
	return NewServer(cfg, pipeline, documents, nil, nil, nil, logger)
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, stubReader{known: true})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestHandleRunPipeline(t *testing.T) {
	server := newTestServer(t, stubReader{known: true})

	body, _ := json.Marshal(service.RunParams{
		PatientID:   "patient-001",
		EncounterID: "enc-001",
		Transcript:  "Fever and cough for three days.",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var result domain.PipelineRunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, domain.StateCompleted, result.State)
	assert.Equal(t, "Influenza", result.DiagnosticResult.DiagnosisName)
	assert.NotEmpty(t, result.RequestID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleRunPipelineMissingInput(t *testing.T) {
	server := newTestServer(t, stubReader{known: true})

	// No transcript in the request and none stored.
	body, _ := json.Marshal(service.RunParams{
		PatientID:   "patient-001",
		EncounterID: "enc-001",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "transcript")
}

func TestHandleRunPipelineUnknownPatient(t *testing.T) {
	server := newTestServer(t, stubReader{known: false})

	body, _ := json.Marshal(service.RunParams{
		PatientID:   "nobody",
		EncounterID: "enc-001",
		Transcript:  "Fever.",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRunPipelineMalformedBody(t *testing.T) {
	server := newTestServer(t, stubReader{known: true})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePriorAuthorization(t *testing.T) {
	server := newTestServer(t, stubReader{known: true})

	body, _ := json.Marshal(service.PriorAuthParams{
		PatientID: "patient-001",
		Diagnosis: "Influenza",
		Treatment: "Oseltamivir 75mg daily",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/prior-auth", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var auth domain.PriorAuthorization
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &auth))
	assert.Equal(t, "Influenza", auth.Diagnosis)
	assert.Equal(t, "Daily", auth.Frequency)
}

func TestHandleSpecialistReferralMissingInput(t *testing.T) {
	server := newTestServer(t, stubReader{known: true})

	body, _ := json.Marshal(service.ReferralParams{
		PatientID: "patient-001",
		Diagnosis: "Influenza",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/referral", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "specialist")
}

func TestHandleGetRunWithCacheDisabled(t *testing.T) {
	server := newTestServer(t, stubReader{known: true})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/some-id", nil)
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
