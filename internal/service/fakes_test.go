package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
)

// fakeReasoner scripts reasoning responses by matching prompt prefixes.
// Unmatched prompts fall through to defaultResponse or defaultErr.
type fakeReasoner struct {
	mu              sync.Mutex
	rules           []reasonerRule
	defaultResponse string
	defaultErr      error
	calls           []string
}

type reasonerRule struct {
	promptContains string
	response       string
	err            error
}

func (f *fakeReasoner) on(promptContains, response string, err error) *fakeReasoner {
	f.rules = append(f.rules, reasonerRule{promptContains: promptContains, response: response, err: err})
	return f
}

func (f *fakeReasoner) Complete(_ context.Context, prompt string, _ string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.mu.Unlock()

	for _, rule := range f.rules {
		if strings.Contains(prompt, rule.promptContains) {
			return rule.response, rule.err
		}
	}
	return f.defaultResponse, f.defaultErr
}

func (f *fakeReasoner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakePatientReader serves canned patient context and transcripts
type fakePatientReader struct {
	context        *domain.PatientContext
	contextErr     error
	transcript     string
	transcriptErr  error
	encounterRowID int64
	encounterErr   error
}

func (f *fakePatientReader) GetPatientContext(_ context.Context, patientID string) (*domain.PatientContext, error) {
	if f.contextErr != nil {
		return nil, f.contextErr
	}
	if f.context == nil {
		return nil, domain.ErrNotFound
	}
	return f.context, nil
}

func (f *fakePatientReader) GetEncounterTranscript(_ context.Context, _ int64, _ string) (string, error) {
	if f.transcriptErr != nil {
		return "", f.transcriptErr
	}
	return f.transcript, nil
}

func (f *fakePatientReader) ResolveEncounterRowID(_ context.Context, _ int64, _ string) (int64, error) {
	if f.encounterErr != nil {
		return 0, f.encounterErr
	}
	return f.encounterRowID, nil
}

// fakeEncounterWriter records writes and injects per-step failures
type fakeEncounterWriter struct {
	mu sync.Mutex

	fieldsErr        error
	conditionErr     error
	differentialsErr error

	upserted      []domain.EncounterFields
	conditions    []string
	differentials [][]domain.DifferentialDiagnosis
}

func (f *fakeEncounterWriter) UpsertEncounterFields(_ context.Context, _ int64, fields domain.EncounterFields) error {
	if f.fieldsErr != nil {
		return f.fieldsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, fields)
	return nil
}

func (f *fakeEncounterWriter) InsertCondition(_ context.Context, _, _ int64, code, description string) error {
	if f.conditionErr != nil {
		return f.conditionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conditions = append(f.conditions, code+"|"+description)
	return nil
}

func (f *fakeEncounterWriter) ReplaceDifferentialDiagnoses(_ context.Context, _, _ int64, rows []domain.DifferentialDiagnosis) error {
	if f.differentialsErr != nil {
		return f.differentialsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]domain.DifferentialDiagnosis, len(rows))
	copy(copied, rows)
	f.differentials = append(f.differentials, copied)
	return nil
}

// fakeTrialClient returns canned trial matches
type fakeTrialClient struct {
	matches []domain.ClinicalTrialMatch
	err     error
	calls   int
}

func (f *fakeTrialClient) Search(_ context.Context, _ string, _ int) ([]domain.ClinicalTrialMatch, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

var errReasonerDown = errors.New("reasoning service unavailable")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testPatientContext() *domain.PatientContext {
	return &domain.PatientContext{
		PatientRowID: 1,
		PatientID:    "patient-001",
		Gender:       "female",
		BirthDate:    "1985-04-12",
		Conditions: []domain.Condition{
			{Code: "E11.9", Description: "Type 2 diabetes mellitus"},
		},
		Medications: []domain.Medication{
			{Name: "Metformin", Dosage: "500mg", Status: "active"},
		},
	}
}

const fluTranscript = "Patient presents with fever, chills, dry cough and body aches for three days. " +
	"No shortness of breath. Reports contact with a sick coworker last week."
