package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
)

// ProgressFunc receives state transitions as a run advances. Implementations
// must not block; the orchestrator calls it inline between stages.
type ProgressFunc func(requestID string, state domain.PipelineState)

// RunRecorder appends a completed or failed run to the audit log
type RunRecorder interface {
	RecordRun(ctx context.Context, result *domain.PipelineRunResult) error
}

// RunStore caches completed run results for later retrieval by request id
type RunStore interface {
	StoreRun(ctx context.Context, result *domain.PipelineRunResult) error
}

// RunParams are the inbound parameters for a pipeline run. Transcript is
// optional; when empty the encounter's latest recorded transcript is used.
type RunParams struct {
	PatientID   string `json:"patient_id"`
	EncounterID string `json:"encounter_id"`
	Transcript  string `json:"transcript,omitempty"`
}

// PipelineService orchestrates a full diagnostic run: differential generation,
// diagnosis finalization, concurrent field extraction, SOAP composition and
// persistence. Reasoning-service faults degrade individual stages; only
// missing inputs and infrastructure faults fail a run.
type PipelineService struct {
	patients     domain.PatientReader
	differential *DifferentialService
	finalizer    *FinalizerService
	extraction   *ExtractionService
	soap         *SoapService
	trials       *TrialMatchService
	persistence  *PersistenceService
	recorder     RunRecorder
	store        RunStore
	progress     ProgressFunc
	logger       *logrus.Logger
}

// PipelineOptions carry the optional orchestrator collaborators. Any field
// may be nil.
type PipelineOptions struct {
	Trials   *TrialMatchService
	Recorder RunRecorder
	Store    RunStore
	Progress ProgressFunc
}

// NewPipelineService creates a new pipeline orchestrator
func NewPipelineService(
	patients domain.PatientReader,
	differential *DifferentialService,
	finalizer *FinalizerService,
	extraction *ExtractionService,
	soap *SoapService,
	persistence *PersistenceService,
	opts PipelineOptions,
	logger *logrus.Logger,
) *PipelineService {
	return &PipelineService{
		patients:     patients,
		differential: differential,
		finalizer:    finalizer,
		extraction:   extraction,
		soap:         soap,
		trials:       opts.Trials,
		persistence:  persistence,
		recorder:     opts.Recorder,
		store:        opts.Store,
		progress:     opts.Progress,
		logger:       logger,
	}
}

// Run executes the full pipeline for one encounter. On success the returned
// result is in the Completed state, possibly carrying warnings from degraded
// stages. A non-nil error means the run failed outright: missing inputs,
// unknown patient or encounter, or an infrastructure fault during persistence.
func (s *PipelineService) Run(ctx context.Context, params RunParams) (*domain.PipelineRunResult, error) {
	return s.run(ctx, params, s.progress)
}

// RunWithProgress executes the pipeline like Run while also delivering state
// transitions to the given callback. Used by callers that stream a single
// run's progress, such as the websocket endpoint.
func (s *PipelineService) RunWithProgress(ctx context.Context, params RunParams, progress ProgressFunc) (*domain.PipelineRunResult, error) {
	combined := progress
	if s.progress != nil && progress != nil {
		shared := s.progress
		combined = func(requestID string, state domain.PipelineState) {
			shared(requestID, state)
			progress(requestID, state)
		}
	} else if combined == nil {
		combined = s.progress
	}
	return s.run(ctx, params, combined)
}

func (s *PipelineService) run(ctx context.Context, params RunParams, progress ProgressFunc) (*domain.PipelineRunResult, error) {
	requestID := uuid.New().String()
	log := s.logger.WithFields(logrus.Fields{
		"request_id":   requestID,
		"patient_id":   params.PatientID,
		"encounter_id": params.EncounterID,
	})

	result := &domain.PipelineRunResult{
		RequestID:   requestID,
		PatientID:   params.PatientID,
		EncounterID: params.EncounterID,
		State:       domain.StateCreated,
		StartedAt:   time.Now().UTC(),
	}
	s.notify(result, progress)

	if strings.TrimSpace(params.PatientID) == "" {
		return nil, s.fail(ctx, result, log, progress, domain.NewMissingInputError("patient_id", "patient business id is required"))
	}
	if strings.TrimSpace(params.EncounterID) == "" {
		return nil, s.fail(ctx, result, log, progress, domain.NewMissingInputError("encounter_id", "encounter business id is required"))
	}

	pc, err := s.patients.GetPatientContext(ctx, params.PatientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, s.fail(ctx, result, log, progress, fmt.Errorf("patient %s: %w", params.PatientID, domain.ErrNotFound))
		}
		return nil, s.fail(ctx, result, log, progress, &domain.PipelineError{Stage: "load_context", RequestID: requestID, Err: err})
	}

	transcript := strings.TrimSpace(params.Transcript)
	if transcript == "" {
		transcript, err = s.patients.GetEncounterTranscript(ctx, pc.PatientRowID, params.EncounterID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, s.fail(ctx, result, log, progress,
					domain.NewMissingInputError("transcript", "no transcript provided and none recorded for the encounter"))
			}
			return nil, s.fail(ctx, result, log, progress, &domain.PipelineError{Stage: "load_transcript", RequestID: requestID, Err: err})
		}
	}

	log.Info("Pipeline run started")

	// Stage 1: differential generation. Parse and call failures degrade to an
	// empty differential; nothing here fails the run.
	differentials, _ := s.differential.Generate(ctx, pc, transcript)
	result.Differentials = differentials
	s.transition(result, domain.StateDifferentialsGenerated, progress)

	// Stage 2: diagnosis finalization. Always yields a result, sentinel on
	// failure.
	diagnostic := s.finalizer.Finalize(ctx, pc, transcript, differentials)
	if diagnostic.IsFallback() {
		result.Warnings = append(result.Warnings, domain.RunWarning{
			Stage:   "finalizer",
			Message: "finalized diagnosis unavailable, sentinel substituted",
			Time:    time.Now().UTC(),
		})
	}
	if s.trials != nil {
		diagnostic.ClinicalTrialMatches = s.trials.Match(ctx, diagnostic)
	}
	result.DiagnosticResult = *diagnostic
	s.transition(result, domain.StateDiagnosisFinalized, progress)

	// Stage 3: concurrent single-field extraction. Each failed field stays
	// empty and surfaces as its own warning.
	fields, failed := s.extraction.Extract(ctx, diagnostic.DiagnosisName, transcript)
	result.ExtractedFields = fields
	for _, f := range failed {
		result.Warnings = append(result.Warnings, domain.RunWarning{
			Stage:   "extraction:" + f,
			Message: "field extraction failed, value left empty",
			Time:    time.Now().UTC(),
		})
	}
	s.transition(result, domain.StateFieldsExtracted, progress)

	// Stage 4: SOAP composition, templated note on failure.
	note, degraded := s.soap.Compose(ctx, transcript, diagnostic)
	result.SoapNote = note
	if degraded {
		result.Warnings = append(result.Warnings, domain.RunWarning{
			Stage:   "soap",
			Message: "reasoning note unavailable, templated note substituted",
			Time:    time.Now().UTC(),
		})
	}
	s.transition(result, domain.StateNoteComposed, progress)

	// Stage 5: persistence. Step failures become warnings; only encounter
	// resolution is fatal.
	warnings, err := s.persistence.Persist(ctx, result, pc.PatientRowID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, s.fail(ctx, result, log, progress, fmt.Errorf("encounter %s: %w", params.EncounterID, domain.ErrNotFound))
		}
		return nil, s.fail(ctx, result, log, progress, &domain.PipelineError{Stage: "persistence", RequestID: requestID, Err: err})
	}
	result.Warnings = append(result.Warnings, warnings...)
	s.transition(result, domain.StatePersisted, progress)

	result.CompletedAt = time.Now().UTC()
	s.transition(result, domain.StateCompleted, progress)

	s.record(ctx, result)
	if s.store != nil {
		if err := s.store.StoreRun(ctx, result); err != nil {
			log.WithError(err).Warn("Failed to cache run result")
		}
	}

	log.WithFields(logrus.Fields{
		"state":     result.State,
		"diagnosis": result.DiagnosticResult.DiagnosisName,
		"warnings":  len(result.Warnings),
		"degraded":  result.Degraded(),
		"duration":  result.CompletedAt.Sub(result.StartedAt).String(),
	}).Info("Pipeline run completed")

	return result, nil
}

func (s *PipelineService) transition(result *domain.PipelineRunResult, state domain.PipelineState, progress ProgressFunc) {
	result.State = state
	s.notify(result, progress)
}

func (s *PipelineService) notify(result *domain.PipelineRunResult, progress ProgressFunc) {
	if progress != nil {
		progress(result.RequestID, result.State)
	}
}

// fail marks the run Failed, records it for the audit trail and returns the
// causing error.
func (s *PipelineService) fail(ctx context.Context, result *domain.PipelineRunResult, log *logrus.Entry, progress ProgressFunc, err error) error {
	result.State = domain.StateFailed
	result.CompletedAt = time.Now().UTC()
	s.notify(result, progress)
	s.record(ctx, result)
	log.WithError(err).Error("Pipeline run failed")
	return err
}

func (s *PipelineService) record(ctx context.Context, result *domain.PipelineRunResult) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordRun(ctx, result); err != nil {
		s.logger.WithError(err).Warn("Failed to record run in audit log")
	}
}
