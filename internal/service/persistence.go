package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
)

// Persistence stage name constants as they appear in run warnings
const (
	stepEncounterFields = "persist:encounter_fields"
	stepCondition       = "persist:condition"
	stepDifferentials   = "persist:differentials"
)

// PersistenceService writes a run's artifacts back to the encounter record.
// The write steps are independently committed: a failed step is recorded as a
// warning and the remaining steps still run. Only the initial encounter row
// resolution is fatal, since nothing can be written without it.
type PersistenceService struct {
	reader domain.PatientReader
	writer domain.EncounterWriter
	locks  *encounterLocks
	logger *logrus.Logger
}

// NewPersistenceService creates a new persistence writer service
func NewPersistenceService(reader domain.PatientReader, writer domain.EncounterWriter, logger *logrus.Logger) *PersistenceService {
	return &PersistenceService{
		reader: reader,
		writer: writer,
		locks:  newEncounterLocks(),
		logger: logger,
	}
}

// Persist writes the run's artifacts for the encounter. Concurrent runs for
// the same encounter serialize on an in-process advisory lock so their write
// steps never interleave; last completed run wins.
func (s *PersistenceService) Persist(ctx context.Context, result *domain.PipelineRunResult, patientRowID int64) ([]domain.RunWarning, error) {
	unlock := s.locks.lock(result.PatientID, result.EncounterID)
	defer unlock()

	encounterRowID, err := s.reader.ResolveEncounterRowID(ctx, patientRowID, result.EncounterID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve encounter %s: %w", result.EncounterID, err)
	}

	var warnings []domain.RunWarning

	fields := buildEncounterFields(result)
	if err := s.writer.UpsertEncounterFields(ctx, encounterRowID, fields); err != nil {
		warnings = append(warnings, s.warn(stepEncounterFields, result.EncounterID, err))
	}

	if err := s.writer.InsertCondition(ctx, patientRowID, encounterRowID,
		conditionCode(result), conditionDescription(result)); err != nil {
		warnings = append(warnings, s.warn(stepCondition, result.EncounterID, err))
	}

	if err := s.writer.ReplaceDifferentialDiagnoses(ctx, patientRowID, encounterRowID, result.Differentials); err != nil {
		warnings = append(warnings, s.warn(stepDifferentials, result.EncounterID, err))
	}

	s.logger.WithFields(logrus.Fields{
		"encounter_id": result.EncounterID,
		"warnings":     len(warnings),
	}).Info("Pipeline run persisted")

	return warnings, nil
}

func (s *PersistenceService) warn(step, encounterID string, err error) domain.RunWarning {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"step":         step,
		"encounter_id": encounterID,
	}).Error("Persistence step failed, continuing with remaining steps")
	return domain.RunWarning{
		Stage:   step,
		Message: err.Error(),
		Time:    time.Now().UTC(),
	}
}

// buildEncounterFields decomposes the run result into the encounter row's
// columns. Extracted fields take precedence over finalizer fields for the
// columns both produce, falling back when the extraction call failed.
func buildEncounterFields(result *domain.PipelineRunResult) domain.EncounterFields {
	code := result.ExtractedFields.ClassificationCode
	if code == "" {
		code = result.DiagnosticResult.DiagnosisCode
	}
	return domain.EncounterFields{
		Diagnosis:         result.DiagnosticResult.DiagnosisName,
		DiagnosisCode:     code,
		Treatments:        strings.Join(result.DiagnosticResult.RecommendedTreatments, "; "),
		SoapSubjective:    result.SoapNote.Subjective,
		SoapObjective:     result.SoapNote.Objective,
		SoapAssessment:    result.SoapNote.Assessment,
		SoapPlan:          result.SoapNote.Plan,
		ReasonCode:        result.ExtractedFields.ReasonCode,
		ReasonDisplayText: result.ExtractedFields.ReasonText,
	}
}

func conditionCode(result *domain.PipelineRunResult) string {
	if c := result.ExtractedFields.ClassificationCode; c != "" {
		return c
	}
	return result.DiagnosticResult.DiagnosisCode
}

func conditionDescription(result *domain.PipelineRunResult) string {
	if d := result.ExtractedFields.ConditionDescription; d != "" {
		return d
	}
	return result.DiagnosticResult.DiagnosisName
}

// encounterLocks provides per-encounter advisory mutexes. Lock entries are
// retained for the process lifetime; the key space is bounded by the active
// patient population.
type encounterLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEncounterLocks() *encounterLocks {
	return &encounterLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *encounterLocks) lock(patientID, encounterID string) func() {
	key := patientID + "/" + encounterID

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
