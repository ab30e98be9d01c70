package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/prompts"
	"github.com/clinical-pipeline-server/pkg/reasoning"
)

// FinalizerService selects the single finalized diagnosis for a run.
// It always returns a usable result: when the reasoning service's output
// cannot be parsed it substitutes the sentinel diagnosis so downstream stages
// and the persisted record stay well formed.
type FinalizerService struct {
	reasoner domain.ReasoningClient
	logger   *logrus.Logger
}

// NewFinalizerService creates a new diagnosis finalizer service
func NewFinalizerService(reasoner domain.ReasoningClient, logger *logrus.Logger) *FinalizerService {
	return &FinalizerService{
		reasoner: reasoner,
		logger:   logger,
	}
}

// rawDiagnosticResult mirrors the JSON shape requested from the reasoning service
type rawDiagnosticResult struct {
	DiagnosisName         string   `json:"diagnosisName"`
	DiagnosisCode         string   `json:"diagnosisCode"`
	Confidence            float64  `json:"confidence"`
	SupportingEvidence    []string `json:"supportingEvidence"`
	RecommendedTests      []string `json:"recommendedTests"`
	RecommendedTreatments []string `json:"recommendedTreatments"`
}

// Finalize produces the finalized diagnosis. The returned result is never nil.
func (s *FinalizerService) Finalize(ctx context.Context, pc *domain.PatientContext, transcript string, differentials []domain.DifferentialDiagnosis) *domain.DiagnosticResult {
	prompt := prompts.Finalizer(pc, transcript, differentials)

	raw, err := s.reasoner.Complete(ctx, prompt, reasoning.ShapeJSONObject)
	if err != nil {
		s.logger.WithError(err).Warn("Finalizer call failed, substituting fallback diagnosis")
		return fallbackResult()
	}

	var parsed rawDiagnosticResult
	if !reasoning.UnmarshalObject(raw, &parsed) || parsed.DiagnosisName == "" {
		s.logger.WithFields(logrus.Fields{
			"response_length": len(raw),
		}).Warn("Finalizer response was not a usable diagnosis, substituting fallback")
		return fallbackResult()
	}

	result := &domain.DiagnosticResult{
		DiagnosisName:         parsed.DiagnosisName,
		DiagnosisCode:         parsed.DiagnosisCode,
		Confidence:            clampConfidence(parsed.Confidence),
		SupportingEvidence:    parsed.SupportingEvidence,
		RecommendedTests:      parsed.RecommendedTests,
		RecommendedTreatments: parsed.RecommendedTreatments,
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id":     pc.PatientID,
		"diagnosis":      result.DiagnosisName,
		"diagnosis_code": result.DiagnosisCode,
		"confidence":     result.Confidence,
	}).Info("Diagnosis finalized")

	return result
}

// fallbackResult builds the sentinel result used whenever a finalized
// diagnosis cannot be obtained. The name doubles as the degraded-run marker.
// All list fields stay empty so nothing fabricated reaches the persisted
// record or the Plan section.
func fallbackResult() *domain.DiagnosticResult {
	return &domain.DiagnosticResult{
		DiagnosisName: domain.FallbackDiagnosisName,
		Confidence:    domain.FallbackConfidence,
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
