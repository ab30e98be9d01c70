package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/prompts"
	"github.com/clinical-pipeline-server/pkg/reasoning"
)

// SoapService composes the structured SOAP note for a run. The assessment
// section always carries the finalized diagnosis as "Name (Code)" whether the
// reasoning service cooperated or not.
type SoapService struct {
	reasoner domain.ReasoningClient
	logger   *logrus.Logger
}

// NewSoapService creates a new SOAP note composer service
func NewSoapService(reasoner domain.ReasoningClient, logger *logrus.Logger) *SoapService {
	return &SoapService{
		reasoner: reasoner,
		logger:   logger,
	}
}

// Compose produces the SOAP note. degraded reports whether the templated
// fallback note was substituted for an unusable reasoning response.
func (s *SoapService) Compose(ctx context.Context, transcript string, result *domain.DiagnosticResult) (domain.SoapNote, bool) {
	prompt := prompts.Soap(transcript, result)

	raw, err := s.reasoner.Complete(ctx, prompt, reasoning.ShapeJSONObject)
	if err != nil {
		s.logger.WithError(err).Warn("SOAP composition call failed, substituting templated note")
		return templatedNote(transcript, result), true
	}

	var note domain.SoapNote
	if !reasoning.UnmarshalObject(raw, &note) || note.Assessment == "" {
		s.logger.WithFields(logrus.Fields{
			"response_length": len(raw),
		}).Warn("SOAP response was not a usable note, substituting templated note")
		return templatedNote(transcript, result), true
	}

	// The diagnosis reference must survive whatever the model wrote.
	ref := diagnosisReference(result)
	if !strings.Contains(note.Assessment, ref) {
		note.Assessment = strings.TrimSpace(ref + ". " + note.Assessment)
	}
	if note.Plan == "" && len(result.RecommendedTreatments) > 0 {
		note.Plan = planFromTreatments(result.RecommendedTreatments)
	}

	s.logger.WithFields(logrus.Fields{
		"diagnosis": result.DiagnosisName,
	}).Info("SOAP note composed")

	return note, false
}

// diagnosisReference renders the canonical "Name (Code)" reference. A result
// without a code is referenced by name alone.
func diagnosisReference(result *domain.DiagnosticResult) string {
	if result.DiagnosisCode == "" {
		return result.DiagnosisName
	}
	return fmt.Sprintf("%s (%s)", result.DiagnosisName, result.DiagnosisCode)
}

// templatedNote builds the deterministic fallback note from the data already
// in hand. Every section is populated so the persisted record never carries a
// half-empty note.
func templatedNote(transcript string, result *domain.DiagnosticResult) domain.SoapNote {
	subjective := "Patient encounter transcript on file."
	if t := strings.TrimSpace(transcript); t != "" {
		if len(t) > 500 {
			t = t[:500] + "..."
		}
		subjective = "Per encounter transcript: " + t
	}

	return domain.SoapNote{
		Subjective: subjective,
		Objective:  "See encounter documentation for examination findings and vital signs.",
		Assessment: diagnosisReference(result) + ".",
		Plan:       planFromTreatments(result.RecommendedTreatments),
	}
}

func planFromTreatments(treatments []string) string {
	if len(treatments) == 0 {
		return "Follow-up evaluation as clinically indicated."
	}
	var b strings.Builder
	for i, t := range treatments {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	return strings.TrimRight(b.String(), "\n")
}
