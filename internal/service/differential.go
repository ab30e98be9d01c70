package service

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/prompts"
	"github.com/clinical-pipeline-server/pkg/reasoning"
)

const (
	maxDifferentials = 5
	maxGuidelineHits = 3
)

// DifferentialService generates the ranked differential diagnosis for an
// encounter. Guideline retrieval is supplementary context; its failure never
// fails the stage.
type DifferentialService struct {
	reasoner   domain.ReasoningClient
	guidelines domain.GuidelineClient
	logger     *logrus.Logger
}

// NewDifferentialService creates a new differential generator service
func NewDifferentialService(reasoner domain.ReasoningClient, guidelines domain.GuidelineClient, logger *logrus.Logger) *DifferentialService {
	return &DifferentialService{
		reasoner:   reasoner,
		guidelines: guidelines,
		logger:     logger,
	}
}

// rawDifferential mirrors the JSON shape requested from the reasoning service
type rawDifferential struct {
	Name                 string  `json:"name"`
	QualitativeRisk      string  `json:"qualitativeRisk"`
	LikelihoodPercentage float64 `json:"likelihoodPercentage"`
	KeyFactors           string  `json:"keyFactors"`
}

// Generate produces the ranked differential list for a transcript. A response
// that cannot be parsed yields an empty list, not an error; the pipeline
// continues with the finalizer reasoning from the transcript alone.
func (s *DifferentialService) Generate(ctx context.Context, pc *domain.PatientContext, transcript string) ([]domain.DifferentialDiagnosis, []string) {
	symptoms := ExtractSymptoms(transcript)

	var guidelines []domain.GuidelineEntry
	if s.guidelines != nil && len(symptoms) > 0 {
		hits, err := s.guidelines.Search(ctx, strings.Join(symptoms, " "), maxGuidelineHits)
		if err != nil {
			s.logger.WithError(err).Warn("Guideline search failed, continuing without guideline context")
		} else {
			guidelines = hits
		}
	}

	prompt := prompts.Differential(pc, transcript, symptoms, guidelines)
	raw, err := s.reasoner.Complete(ctx, prompt, reasoning.ShapeJSONArray)
	if err != nil {
		s.logger.WithError(err).Warn("Differential generation call failed, continuing with empty differential")
		return nil, symptoms
	}

	var parsed []rawDifferential
	if !reasoning.UnmarshalArray(raw, &parsed) {
		s.logger.WithFields(logrus.Fields{
			"response_length": len(raw),
		}).Warn("Differential response was not parseable JSON, continuing with empty differential")
		return nil, symptoms
	}

	differentials := make([]domain.DifferentialDiagnosis, 0, len(parsed))
	for _, rd := range parsed {
		if rd.Name == "" {
			continue
		}
		differentials = append(differentials, domain.DifferentialDiagnosis{
			Name:                 rd.Name,
			QualitativeRisk:      domain.Likelihood(rd.QualitativeRisk),
			LikelihoodPercentage: clampPercentage(rd.LikelihoodPercentage),
			KeyFactors:           rd.KeyFactors,
		})
	}

	RankDifferentials(differentials)
	if len(differentials) > maxDifferentials {
		differentials = differentials[:maxDifferentials]
		reassignRanks(differentials)
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id":    pc.PatientID,
		"symptoms":      len(symptoms),
		"differentials": len(differentials),
	}).Info("Differential diagnosis generated")

	return differentials, symptoms
}

// RankDifferentials sorts candidates by qualitative likelihood and assigns
// contiguous ranks starting at 1. The sort is stable, so candidates sharing a
// likelihood keep the order the generator produced them in. Safe to call
// repeatedly; already-ranked input is renumbered identically.
func RankDifferentials(differentials []domain.DifferentialDiagnosis) {
	sort.SliceStable(differentials, func(i, j int) bool {
		return differentials[i].QualitativeRisk.Rank() < differentials[j].QualitativeRisk.Rank()
	})
	reassignRanks(differentials)
}

func reassignRanks(differentials []domain.DifferentialDiagnosis) {
	for i := range differentials {
		differentials[i].Rank = i + 1
	}
}

func clampPercentage(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
