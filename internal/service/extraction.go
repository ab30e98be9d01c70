package service

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/prompts"
	"github.com/clinical-pipeline-server/pkg/reasoning"
)

// ExtractionService derives the four short encounter fields with one narrow
// reasoning call per field. The calls run concurrently and fail independently;
// a failed field is left empty and reported as a warning, never as an error.
type ExtractionService struct {
	reasoner domain.ReasoningClient
	logger   *logrus.Logger
}

// NewExtractionService creates a new field extraction service
func NewExtractionService(reasoner domain.ReasoningClient, logger *logrus.Logger) *ExtractionService {
	return &ExtractionService{
		reasoner: reasoner,
		logger:   logger,
	}
}

// Extract runs the four single-field calls concurrently and assembles the
// results. The returned warning list names each field whose call failed.
func (s *ExtractionService) Extract(ctx context.Context, diagnosisName, transcript string) (domain.ExtractedFields, []string) {
	fieldNames := []string{
		prompts.FieldConditionDescription,
		prompts.FieldClassificationCode,
		prompts.FieldReasonCode,
		prompts.FieldReasonText,
	}

	values := make([]string, len(fieldNames))
	failures := make([]string, len(fieldNames))

	var wg sync.WaitGroup
	for i, field := range fieldNames {
		wg.Add(1)
		go func(i int, field string) {
			defer wg.Done()
			value, err := s.extractField(ctx, field, diagnosisName, transcript)
			if err != nil {
				failures[i] = field
				return
			}
			values[i] = value
		}(i, field)
	}
	wg.Wait()

	fields := domain.ExtractedFields{
		ConditionDescription: values[0],
		ClassificationCode:   values[1],
		ReasonCode:           values[2],
		ReasonText:           values[3],
	}

	var failed []string
	for _, f := range failures {
		if f != "" {
			failed = append(failed, f)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"diagnosis": diagnosisName,
		"failed":    failed,
	}).Info("Field extraction completed")

	return fields, failed
}

func (s *ExtractionService) extractField(ctx context.Context, field, diagnosisName, transcript string) (string, error) {
	prompt := prompts.ExtractionField(field, diagnosisName, transcript)

	raw, err := s.reasoner.Complete(ctx, prompt, reasoning.ShapeText)
	if err != nil {
		s.logger.WithError(err).WithField("field", field).Warn("Field extraction call failed")
		return "", err
	}

	value := reasoning.CleanField(raw, "")
	if field == prompts.FieldClassificationCode || field == prompts.FieldReasonCode {
		value = normalizeCode(value)
	}
	return value, nil
}

// normalizeCode strips trailing punctuation and surrounding noise a model
// sometimes appends to a bare code answer.
func normalizeCode(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimSuffix(value, ".")
	// "ICD-10: J11.1" style prefixes
	if idx := strings.LastIndex(value, ":"); idx >= 0 {
		value = strings.TrimSpace(value[idx+1:])
	}
	if len(value) > 16 {
		// A code never needs this much text; the model answered in prose.
		return ""
	}
	return value
}
