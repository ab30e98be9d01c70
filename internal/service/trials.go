package service

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
)

const maxTrialMatches = 3

// TrialMatchService finds clinical trials relevant to a finalized diagnosis.
// Results are cached in-memory per diagnosis name; trial registries change
// slowly and the same diagnosis recurs across encounters.
type TrialMatchService struct {
	client domain.TrialClient
	cache  *lru.Cache
	logger *logrus.Logger
}

// NewTrialMatchService creates a new clinical trial matching service
func NewTrialMatchService(client domain.TrialClient, cacheSize int, logger *logrus.Logger) (*TrialMatchService, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create trial cache: %w", err)
	}
	return &TrialMatchService{
		client: client,
		cache:  cache,
		logger: logger,
	}, nil
}

// Match returns trials relevant to the diagnosis. The sentinel fallback
// diagnosis never queries the registry. Registry failures yield an empty
// list; trial matching is always best effort.
func (s *TrialMatchService) Match(ctx context.Context, result *domain.DiagnosticResult) []domain.ClinicalTrialMatch {
	if s.client == nil || result.IsFallback() {
		return nil
	}

	key := strings.ToLower(strings.TrimSpace(result.DiagnosisName))
	if key == "" {
		return nil
	}

	if cached, ok := s.cache.Get(key); ok {
		if matches, ok := cached.([]domain.ClinicalTrialMatch); ok {
			return matches
		}
	}

	matches, err := s.client.Search(ctx, result.DiagnosisName, maxTrialMatches)
	if err != nil {
		s.logger.WithError(err).WithField("diagnosis", result.DiagnosisName).Warn("Clinical trial search failed")
		return nil
	}

	s.cache.Add(key, matches)

	s.logger.WithFields(logrus.Fields{
		"diagnosis": result.DiagnosisName,
		"matches":   len(matches),
	}).Debug("Clinical trial matching completed")

	return matches
}
