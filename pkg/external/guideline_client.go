package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/clinical-pipeline-server/internal/domain"
)

// GuidelineClient retrieves clinical guideline excerpts from an external
// guideline search service. Callers treat every failure as recoverable.
type GuidelineClient struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// GuidelineConfig represents configuration for the guideline search client
type GuidelineConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// guidelineResponse represents the JSON response from the guideline service
type guidelineResponse struct {
	Results []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Excerpt string `json:"excerpt"`
	} `json:"results"`
}

// NewGuidelineClient creates a new guideline search client
func NewGuidelineClient(config GuidelineConfig) *GuidelineClient {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 3
	}

	return &GuidelineClient{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Search queries the guideline service for excerpts matching the query
func (g *GuidelineClient) Search(ctx context.Context, query string, maxResults int) ([]domain.GuidelineEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("guideline query cannot be empty")
	}
	if maxResults <= 0 {
		maxResults = 3
	}

	if err := g.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	searchURL := fmt.Sprintf("%s/search?q=%s&limit=%d",
		strings.TrimRight(g.baseURL, "/"), url.QueryEscape(query), maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("guideline search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("guideline service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed guidelineResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse guideline response: %w", err)
	}

	entries := make([]domain.GuidelineEntry, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		entries = append(entries, domain.GuidelineEntry{
			ID:      r.ID,
			Title:   r.Title,
			Content: r.Excerpt,
		})
	}
	return entries, nil
}
