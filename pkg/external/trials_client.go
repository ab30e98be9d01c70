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

// TrialsClient queries a clinical trial registry for studies relevant to a
// diagnosis
type TrialsClient struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// TrialsConfig represents configuration for the trial registry client
type TrialsConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// trialsResponse represents the JSON response from the registry
type trialsResponse struct {
	Studies []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Phase       string `json:"phase"`
		Location    string `json:"location"`
		Contact     string `json:"contact"`
		Eligibility string `json:"eligibility"`
	} `json:"studies"`
}

// NewTrialsClient creates a new clinical trial registry client
func NewTrialsClient(config TrialsConfig) *TrialsClient {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}

	return &TrialsClient{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Search queries the registry for trials matching a diagnosis
func (t *TrialsClient) Search(ctx context.Context, diagnosis string, maxResults int) ([]domain.ClinicalTrialMatch, error) {
	diagnosis = strings.TrimSpace(diagnosis)
	if diagnosis == "" {
		return nil, fmt.Errorf("diagnosis cannot be empty")
	}
	if maxResults <= 0 {
		maxResults = 3
	}

	if err := t.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	searchURL := fmt.Sprintf("%s/studies?condition=%s&limit=%d",
		strings.TrimRight(t.baseURL, "/"), url.QueryEscape(diagnosis), maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trial search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trial registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed trialsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse trial response: %w", err)
	}

	matches := make([]domain.ClinicalTrialMatch, 0, len(parsed.Studies))
	for _, s := range parsed.Studies {
		matches = append(matches, domain.ClinicalTrialMatch{
			ID:          s.ID,
			Title:       s.Title,
			Phase:       s.Phase,
			Location:    s.Location,
			Contact:     s.Contact,
			Eligibility: s.Eligibility,
		})
	}
	return matches, nil
}
