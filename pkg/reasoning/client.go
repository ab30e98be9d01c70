// Package reasoning wraps the external LLM service behind a small client
// interface. The service is assumed to be rate limited and occasionally slow
// or malformed; callers own the fallback policy for unusable responses.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Shape hints advertised to the service alongside each prompt. Advisory only;
// responses are still parsed defensively.
const (
	ShapeJSONObject = "json_object"
	ShapeJSONArray  = "json_array"
	ShapeText       = "text"
)

// Config represents reasoning-service client configuration
type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	RateLimit        int // requests per second
	FailureThreshold uint32
	BreakerInterval  time.Duration
	BreakerTimeout   time.Duration
}

// HTTPClient issues chat-completion requests to an OpenAI-compatible endpoint
// with client-side rate limiting and a circuit breaker.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

// NewHTTPClient creates a new reasoning-service client
func NewHTTPClient(config Config, logger *logrus.Logger) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.BreakerInterval == 0 {
		config.BreakerInterval = 10 * time.Second
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = 30 * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:     "ReasoningService",
		Interval: config.BreakerInterval,
		Timeout:  config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from,
				"to_state":        to,
			}).Warn("Circuit breaker state changed")
		},
	}

	return &HTTPClient{
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		model:      config.Model,
		httpClient: &http.Client{Timeout: config.Timeout},
		rateLimit:  rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit),
		breaker:    gobreaker.NewCircuitBreaker(cbSettings),
		log:        logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt and returns the raw response text
func (c *HTTPClient) Complete(ctx context.Context, prompt string, shapeHint string) (string, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.complete(ctx, prompt, shapeHint)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *HTTPClient) complete(ctx context.Context, prompt string, shapeHint string) (string, error) {
	system := "You are a clinical decision support assistant. Respond only with the requested content."
	switch shapeHint {
	case ShapeJSONObject:
		system += " Respond with a single JSON object and nothing else."
	case ShapeJSONArray:
		system += " Respond with a single JSON array and nothing else."
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling reasoning service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("reasoning service rate limited (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reasoning service returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding response envelope: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("reasoning service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("reasoning service returned no choices")
	}

	c.log.WithFields(logrus.Fields{
		"shape_hint": shapeHint,
		"latency":    time.Since(start),
	}).Debug("Reasoning service call completed")

	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
