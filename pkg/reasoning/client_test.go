package reasoning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, baseURL string, failureThreshold uint32) *HTTPClient {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewHTTPClient(Config{
		BaseURL:          baseURL,
		APIKey:           "test-key",
		Model:            "test-model",
		Timeout:          5 * time.Second,
		RateLimit:        100,
		FailureThreshold: failureThreshold,
	}, logger)
}

func chatServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)
	return server
}

func TestCompleteReturnsMessageContent(t *testing.T) {
	var gotAuth, gotSystem string
	server := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		gotSystem = req.Messages[0].Content
		assert.Equal(t, "test-model", req.Model)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": `{"ok": true}`}},
			},
		})
	})

	client := newClient(t, server.URL, 5)

	content, err := client.Complete(context.Background(), "a prompt", ShapeJSONObject)

	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, content)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Contains(t, gotSystem, "single JSON object")
}

func TestCompleteServerError(t *testing.T) {
	server := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})

	client := newClient(t, server.URL, 5)

	_, err := client.Complete(context.Background(), "a prompt", ShapeText)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestCompleteErrorEnvelope(t *testing.T) {
	server := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "model overloaded"},
		})
	})

	client := newClient(t, server.URL, 5)

	_, err := client.Complete(context.Background(), "a prompt", ShapeText)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestCompleteNoChoices(t *testing.T) {
	server := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	})

	client := newClient(t, server.URL, 5)

	_, err := client.Complete(context.Background(), "a prompt", ShapeText)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	server := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	client := newClient(t, server.URL, 2)
	ctx := context.Background()

	_, err := client.Complete(ctx, "p", ShapeText)
	require.Error(t, err)
	_, err = client.Complete(ctx, "p", ShapeText)
	require.Error(t, err)

	// Breaker is now open; the request never reaches the server.
	_, err = client.Complete(ctx, "p", ShapeText)
	require.Error(t, err)
	assert.Equal(t, 2, hits)
}
