package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/domain"
)

func TestClassifySendsCandidatePlatforms(t *testing.T) {
	var received Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"intent":     "earnings_query",
			"confidence": 0.92,
			"entities":   map[string]string{"platform": "Swiggy"},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second}, zap.NewNop())
	classification, err := client.Classify(context.Background(), "is hafte kitna kamaya", "hi")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentEarningsQuery, classification.Intent)
	assert.InDelta(t, 0.92, classification.Confidence, 1e-9)
	assert.Equal(t, "Swiggy", classification.Entities["platform"])
	assert.Equal(t, "is hafte kitna kamaya", received.Message)
	assert.Equal(t, domain.Platforms, received.Platforms)
}

func TestClassifyFallsBackOnNonJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("internal error, not json"))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second}, zap.NewNop())
	classification, err := client.Classify(context.Background(), "hello", "en")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentUnknown, classification.Intent)
	assert.InDelta(t, 0.5, classification.Confidence, 1e-9)
	assert.Empty(t, classification.Entities)
}

func TestClassifyFallsBackOnUnrecognizedIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"intent": "weather_query", "confidence": 0.8})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second}, zap.NewNop())
	classification, err := client.Classify(context.Background(), "barish hogi kya", "hi")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentUnknown, classification.Intent)
}

func TestClassifyReportsTransportErrorWithUsableFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second}, zap.NewNop())
	classification, err := client.Classify(context.Background(), "hello", "en")
	require.Error(t, err)
	assert.Equal(t, domain.IntentUnknown, classification.Intent)
}

func TestUnconfiguredClientReturnsFallback(t *testing.T) {
	client := NewClient(Config{}, zap.NewNop())
	classification, err := client.Classify(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentUnknown, classification.Intent)
}

func TestConfidenceOutOfRangeIsClamped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"intent": "greeting", "confidence": 3.5})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second}, zap.NewNop())
	classification, err := client.Classify(context.Background(), "namaste", "hi")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentGreeting, classification.Intent)
	assert.InDelta(t, 0.5, classification.Confidence, 1e-9)
}
