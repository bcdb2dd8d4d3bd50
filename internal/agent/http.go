package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saathi/saathi-core/internal/domain"
)

type request struct {
	UserID        string            `json:"user_id"`
	Intent        domain.Intent     `json:"intent"`
	Message       string            `json:"message"`
	Entities      map[string]string `json:"entities,omitempty"`
	CollectedData map[string]string `json:"collected_data,omitempty"`
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPResponder hands the completed conversation to the external agent
// service. Errors are returned to the caller: the pipeline treats them as
// job failures, so the queue's retry policy applies rather than any inline
// retry here.
type HTTPResponder struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewHTTPResponder(config Config) *HTTPResponder {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &HTTPResponder{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (r *HTTPResponder) Respond(ctx context.Context, conversation *domain.ConversationContext, message domain.Message) (Reply, error) {
	payload, err := json.Marshal(request{
		UserID:        conversation.UserID,
		Intent:        conversation.Intent,
		Message:       message.Text,
		Entities:      conversation.Entities,
		CollectedData: conversation.CollectedData,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal agent request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		r.baseURL+"/respond",
		bytes.NewReader(payload),
	)
	if err != nil {
		return Reply{}, fmt.Errorf("build agent request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := r.httpClient.Do(httpRequest)
	if err != nil {
		return Reply{}, fmt.Errorf("call agent: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, 1<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("read agent response: %w", err)
	}
	if httpResponse.StatusCode != http.StatusOK {
		return Reply{}, fmt.Errorf("agent returned status %d", httpResponse.StatusCode)
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return Reply{}, fmt.Errorf("decode agent response: %w", err)
	}
	return reply, nil
}
