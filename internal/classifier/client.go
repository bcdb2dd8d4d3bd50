package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/domain"
)

// Request is the wire contract sent to the external intent classifier.
type Request struct {
	Message   string   `json:"message"`
	Language  string   `json:"language"`
	Platforms []string `json:"platforms"`
}

type response struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the external text-classification service. The classifier is
// a replaceable collaborator: any transport error or malformed reply
// degrades to the unknown classification instead of failing the turn.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
		logger:     logger,
	}
}

func (c *Client) Available() bool {
	return c.baseURL != ""
}

// Fallback is the classification used when the service cannot produce one.
func Fallback() domain.Classification {
	return domain.Classification{
		Intent:     domain.IntentUnknown,
		Confidence: 0.5,
		Entities:   map[string]string{},
	}
}

// Classify returns the service's verdict for one message. The error return
// reports transport failures so the caller can decide to retry the job; the
// classification itself is always usable.
func (c *Client) Classify(ctx context.Context, message string, language string) (domain.Classification, error) {
	if !c.Available() {
		return Fallback(), nil
	}

	payload, err := json.Marshal(Request{
		Message:   message,
		Language:  language,
		Platforms: domain.Platforms,
	})
	if err != nil {
		return Fallback(), fmt.Errorf("marshal classifier request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/classify",
		bytes.NewReader(payload),
	)
	if err != nil {
		return Fallback(), fmt.Errorf("build classifier request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return Fallback(), fmt.Errorf("call classifier: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, 1<<20))
	if err != nil {
		return Fallback(), fmt.Errorf("read classifier response: %w", err)
	}
	if httpResponse.StatusCode != http.StatusOK {
		return Fallback(), fmt.Errorf("classifier returned status %d", httpResponse.StatusCode)
	}

	return c.parse(body), nil
}

// parse tolerates malformed and non-JSON replies by falling back to the
// unknown classification with a structured log record.
func (c *Client) parse(body []byte) domain.Classification {
	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.logger.Warn("classifier returned malformed response, using fallback",
			zap.Error(err))
		return Fallback()
	}

	intent := domain.Intent(decoded.Intent)
	switch intent {
	case domain.IntentEarningsQuery, domain.IntentDisputeHelp, domain.IntentInsuranceQuery,
		domain.IntentSchemeQuery, domain.IntentLoanQuery, domain.IntentGreeting, domain.IntentUnknown:
	default:
		c.logger.Warn("classifier returned unrecognized intent, using fallback",
			zap.String("intent", decoded.Intent))
		return Fallback()
	}

	if decoded.Confidence < 0 || decoded.Confidence > 1 {
		decoded.Confidence = 0.5
	}
	if decoded.Entities == nil {
		decoded.Entities = map[string]string{}
	}
	return domain.Classification{
		Intent:     intent,
		Confidence: decoded.Confidence,
		Entities:   decoded.Entities,
	}
}
