package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"smmswarm/internal/config"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/httpclient"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/logging"
)

// Ollama implements TextBackend against a local Ollama server.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOllama builds the backend; base_url may include or omit the /api suffix.
func NewOllama(cfg config.LLMConfig) *Ollama {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimSuffix(baseURL, "/api")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := logging.NewComponentLogger("ollama-client")
	return &Ollama{
		baseURL:    baseURL,
		httpClient: httpclient.New(timeout, logger),
		logger:     logger,
	}
}

func (c *Ollama) Name() string { return "ollama" }

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}

func (c *Ollama) Complete(ctx context.Context, req Request) (*Response, error) {
	logger := logging.FromContext(ctx, c.logger)

	request := ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
	}
	if req.Format != nil && req.Format.Type == JSONObject.Type {
		request.Format = "json"
	}
	options := make(map[string]any)
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.Budget > 0 {
		options["num_predict"] = req.Budget
	}
	if len(options) > 0 {
		request.Options = options
	}

	body, err := jsonx.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	endpoint := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Debug("POST %s model=%s num_predict=%d", endpoint, req.Model, req.Budget)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, httpclient.DefaultResponseLimit)
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, smmerrors.ClassifyHTTP(resp.StatusCode, respBody)
	}

	var response ollamaResponse
	if err := jsonx.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", response.Error)
	}

	result := &Response{
		Text:   response.Message.Content,
		Status: "completed",
		Model:  req.Model,
		Usage: Usage{
			Input:  response.PromptEvalCount,
			Output: response.EvalCount,
			Total:  response.PromptEvalCount + response.EvalCount,
		},
	}
	if response.DoneReason == "length" {
		result.Status = statusIncomplete
		result.IncompleteReason = reasonMaxOutputTokens
	}
	return result, nil
}
