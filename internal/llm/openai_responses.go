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
	"smmswarm/internal/ids"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/logging"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIResponses talks to the OpenAI Responses API.
type OpenAIResponses struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIResponses builds a backend from the llm config section.
func NewOpenAIResponses(cfg config.LLMConfig) *OpenAIResponses {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := logging.NewComponentLogger("openai-responses")
	return &OpenAIResponses{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpclient.New(timeout, logger),
		logger:     logger,
	}
}

func (c *OpenAIResponses) Name() string { return "openai" }

type responsesResponse struct {
	ID                string                `json:"id"`
	Status            string                `json:"status"`
	IncompleteDetails *responsesIncomplete  `json:"incomplete_details"`
	Output            []responsesOutputItem `json:"output"`
	OutputText        any                   `json:"output_text"`
	Usage             responsesUsage        `json:"usage"`
	Error             *responsesError       `json:"error"`
}

type responsesIncomplete struct {
	Reason string `json:"reason"`
}

type responsesOutputItem struct {
	Type    string                 `json:"type"`
	Content []responsesContentPart `json:"content"`
}

type responsesContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type responsesError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *OpenAIResponses) Complete(ctx context.Context, req Request) (*Response, error) {
	logger := logging.FromContext(ctx, c.logger)

	instructions, input := splitInstructions(req.Messages)
	payload := map[string]any{
		"model":  req.Model,
		"input":  input,
		"stream": false,
		"store":  false,
	}
	if instructions != "" {
		payload["instructions"] = instructions
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.Budget > 0 {
		payload["max_output_tokens"] = req.Budget
	}
	if req.Format != nil {
		payload["text"] = map[string]any{"format": req.Format}
	}
	if user := ids.FromContext(ctx).UserID; user != "" {
		payload["user"] = user
	}

	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/responses"
	logger.Debug("=== LLM Request === POST %s model=%s budget=%d task=%s", endpoint, req.Model, req.Budget, req.Task)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Debug("HTTP request failed: %v", err)
		return nil, fmt.Errorf("openai responses request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, httpclient.DefaultResponseLimit)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("Error Response Body: %s", string(respBody))
		return nil, smmerrors.ClassifyHTTP(resp.StatusCode, respBody)
	}

	var apiResp responsesResponse
	if err := jsonx.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return nil, &smmerrors.BackendError{
			Kind:       smmerrors.KindServer,
			StatusCode: resp.StatusCode,
			Type:       apiResp.Error.Type,
			Message:    apiResp.Error.Message,
		}
	}

	result := &Response{
		Text:   parseResponsesOutput(apiResp),
		Status: apiResp.Status,
		Model:  req.Model,
		Usage: Usage{
			Input:  apiResp.Usage.InputTokens,
			Output: apiResp.Usage.OutputTokens,
			Total:  apiResp.Usage.TotalTokens,
		},
	}
	if apiResp.IncompleteDetails != nil {
		result.IncompleteReason = apiResp.IncompleteDetails.Reason
	}

	logger.Debug("=== LLM Response Summary === status=%s reason=%s chars=%d usage=%d+%d",
		result.Status, result.IncompleteReason, len(result.Text), result.Usage.Input, result.Usage.Output)
	return result, nil
}

// parseResponsesOutput concatenates message text parts, falling back to the
// flattened output_text field.
func parseResponsesOutput(resp responsesResponse) string {
	var builder strings.Builder
	for _, item := range resp.Output {
		if !strings.EqualFold(strings.TrimSpace(item.Type), "message") {
			continue
		}
		for _, part := range item.Content {
			switch strings.ToLower(strings.TrimSpace(part.Type)) {
			case "output_text", "text":
				builder.WriteString(part.Text)
			}
		}
	}
	content := builder.String()
	if strings.TrimSpace(content) == "" {
		if text := flattenOutputText(resp.OutputText); text != "" {
			content = text
		}
	}
	return content
}

func flattenOutputText(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		var builder strings.Builder
		for _, item := range v {
			if s, ok := item.(string); ok {
				builder.WriteString(s)
			}
		}
		return builder.String()
	default:
		return ""
	}
}
