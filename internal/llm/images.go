package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"smmswarm/internal/config"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/httpclient"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/logging"
	"smmswarm/internal/observability"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"
)

// ImageRequest is one background generation.
type ImageRequest struct {
	Prompt  string
	Size    string // "{width}x{height}"
	Model   string
	Quality string
	User    string
}

// ImageBackend is an image-generation API performing one exchange per call.
type ImageBackend interface {
	Generate(ctx context.Context, req ImageRequest) ([]byte, error)
}

// OpenAIImages calls POST {base}/images/generations.
type OpenAIImages struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIImages builds the image backend; image_base_url overrides base_url.
func NewOpenAIImages(cfg config.LLMConfig) *OpenAIImages {
	baseURL := strings.TrimSpace(cfg.ImageBaseURL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(cfg.BaseURL)
	}
	if baseURL == "" || (cfg.Provider == "ollama" && cfg.ImageBaseURL == "") {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := logging.NewComponentLogger("openai-images")
	return &OpenAIImages{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpclient.New(timeout, logger),
		logger:     logger,
	}
}

// IsGPTImageModel reports whether model belongs to the family that always
// returns inline bytes and refuses response_format.
func IsGPTImageModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-image-")
}

// imagePayload builds the request body for model, normalising quality to the
// values that family accepts.
func imagePayload(req ImageRequest) map[string]any {
	payload := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"size":   req.Size,
	}
	if req.User != "" {
		payload["user"] = req.User
	}
	if IsGPTImageModel(req.Model) {
		switch req.Quality {
		case "low", "medium", "high", "auto":
			payload["quality"] = req.Quality
		default:
			payload["quality"] = "auto"
		}
		return payload
	}
	payload["response_format"] = "b64_json"
	if req.Model == "dall-e-3" && req.Quality == "hd" {
		payload["quality"] = "hd"
	} else {
		payload["quality"] = "standard"
	}
	return payload
}

type imagesResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

func (c *OpenAIImages) Generate(ctx context.Context, req ImageRequest) ([]byte, error) {
	logger := logging.FromContext(ctx, c.logger)

	body, err := jsonx.Marshal(imagePayload(req))
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}
	endpoint := c.baseURL + "/images/generations"
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
		return nil, fmt.Errorf("image request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, httpclient.DefaultResponseLimit)
	if err != nil {
		return nil, fmt.Errorf("read image response: %w", err)
	}
	if resp.StatusCode >= 400 {
		snippet := respBody
		if len(snippet) > 4000 {
			snippet = snippet[:4000]
		}
		logger.Error("OpenAI images error status=%d body=%s", resp.StatusCode, string(snippet))
		return nil, classifyImageError(resp.StatusCode, respBody)
	}

	var parsed imagesResponse
	if err := jsonx.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("image response carried no data")
	}
	item := parsed.Data[0]
	switch {
	case item.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decode b64_json: %w", err)
		}
		return data, nil
	case item.URL != "":
		return c.download(ctx, item.URL)
	default:
		return nil, fmt.Errorf("image response carried neither b64_json nor url")
	}
}

// classifyImageError keeps the retryable set to the statuses the images
// endpoint actually recovers from.
func classifyImageError(status int, body []byte) error {
	be := smmerrors.ClassifyHTTP(status, body)
	if be.Kind.Retryable() && !smmerrors.IsRetryableStatus(status) {
		return &smmerrors.PermanentError{Err: be, StatusCode: status}
	}
	return be
}

func (c *OpenAIImages) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, smmerrors.ClassifyHTTP(resp.StatusCode, nil)
	}
	return httpclient.ReadAllWithLimit(resp.Body, httpclient.DefaultResponseLimit)
}

// ImageGateway applies retry and the verification fallback in front of an
// ImageBackend.
type ImageGateway struct {
	backend       ImageBackend
	model         string
	fallbackModel string
	quality       string
	common
}

// NewImageGateway wraps backend with the image settings from cfg.
func NewImageGateway(backend ImageBackend, cfg config.LLMConfig, opts ...GatewayOption) *ImageGateway {
	quality := cfg.ImageQuality
	if quality == "" {
		quality = "auto"
	}
	return &ImageGateway{
		backend:       backend,
		model:         cfg.ImageModel,
		fallbackModel: cfg.FallbackImageModel,
		quality:       quality,
		common:        newCommon(cfg, "image-gateway", opts),
	}
}

func (g *ImageGateway) Model() string   { return g.model }
func (g *ImageGateway) Quality() string { return g.quality }

// Generate returns raw image bytes for prompt at size. Model and quality
// default to the configured ones.
func (g *ImageGateway) Generate(ctx context.Context, req ImageRequest) ([]byte, error) {
	if req.Model == "" {
		req.Model = g.model
	}
	if req.Quality == "" {
		req.Quality = g.quality
	}
	ctx, span := g.tracer.StartSpan(ctx, observability.SpanImageGen,
		attribute.String(observability.AttrModel, req.Model),
		attribute.String("smm.image.size", req.Size))
	defer span.End()

	data, err := g.generateWithRetry(ctx, req)
	if err != nil && smmerrors.IsVerificationRequired(err) && g.fallbackModel != "" && g.fallbackModel != req.Model {
		logging.FromContext(ctx, g.logger).Warn("Falling back to %s because org is not verified for %s", g.fallbackModel, req.Model)
		g.metrics.IncGatewayCall("image", req.Model, "fallback")
		req.Model = g.fallbackModel
		data, err = g.generateWithRetry(ctx, req)
	}
	if err != nil {
		g.metrics.IncGatewayCall("image", req.Model, "error")
		span.SetAttributes(observability.ErrorAttrs(err)...)
		return nil, err
	}
	g.metrics.IncGatewayCall("image", req.Model, "ok")
	return data, nil
}

func (g *ImageGateway) generateWithRetry(ctx context.Context, req ImageRequest) ([]byte, error) {
	data, err := smmerrors.RetryWithResultAndLog(ctx, g.retry, func(ctx context.Context) ([]byte, error) {
		return g.backend.Generate(ctx, req)
	}, logging.FromContext(ctx, g.logger))
	if err != nil {
		return nil, err
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("image backend returned %s, not an image", mtype.String())
	}
	return data, nil
}
