package llm

import (
	"context"
	"fmt"
	"strings"

	"smmswarm/internal/config"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/logging"
	"smmswarm/internal/observability"

	"go.opentelemetry.io/otel/codes"
)

const (
	truncationMultiplier = 6
	fallbackTaskBudget   = 1200
)

// common holds the concerns shared by the text and image gateways.
type common struct {
	retry   smmerrors.RetryConfig
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.TracerProvider
}

func newCommon(cfg config.LLMConfig, component string, opts []GatewayOption) common {
	c := common{
		retry:  smmerrors.DefaultRetryConfig(),
		logger: logging.NewComponentLogger(component),
	}
	if cfg.Retries >= 0 {
		c.retry.MaxAttempts = cfg.Retries
	}
	if cfg.Backoff > 0 {
		c.retry.BaseDelay = cfg.Backoff
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// GatewayOption customises a Gateway or ImageGateway.
type GatewayOption func(*common)

// WithMetrics records call outcomes on m.
func WithMetrics(m *observability.Metrics) GatewayOption {
	return func(c *common) { c.metrics = m }
}

// WithTracer emits one span per Invoke.
func WithTracer(tp *observability.TracerProvider) GatewayOption {
	return func(c *common) { c.tracer = tp }
}

// WithRetryConfig overrides the transient retry policy.
func WithRetryConfig(cfg smmerrors.RetryConfig) GatewayOption {
	return func(c *common) { c.retry = cfg }
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) GatewayOption {
	return func(c *common) { c.logger = logging.OrNop(logger) }
}

// Gateway owns the invocation policy in front of a TextBackend: budget
// selection, parameter compatibility, transient retries and the
// enlarged-budget re-issue after a truncated or empty reply.
type Gateway struct {
	backend     TextBackend
	minBudget   int
	maxBudget   int
	retryFloor  int
	taskBudgets map[string]int
	common
}

// NewGateway wraps backend with the policy described by cfg.
func NewGateway(backend TextBackend, cfg config.LLMConfig, opts ...GatewayOption) *Gateway {
	budgets := config.DefaultTaskBudgets()
	for task, budget := range cfg.TaskBudgets {
		budgets[task] = budget
	}
	return &Gateway{
		backend:     backend,
		minBudget:   cfg.MinOutputTokens,
		maxBudget:   cfg.MaxOutputTokens,
		retryFloor:  cfg.RetryFloorTokens,
		taskBudgets: budgets,
		common:      newCommon(cfg, "llm-gateway", opts),
	}
}

// ResolveBudget returns the explicit budget, or the task default, clamped to
// the configured range.
func (g *Gateway) ResolveBudget(task string, explicit int) int {
	budget := explicit
	if budget <= 0 {
		var ok bool
		if budget, ok = g.taskBudgets[task]; !ok {
			if budget, ok = g.taskBudgets["default"]; !ok {
				budget = fallbackTaskBudget
			}
		}
	}
	return g.clamp(budget)
}

func (g *Gateway) clamp(budget int) int {
	if g.minBudget > 0 && budget < g.minBudget {
		budget = g.minBudget
	}
	if g.maxBudget > 0 && budget > g.maxBudget {
		budget = g.maxBudget
	}
	return budget
}

// enlargedBudget is the budget used for the single re-issue after truncation.
func (g *Gateway) enlargedBudget(budget int) int {
	next := budget * truncationMultiplier
	if next < g.retryFloor {
		next = g.retryFloor
	}
	return g.clamp(next)
}

// RejectsTemperature reports whether a model family is known to refuse the
// temperature parameter.
func RejectsTemperature(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// Invoke sends req and returns non-empty text or an error.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*Result, error) {
	logger := logging.FromContext(ctx, g.logger)

	req.Budget = g.ResolveBudget(req.Task, req.Budget)
	if req.Temperature != nil && RejectsTemperature(req.Model) {
		req.Temperature = nil
	}

	ctx, span := g.tracer.StartSpan(ctx, observability.SpanLLMGenerate, observability.LLMAttrs(req.Task, req.Model, req.Budget)...)
	defer span.End()

	resp, err := g.call(ctx, &req)
	if err != nil {
		g.metrics.IncGatewayCall("text", req.Model, "error")
		span.SetAttributes(observability.ErrorAttrs(err)...)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if resp.Truncated() || resp.Empty() {
		previous := req.Budget
		req.Budget = g.enlargedBudget(previous)
		logger.Warn("Model %s returned %s output at budget %d; re-issuing with %d",
			req.Model, truncationLabel(resp), previous, req.Budget)
		g.metrics.IncGatewayCall("text", req.Model, "retry")

		resp, err = g.call(ctx, &req)
		if err != nil {
			g.metrics.IncGatewayCall("text", req.Model, "error")
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if resp.Empty() {
			g.metrics.IncGatewayCall("text", req.Model, "error")
			span.SetStatus(codes.Error, "empty completion")
			return nil, fmt.Errorf("%s at budget %d: %w", req.Model, req.Budget, smmerrors.ErrEmptyCompletion)
		}
	}

	g.metrics.IncGatewayCall("text", req.Model, "ok")
	span.SetAttributes(observability.UsageAttrs(resp.Usage.Input, resp.Usage.Output)...)
	return &Result{
		Text:   resp.Text,
		Usage:  resp.Usage,
		Model:  req.Model,
		Budget: req.Budget,
	}, nil
}

// call runs the transient retry loop and, once per call, drops a temperature
// the backend rejected.
func (g *Gateway) call(ctx context.Context, req *Request) (*Response, error) {
	logger := logging.FromContext(ctx, g.logger)
	stripped := false
	for {
		snapshot := *req
		resp, err := smmerrors.RetryWithResultAndLog(ctx, g.retry, func(ctx context.Context) (*Response, error) {
			return g.backend.Complete(ctx, snapshot)
		}, logger)
		if err != nil && !stripped && req.Temperature != nil && smmerrors.IsUnsupportedParam(err, "temperature") {
			logger.Warn("Model %s rejected temperature; retrying without it", req.Model)
			req.Temperature = nil
			stripped = true
			continue
		}
		return resp, err
	}
}

func truncationLabel(resp *Response) string {
	if resp.Truncated() {
		return "truncated"
	}
	return "empty"
}
