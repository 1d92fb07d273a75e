// Package agents holds the prompt-driven marketing agents. Each agent turns a
// brief into a structured result by calling the model gateway and repairing
// the reply with the structured package.
package agents

import (
	"context"
	"fmt"
	"strings"

	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/llm"
	"smmswarm/internal/structured"
)

// Agent types understood by the registry.
const (
	TypeStrategy  = "strategy"
	TypeContent   = "content"
	TypeAnalytics = "analytics"
	TypePromo     = "promo"
	TypeTrends    = "trends"
)

// PipelineOrder is the order in which a full pipeline runs the agents.
var PipelineOrder = []string{TypeStrategy, TypeTrends, TypeContent, TypePromo, TypeAnalytics}

// Result is an agent's structured output; its shape is agent specific.
type Result = map[string]any

// RunOptions overrides model selection for one run. Zero values fall back to
// the agent defaults.
type RunOptions struct {
	Model  string
	Budget int
	Days   int
}

// Agent turns a brief into a structured result.
type Agent interface {
	Type() string
	Run(ctx context.Context, brief Brief, opts RunOptions) (Result, error)
}

// Invoker is the slice of the model gateway agents depend on.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Result, error)
}

const defaultTemperature = 0.7

// Base composes the gateway into the two completion styles every agent uses.
type Base struct {
	gateway Invoker
	system  string
	model   string
	task    string
}

// NewBase returns a Base that sends system as the system prompt. model is
// used whenever RunOptions.Model is empty; task selects the default budget.
func NewBase(gateway Invoker, system, model, task string) Base {
	return Base{gateway: gateway, system: system, model: model, task: task}
}

func (b Base) request(system, user string, opts RunOptions, format *llm.Format) llm.Request {
	model := opts.Model
	if model == "" {
		model = b.model
	}
	return llm.Request{
		Messages:    []llm.Message{llm.System(system), llm.User(user)},
		Model:       model,
		Temperature: llm.Temperature(defaultTemperature),
		Budget:      opts.Budget,
		Format:      format,
		Task:        b.task,
	}
}

func (b Base) jsonSystem(schemaHint string) string {
	return b.system +
		"\n\nRespond with strictly valid JSON, no comments and no text before or after it.\n" +
		"Response structure (a hint, not a verbatim template): " + strings.TrimSpace(schemaHint)
}

// JSON asks for a single JSON object shaped like schemaHint and repairs the reply.
func (b Base) JSON(ctx context.Context, instruction, schemaHint string, opts RunOptions) (map[string]any, error) {
	res, err := b.gateway.Invoke(ctx, b.request(b.jsonSystem(schemaHint), instruction, opts, llm.JSONObject))
	if err != nil {
		return nil, err
	}
	data, err := structured.ParseObject(res.Text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.task, err)
	}
	return data, nil
}

// JSONList asks for a list of objects wrapped as {"items": [...]} and accepts
// either the wrapper or a bare array.
func (b Base) JSONList(ctx context.Context, instruction, itemHint string, opts RunOptions) ([]any, error) {
	hint := `{"items": [` + strings.TrimSpace(itemHint) + `]}`
	res, err := b.gateway.Invoke(ctx, b.request(b.jsonSystem(hint), instruction, opts, llm.JSONObject))
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(structured.Normalize(res.Text), "[") {
		return b.parseList(res.Text)
	}
	if obj, objErr := structured.ParseObject(res.Text); objErr == nil {
		if items := structured.Slice(obj, "items"); items != nil {
			return items, nil
		}
		for _, v := range obj {
			if items, ok := v.([]any); ok {
				return items, nil
			}
		}
		return nil, fmt.Errorf("%s: %w: reply object holds no list", b.task, smmerrors.ErrMalformedResponse)
	}
	return b.parseList(res.Text)
}

func (b Base) parseList(text string) ([]any, error) {
	items, err := structured.ParseArray(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.task, err)
	}
	return items, nil
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}
