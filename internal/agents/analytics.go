package agents

import (
	"context"
	"fmt"
	"strings"

	"smmswarm/internal/jsonx"
	"smmswarm/internal/structured"
)

const analyticsSystem = `You are an SMM analyst and growth marketer.
You look at the numbers and the context and turn them into concrete next steps.
Without metrics you propose a measurement plan and hypotheses instead of conclusions.`

const analyticsSchema = `{
  "has_metrics": true,
  "assumptions": ["..."],
  "key_findings": ["..."],
  "metrics_to_track": [{"name": "...", "why": "...", "target": "..."}],
  "hypotheses": [{"hypothesis": "...", "how_to_test": "...", "success_metric": "..."}],
  "next_steps": [{"step": "...", "impact": "high|medium|low", "effort": "high|medium|low", "how_to_do": "..."}]
}`

const maxNextSteps = 10

// AnalyticsAgent interprets metrics and proposes prioritised next steps.
type AnalyticsAgent struct {
	Base
}

func NewAnalyticsAgent(gateway Invoker, model string) *AnalyticsAgent {
	return &AnalyticsAgent{Base: NewBase(gateway, analyticsSystem, model, TypeAnalytics)}
}

func (a *AnalyticsAgent) Type() string { return TypeAnalytics }

func (a *AnalyticsAgent) Run(ctx context.Context, brief Brief, opts RunOptions) (Result, error) {
	metrics := "not provided"
	if m, ok := brief["metrics"]; ok && m != nil && m != "" {
		if s, ok := m.(string); ok {
			metrics = s
		} else if pretty, err := jsonx.Pretty(m); err == nil {
			metrics = pretty
		}
	}
	platform := firstNonEmpty(brief.String("platform"), "not specified")

	instruction := fmt.Sprintf(`Analyse the SMM performance and propose what to do next.

Context:
%s

Platform: %s
Metrics:
%s

Requirements:
- If metrics are present, interpret them: what works, what does not, where the bottleneck is.
- If metrics are missing, say which ones to collect and how, and give hypotheses instead of conclusions.
- next_steps: 5-10 concrete actions with impact, effort and how to do each one.
%s`, brief.Normalize().Render(), platform, metrics, QCBlock(brief))

	data, err := a.JSON(ctx, strings.TrimSpace(instruction), analyticsSchema, opts)
	if err != nil {
		return nil, err
	}
	if _, ok := structured.Bool(data, "has_metrics"); !ok {
		data["has_metrics"] = metrics != "not provided"
	}
	for _, key := range []string{"assumptions", "key_findings", "metrics_to_track", "hypotheses"} {
		setDefault(data, key, []any{})
	}
	data["next_steps"] = normalizeSteps(structured.Slice(data, "next_steps"))
	return data, nil
}

// normalizeSteps turns bare string steps into step objects and caps the list.
func normalizeSteps(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range structured.Truncate(items, maxNextSteps) {
		switch t := item.(type) {
		case map[string]any:
			out = append(out, t)
		default:
			if s := structured.AsString(t); s != "" {
				out = append(out, map[string]any{"step": s, "impact": "-", "effort": "medium", "how_to_do": "-"})
			}
		}
	}
	return out
}
