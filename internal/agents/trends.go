package agents

import (
	"context"
	"fmt"
	"strings"

	"smmswarm/internal/structured"
)

const trendsSystem = `You are a trend researcher for social media.
You know which formats, mechanics and topics currently earn reach, and you turn them into small experiments a brand can run.
You do not claim live data; you describe durable patterns and label guesses.`

const trendsSchema = `{
  "assumptions": ["..."],
  "format_trends": [{"format": "...", "why_it_works": "...", "how_to_use": "..."}],
  "content_trends": [{"trend": "...", "fit_for_brand": "...", "example": "..."}],
  "engagement_mechanics": [{"mechanic": "...", "example": "..."}],
  "experiment_roadmap": [{"experiment_name": "...", "format": "...", "hypothesis": "...", "success_metric": "...", "day": 1}],
  "do_not_do": ["..."]
}`

const defaultTrendDays = 7

// TrendsAgent proposes trend-driven experiments for the brand's channels.
type TrendsAgent struct {
	Base
}

func NewTrendsAgent(gateway Invoker, model string) *TrendsAgent {
	return &TrendsAgent{Base: NewBase(gateway, trendsSystem, model, TypeTrends)}
}

func (a *TrendsAgent) Type() string { return TypeTrends }

func (a *TrendsAgent) Run(ctx context.Context, brief Brief, opts RunOptions) (Result, error) {
	c := brief.Normalize()
	channels := c.Channels
	if len(channels) == 0 {
		channels = []string{"Telegram"}
	}
	duration := defaultTrendDays
	if n, ok := brief["duration_days"].(float64); ok && n == float64(int(n)) && n > 0 {
		duration = int(n)
	} else if n, ok := brief["duration_days"].(int); ok && n > 0 {
		duration = n
	}

	instruction := fmt.Sprintf(`Find the trends worth using for this project and turn them into experiments.

Context:
%s

Channels: %s
Experiment window: %d days.

Requirements:
- Only trends that fit the brand and audience; explain the fit.
- experiment_roadmap: 3-5 experiments within the window, each with a hypothesis and a success metric.
- do_not_do: trends to avoid for this brand and why.
%s`, c.Render(), strings.Join(channels, ", "), duration, QCBlock(brief))

	data, err := a.JSON(ctx, strings.TrimSpace(instruction), trendsSchema, opts)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"assumptions", "format_trends", "content_trends", "engagement_mechanics", "experiment_roadmap", "do_not_do"} {
		if structured.Slice(data, key) == nil {
			data[key] = []any{}
		}
	}
	data["duration_days"] = duration
	return data, nil
}
