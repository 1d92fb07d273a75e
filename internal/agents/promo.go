package agents

import (
	"context"
	"fmt"
	"strings"
)

const promoSystem = `You are a performance marketer who designs paid and organic promo campaigns.
You think in hypotheses, segments, offers and creative angles, and you always plan how to test them.`

const promoSchema = `{
  "assumptions": ["..."],
  "overall_approach": ["..."],
  "campaign_structure": [{"name": "...", "objective": "...", "audience": "...", "placements": ["..."], "budget_share": "..."}],
  "hypotheses": [{"name": "...", "segment": "...", "offer": "...", "angle": "...", "creative_examples": ["..."], "kpi": "..."}],
  "testing_plan": {"duration": "...", "budget_split": "...", "success_criteria": ["..."], "stop_rules": ["..."]}
}`

// PromoAgent designs a promo campaign as a set of testable hypotheses.
type PromoAgent struct {
	Base
}

func NewPromoAgent(gateway Invoker, model string) *PromoAgent {
	return &PromoAgent{Base: NewBase(gateway, promoSystem, model, TypePromo)}
}

func (a *PromoAgent) Type() string { return TypePromo }

func (a *PromoAgent) Run(ctx context.Context, brief Brief, opts RunOptions) (Result, error) {
	instruction := fmt.Sprintf(`Design a promo campaign for the project.

Context:
%s

Requirements:
- 3-5 hypotheses, each with a segment, an offer, an angle and 2 creative examples.
- A campaign structure that fits the budget; if the budget is unknown, assume a small one.
- A testing plan with success criteria and stop rules.
%s`, brief.Normalize().Render(), QCBlock(brief))

	data, err := a.JSON(ctx, strings.TrimSpace(instruction), promoSchema, opts)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"assumptions", "overall_approach", "campaign_structure", "hypotheses"} {
		setDefault(data, key, []any{})
	}
	setDefault(data, "testing_plan", map[string]any{})
	return data, nil
}
