package chat

import (
	"context"
	"fmt"
	"maps"

	"smmswarm/internal/agents"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/llm"
	"smmswarm/internal/session"
	"smmswarm/internal/structured"
)

const (
	taskFacts          = "facts"
	taskSummary        = "summary"
	factsTemperature   = 0.2
	fallbackKeepFacts  = "previous facts"
	fallbackKeepMemory = "previous summary"
)

// FactKeys are the business facts the assistant remembers per user.
var FactKeys = []string{
	"brand_name", "product_description", "offer", "audience", "geo", "language",
	"goals", "tone", "channels", "pricing", "constraints", "competitors",
}

const factsSystem = `You maintain a short fact sheet about the user's business.
Update current_facts with what the last user message (and pasted account statistics, if any) says.
Keep values that were not contradicted. Put contradictions into conflicts.
Return strictly JSON: {"facts": {...same keys as schema...}, "conflicts": ["..."]}`

const summarySystem = `You keep a running summary of a marketing conversation.
Merge previous_summary with recent_messages into at most 5 sentences: the business, goals, decisions and open questions.
Return strictly JSON: {"summary": "..."}`

// FactsTemplate returns an empty fact sheet.
func FactsTemplate() map[string]any {
	out := make(map[string]any, len(FactKeys))
	for _, k := range FactKeys {
		out[k] = nil
	}
	out["channels"] = []any{}
	return out
}

// memory extracts facts and summaries with a light model.
type memory struct {
	gateway agents.Invoker
	model   string
}

// extractFacts returns current merged with the facts found in message.
// On failure it returns current unchanged and a *errors.DegradedError.
func (m *memory) extractFacts(ctx context.Context, current map[string]any, message string, insights *InstagramInsights) (map[string]any, []string, error) {
	base := FactsTemplate()
	maps.Copy(base, current)

	input := map[string]any{
		"current_facts":     base,
		"last_user_message": message,
		"schema":            FactsTemplate(),
	}
	if insights != nil {
		input["manual_instagram_insights"] = insights
	}
	payload, err := jsonx.Marshal(input)
	if err != nil {
		return base, nil, err
	}
	res, err := m.gateway.Invoke(ctx, llm.Request{
		Messages:    []llm.Message{llm.System(factsSystem), llm.User("Input: " + string(payload))},
		Model:       m.model,
		Temperature: llm.Temperature(factsTemperature),
		Format:      llm.JSONObject,
		Task:        taskFacts,
	})
	if err != nil {
		return base, nil, smmerrors.Degraded(fmt.Errorf("facts call: %w", err), fallbackKeepFacts)
	}
	data, err := structured.ParseObject(res.Text)
	if err != nil {
		return base, nil, smmerrors.Degraded(err, fallbackKeepFacts)
	}
	facts := structured.Map(data, "facts")
	if facts == nil {
		return base, nil, smmerrors.Degraded(fmt.Errorf("%w: reply holds no facts", smmerrors.ErrMalformedResponse), fallbackKeepFacts)
	}
	for k, v := range facts {
		if v != nil {
			base[k] = v
		}
	}
	return base, structured.Strings(data, "conflicts"), nil
}

// updateSummary folds recent turns into previous. On failure it returns
// previous and a *errors.DegradedError.
func (m *memory) updateSummary(ctx context.Context, previous string, recent []session.Turn) (string, error) {
	payload, err := jsonx.Marshal(map[string]any{
		"previous_summary": previous,
		"recent_messages":  recent,
	})
	if err != nil {
		return previous, err
	}
	res, err := m.gateway.Invoke(ctx, llm.Request{
		Messages: []llm.Message{llm.System(summarySystem), llm.User("Input: " + string(payload))},
		Model:    m.model,
		Format:   llm.JSONObject,
		Task:     taskSummary,
	})
	if err != nil {
		return previous, smmerrors.Degraded(fmt.Errorf("summary call: %w", err), fallbackKeepMemory)
	}
	data, err := structured.ParseObject(res.Text)
	if err != nil {
		return previous, smmerrors.Degraded(err, fallbackKeepMemory)
	}
	if s := structured.String(data, "summary"); s != "" {
		return s, nil
	}
	return previous, nil
}
