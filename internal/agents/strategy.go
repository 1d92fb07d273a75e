package agents

import (
	"context"
	"fmt"
	"strings"

	"smmswarm/internal/structured"
)

const strategySystem = `You are a senior SMM strategist for small and medium businesses.
You think in funnels, positioning, segments and creative strategy, but explain things plainly.

Quality rules:
- No filler or generic phrases. Every point must be concrete and actionable.
- Never invent product facts. When data is missing, make assumptions and label them.
- Minimise questions to the user: offer 2-3 options and explain how to choose.
- Add example wording for topics and offers.`

const strategySchema = `{
  "assumptions": ["..."],
  "summary": {"north_star_metric": "...", "main_bullets": ["...", "...", "..."]},
  "positioning": {"core_message": "...", "utp": ["..."], "reasons_to_believe": ["..."], "tone_of_voice": ["..."], "do_not_say": ["..."]},
  "segments": [{"name": "...", "short_profile": "...", "pains": ["..."], "triggers": ["..."], "objections": ["..."],
    "message_map": {"hook_angles": ["..."], "proof_points": ["..."], "cta_examples": ["..."]}}],
  "funnel": {"awareness": {"goal": "...", "content_types": ["..."], "examples": ["..."]},
    "consideration": {...}, "conversion": {...}, "retention": {...}},
  "offers": [{"name": "...", "what_user_gets": "...", "for_whom": "...", "friction_reducers": ["..."], "cta_examples": ["..."]}],
  "channels": [{"name": "...", "role": "...", "cadence": "...", "content_focus": ["..."], "conversion_path": "..."}],
  "content_rubrics": [{"name": "...", "goal": "...", "examples": ["..."]}],
  "creative_angles": [{"angle": "...", "when_to_use": "...", "example_headline": "...", "example_text": "..."}],
  "first_7_days_plan": [{"day": 1, "channel": "...", "format": "...", "topic": "...", "goal": "...", "key_points": ["..."], "cta": "..."}],
  "risks_and_limits": ["..."]
}`

// FunnelStages is the order funnel stages are presented in.
var FunnelStages = []string{"awareness", "consideration", "conversion", "retention"}

// StrategyAgent builds a top-down SMM strategy.
type StrategyAgent struct {
	Base
}

func NewStrategyAgent(gateway Invoker, model string) *StrategyAgent {
	return &StrategyAgent{Base: NewBase(gateway, strategySystem, model, TypeStrategy)}
}

func (a *StrategyAgent) Type() string { return TypeStrategy }

// Run returns {"structured", "summary_text", "full_strategy"}.
func (a *StrategyAgent) Run(ctx context.Context, brief Brief, opts RunOptions) (Result, error) {
	instruction := fmt.Sprintf(`Develop an SMM strategy for the project.

Brief (use everything useful):
%s

Requirements:
1) Work top-down: positioning, segments, funnel, channels, content and offers, a 7-day plan.
2) No abstractions. Give at least 5 post topics, 3 offer/CTA examples and 5 creative angles.
3) If niche, price or geography are missing, make reasonable assumptions and list them in assumptions.
4) Segments are based on pains and context, not on age.
5) If channels are not given, suggest 1-2 channels and explain why.
%s`, brief.Normalize().Render(), QCBlock(brief))

	data, err := a.JSON(ctx, strings.TrimSpace(instruction), strategySchema, opts)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"assumptions", "segments", "channels", "content_rubrics", "offers", "creative_angles", "first_7_days_plan", "risks_and_limits"} {
		setDefault(data, key, []any{})
	}
	for _, key := range []string{"summary", "positioning"} {
		if structured.Map(data, key) == nil {
			data[key] = map[string]any{}
		}
	}

	return Result{
		"structured":    data,
		"summary_text":  strategySummary(data),
		"full_strategy": renderStrategy(data),
	}, nil
}

func strategySummary(data map[string]any) string {
	bullets := structured.Truncate(stringList(structured.Map(data, "summary")["main_bullets"]), 5)
	var sb strings.Builder
	sb.WriteString("In short:")
	for _, b := range bullets {
		sb.WriteString("\n• ")
		sb.WriteString(b)
	}
	return sb.String()
}

func renderStrategy(data map[string]any) string {
	var w mdWriter
	summary := structured.Map(data, "summary")
	north := firstNonEmpty(structured.String(summary, "north_star_metric"), "Target action (clarify for the product)")
	w.line("## North star metric")
	w.line(north)
	w.blank()

	w.list("## Key points", stringList(summary["main_bullets"]), 7)
	w.list("## Assumptions (the brief was incomplete)", structured.Strings(data, "assumptions"), 7)

	pos := structured.Map(data, "positioning")
	w.line("## Positioning")
	if core := structured.String(pos, "core_message"); core != "" {
		w.line("**Message:** " + core)
	}
	w.list("\n**USP:**", structured.Strings(pos, "utp"), 8)
	w.list("\n**Reasons to believe:**", structured.Strings(pos, "reasons_to_believe"), 6)
	w.list("\n**Tone of voice:**", structured.Strings(pos, "tone_of_voice"), 6)
	w.list("\n**Avoid:**", structured.Strings(pos, "do_not_say"), 6)
	w.blank()

	if segments := objects(data, "segments"); len(segments) > 0 {
		w.line("## Segments and messages")
		for _, s := range structured.Truncate(segments, 3) {
			w.line("### " + firstNonEmpty(structured.String(s, "name"), "Segment"))
			if p := structured.String(s, "short_profile"); p != "" {
				w.line(p)
			}
			w.joined("**Pains:** ", structured.Strings(s, "pains"), 4)
			w.joined("**Triggers:** ", structured.Strings(s, "triggers"), 4)
			w.joined("**Objections:** ", structured.Strings(s, "objections"), 4)
			mm := structured.Map(s, "message_map")
			w.list("**Hook angles:**", structured.Strings(mm, "hook_angles"), 4)
			w.list("**CTA examples:**", structured.Strings(mm, "cta_examples"), 3)
			w.blank()
		}
	}

	if channels := objects(data, "channels"); len(channels) > 0 {
		w.line("## Channels")
		for _, ch := range structured.Truncate(channels, 3) {
			w.line("### " + firstNonEmpty(structured.String(ch, "name"), "Channel"))
			w.field("- Role: ", structured.String(ch, "role"))
			w.field("- Cadence: ", structured.String(ch, "cadence"))
			if focus := structured.Truncate(structured.Strings(ch, "content_focus"), 6); len(focus) > 0 {
				w.line("- Content focus: " + strings.Join(focus, ", "))
			}
			w.field("- Conversion path: ", structured.String(ch, "conversion_path"))
			w.blank()
		}
	}

	if offers := objects(data, "offers"); len(offers) > 0 {
		w.line("## Offers")
		for _, o := range structured.Truncate(offers, 3) {
			w.line("### " + firstNonEmpty(structured.String(o, "name"), "Offer"))
			w.field("- What they get: ", structured.String(o, "what_user_gets"))
			w.field("- For whom: ", structured.String(o, "for_whom"))
			w.joined("- Friction reducers: ", structured.Strings(o, "friction_reducers"), 4)
			if ctas := structured.Truncate(structured.Strings(o, "cta_examples"), 3); len(ctas) > 0 {
				w.line("- CTA examples:")
				for _, c := range ctas {
					w.line("  - " + c)
				}
			}
			w.blank()
		}
	}

	if angles := objects(data, "creative_angles"); len(angles) > 0 {
		w.line("## Creative angles")
		for _, a := range structured.Truncate(angles, 5) {
			angle := structured.String(a, "angle")
			if angle == "" {
				continue
			}
			line := "- **" + angle + "**"
			if when := structured.String(a, "when_to_use"); when != "" {
				line += ": " + when
			}
			w.line(line)
			w.field("  - Headline: ", structured.String(a, "example_headline"))
			w.field("  - Text: ", structured.String(a, "example_text"))
		}
		w.blank()
	}

	if days := objects(data, "first_7_days_plan"); len(days) > 0 {
		w.line("## First 7 days")
		for _, it := range structured.Truncate(days, 7) {
			w.line(fmt.Sprintf("**Day %s**: %s / %s", structured.String(it, "day"), structured.String(it, "channel"), structured.String(it, "format")))
			w.field("- Topic: ", structured.String(it, "topic"))
			w.field("- Goal: ", structured.String(it, "goal"))
			if kps := structured.Truncate(structured.Strings(it, "key_points"), 5); len(kps) > 0 {
				w.line("- Key points:")
				for _, kp := range kps {
					w.line("  - " + kp)
				}
			}
			w.field("- CTA: ", structured.String(it, "cta"))
			w.blank()
		}
	}

	w.list("## Risks and limits", structured.Strings(data, "risks_and_limits"), 8)
	return w.String()
}
