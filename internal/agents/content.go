package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smmswarm/internal/jsonx"
	"smmswarm/internal/structured"
)

const contentSystem = `You are a strong SMM copywriter and content strategist.
You write vividly and clearly, without jargon or filler.
You always give specifics: what to say, how to say it, which angle, which CTA.
When data is missing you make reasonable assumptions and label them as such.`

const contentPlanItemSchema = `{
  "date": "YYYY-MM-DD",
  "channel": "Telegram|Instagram|VK|...",
  "format": "post|story|reel|carousel|poll|short",
  "content_type": "expert|storytelling|offer|UGC|entertainment|social proof",
  "funnel_stage": "awareness|consideration|conversion|retention",
  "rubric": "...", "topic": "...",
  "goal": "reach|trust|clicks|leads|sales|engagement|retention",
  "hook": "...", "promise": "...",
  "key_points": ["...", "...", "..."],
  "cta_type": "comment|save|click|dm|subscribe|poll",
  "cta": "..."
}`

const contentPostSchema = `{
  "title": "...", "hook": "...", "body": "...", "cta": "...",
  "hashtags": ["#example"],
  "notes_for_design": ["..."]
}`

// Content plan period bounds, in days.
const (
	MinContentDays     = 3
	MaxContentDays     = 60
	DefaultContentDays = 14
	maxHashtags        = 6
)

// ClampDays bounds a requested plan length; zero means the default.
func ClampDays(days int) int {
	if days == 0 {
		days = DefaultContentDays
	}
	if days < MinContentDays {
		return MinContentDays
	}
	if days > MaxContentDays {
		return MaxContentDays
	}
	return days
}

// ContentAgent plans a content calendar and writes the first few posts.
type ContentAgent struct {
	Base
	now func() time.Time
}

func NewContentAgent(gateway Invoker, model string) *ContentAgent {
	return &ContentAgent{Base: NewBase(gateway, contentSystem, model, TypeContent), now: time.Now}
}

func (a *ContentAgent) Type() string { return TypeContent }

// Run returns {"plan_items", "posts": [{"plan_item", "post"}], "raw_plan_markdown"}.
func (a *ContentAgent) Run(ctx context.Context, brief Brief, opts RunOptions) (Result, error) {
	c := brief.Normalize()
	qc := QCBlock(brief)
	days := ClampDays(opts.Days)

	items, err := a.buildPlan(ctx, c, days, qc, opts)
	if err != nil {
		return nil, err
	}

	materialize := 3
	if days > 14 {
		materialize = 2
	}
	if n, ok := structured.Int(brief["materialize_count"]); ok && n >= 0 {
		materialize = n
	}

	posts := make([]any, 0, materialize)
	for _, item := range structured.Truncate(items, materialize) {
		post, err := a.generatePost(ctx, c, item, qc, opts)
		if err != nil {
			return nil, err
		}
		posts = append(posts, map[string]any{"plan_item": item, "post": post})
	}

	planItems := make([]any, len(items))
	for i := range items {
		planItems[i] = items[i]
	}
	return Result{
		"plan_items":        planItems,
		"posts":             posts,
		"raw_plan_markdown": planTable(items),
	}, nil
}

func (a *ContentAgent) buildPlan(ctx context.Context, c Context, days int, qc string, opts RunOptions) ([]map[string]any, error) {
	start := a.now()
	end := start.AddDate(0, 0, days)
	channels := c.Channels
	if len(channels) == 0 {
		channels = []string{"Telegram"}
	}
	cadence := ""
	if days > 21 {
		cadence = "\nThe period is long: plan 3-4 publications per channel per week, not daily, spread evenly.\n"
	}

	instruction := fmt.Sprintf(`Build a content plan that actually works: warms up, explains the value, leads to action.

Context:
%s

Channels: %s
Period: %s to %s inclusive. Days: %d.
%s
Requirements:
- Balance the funnel: awareness, consideration, conversion, retention.
- Balance rubrics: expertise, storytelling, social proof, offers, light entertainment.
- Every post has a clear goal, a hook, 3-5 key points and a CTA type.
- Topics are tied to the product and niche from the context; no generic phrases.
- If something is missing, assume it; do not ask questions.
%s`, c.Render(), strings.Join(channels, ", "), start.Format("2006-01-02"), end.Format("2006-01-02"), days, cadence, qc)

	raw, err := a.JSONList(ctx, strings.TrimSpace(instruction), contentPlanItemSchema, opts)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			items = append(items, obj)
		}
	}
	return items, nil
}

func (a *ContentAgent) generatePost(ctx context.Context, c Context, item map[string]any, qc string, opts RunOptions) (map[string]any, error) {
	format := strings.ToLower(firstNonEmpty(structured.String(item, "format"), "post"))
	length := "400-900 characters"
	switch {
	case strings.Contains(format, "story"):
		length = "3-5 story screens (short phrases or bullets)"
	case strings.Contains(format, "reel"), strings.Contains(format, "short"):
		length = "a 20-35 second script"
	}

	plan, _ := jsonx.Pretty(item)
	instruction := fmt.Sprintf(`Write the content for this plan item. Be concrete and useful, no filler.

Context:
%s

Plan item:
%s

Requirements:
- Use the hook from the plan (you may strengthen it).
- Give 1-2 concrete examples or wordings where it fits.
- Structure: hook, main idea, 3-5 points, CTA.
- Length: %s.
- For an offer, add a clear proposal and the next step.
- Hashtags only when they really fit, 0-6 of them.
%s`, c.Render(), plan, length, qc)

	data, err := a.JSON(ctx, strings.TrimSpace(instruction), contentPostSchema, opts)
	if err != nil {
		return nil, err
	}

	hashtags := structured.Truncate(structured.Strings(data, "hashtags"), maxHashtags)
	tags := make([]any, len(hashtags))
	for i, h := range hashtags {
		tags[i] = h
	}
	data["hashtags"] = tags

	var chunks []string
	for _, key := range []string{"title", "hook", "body", "cta"} {
		if s := structured.String(data, key); s != "" {
			chunks = append(chunks, s)
		}
	}
	if len(hashtags) > 0 {
		chunks = append(chunks, strings.Join(hashtags, " "))
	}
	data["full_text"] = strings.Join(chunks, "\n\n")
	return data, nil
}

func planTable(items []map[string]any) string {
	sanitize := func(s string) string { return strings.ReplaceAll(s, "|", "¦") }
	lines := []string{
		"| Date | Channel | Type | Format | Stage | Rubric | Topic | Goal |",
		"| --- | --- | --- | --- | --- | --- | --- | --- |",
	}
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s | %s |",
			sanitize(structured.String(it, "date")),
			sanitize(structured.String(it, "channel")),
			sanitize(firstNonEmpty(structured.String(it, "content_type"), structured.String(it, "type"))),
			sanitize(structured.String(it, "format")),
			sanitize(structured.String(it, "funnel_stage")),
			sanitize(structured.String(it, "rubric")),
			sanitize(structured.String(it, "topic")),
			sanitize(structured.String(it, "goal")),
		))
	}
	return strings.Join(lines, "\n")
}
