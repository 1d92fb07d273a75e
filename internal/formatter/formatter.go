// Package formatter turns agent results into the markdown answer shown to the
// user.
package formatter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"smmswarm/internal/agents"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/structured"
)

// FormatMarkdown is the only content format produced today.
const FormatMarkdown = "markdown"

// FormattedResult is the user-facing rendition of one agent run.
type FormattedResult struct {
	Content     string   `json:"content"`
	Format      string   `json:"format"`
	Assumptions []string `json:"assumptions"`
	Confidence  string   `json:"confidence"`
	Warnings    []string `json:"warnings"`
}

// NewResult wraps formatted content with the assumptions found in result.
func NewResult(agentType string, result agents.Result) FormattedResult {
	assumptions := structured.Strings(result, "assumptions")
	if len(assumptions) == 0 {
		assumptions = structured.Strings(structured.Map(result, "structured"), "assumptions")
	}
	if assumptions == nil {
		assumptions = []string{}
	}
	return FormattedResult{
		Content:     Format(agentType, result),
		Format:      FormatMarkdown,
		Assumptions: assumptions,
		Confidence:  agents.ConfidenceMedium,
		Warnings:    []string{},
	}
}

const (
	noStepsMessage       = "No clear recommendations yet. Try refining the task."
	noExperimentsMessage = "No clear ideas yet. Try narrowing the niche or the format."
)

// Format renders result as markdown. It never returns an empty string: when
// no known field is present the whole result is dumped as JSON.
func Format(agentType string, result agents.Result) string {
	var out string
	switch agentType {
	case agents.TypeStrategy:
		out = formatStrategy(result)
	case agents.TypeContent:
		out = formatContent(result)
	case agents.TypeAnalytics:
		out = formatAnalytics(result)
	case agents.TypePromo:
		out = formatPromo(result)
	case agents.TypeTrends:
		out = formatTrends(result)
	}
	if strings.TrimSpace(out) != "" {
		return out
	}
	return dump(result)
}

func dump(result agents.Result) string {
	if result == nil {
		return "{}"
	}
	s, err := jsonx.Pretty(result)
	if err != nil || s == "" {
		return fmt.Sprintf("%v", map[string]any(result))
	}
	return s
}

type lines []string

func (l *lines) add(s ...string) { *l = append(*l, s...) }

func (l lines) String() string { return strings.TrimSpace(strings.Join(l, "\n")) }

func formatStrategy(result agents.Result) string {
	if full := structured.String(result, "full_strategy"); full != "" {
		return full
	}
	data := structured.Map(result, "structured")
	var l lines
	if summary := structured.String(result, "summary_text"); summary != "" {
		l.add("### Strategy in brief", summary, "")
	}

	pos := structured.Map(data, "positioning")
	if core := structured.String(pos, "core_message"); core != "" {
		l.add("### Positioning", core, "")
	}
	if utp := structured.Truncate(structured.Strings(pos, "utp"), 5); len(utp) > 0 {
		l.add("### Key selling points")
		for _, u := range utp {
			l.add("- " + u)
		}
		l.add("")
	}

	funnel := structured.Map(data, "funnel")
	var stages lines
	for _, stage := range agents.FunnelStages {
		st := structured.Map(funnel, stage)
		goal := structured.String(st, "goal")
		if goal == "" {
			continue
		}
		line := fmt.Sprintf("- **%s**: %s", stage, goal)
		if types := structured.Truncate(structured.Strings(st, "content_types"), 3); len(types) > 0 {
			line += " (" + strings.Join(types, ", ") + ")"
		}
		stages.add(line)
	}
	if len(stages) > 0 {
		l.add("### Funnel")
		l.add(stages...)
		l.add("")
	}

	offers := structured.Slice(data, "offers")
	var offerLines lines
	for _, item := range structured.Truncate(offers, 3) {
		o, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := structured.String(o, "name")
		if name == "" {
			continue
		}
		line := "- **" + name + "**"
		if what := structured.String(o, "what_user_gets"); what != "" {
			line += ": " + what
		}
		offerLines.add(line)
	}
	if len(offerLines) > 0 {
		l.add("### Offers")
		l.add(offerLines...)
		l.add("")
	}

	var days lines
	for _, item := range structured.Truncate(structured.Slice(data, "first_7_days_plan"), 7) {
		d, ok := item.(map[string]any)
		if !ok {
			continue
		}
		topic := structured.String(d, "topic")
		if topic == "" {
			continue
		}
		days.add(fmt.Sprintf("- Day %s (%s): %s", structured.String(d, "day"), structured.String(d, "channel"), topic))
	}
	if len(days) > 0 {
		l.add("### First days")
		l.add(days...)
	}
	return l.String()
}

func formatContent(result agents.Result) string {
	var l lines
	if plan := structured.String(result, "raw_plan_markdown"); plan != "" {
		l.add("### Content plan", plan)
	}
	if text := FirstPostText(result); text != "" {
		l.add("", "### Example post", text)
	}
	return l.String()
}

// FirstPostText returns the full text of the first materialised post of a
// content result.
func FirstPostText(result agents.Result) string {
	posts := structured.Slice(result, "posts")
	if len(posts) == 0 {
		return ""
	}
	first, _ := posts[0].(map[string]any)
	return structured.String(structured.Map(first, "post"), "full_text")
}

// StepLine formats one analytics next step as "step (impact, effort) how".
func StepLine(step any) string {
	obj, ok := step.(map[string]any)
	if !ok {
		return structured.AsString(step)
	}
	text := structured.String(obj, "step")
	if text == "" {
		return ""
	}
	var meta []string
	for _, key := range []string{"impact", "effort"} {
		if v := structured.String(obj, key); v != "" && v != "-" {
			meta = append(meta, v)
		}
	}
	if len(meta) > 0 {
		text += " (" + strings.Join(meta, ", ") + ")"
	}
	if how := structured.String(obj, "how_to_do"); how != "" && how != "-" {
		text += " " + how
	}
	return text
}

func formatAnalytics(result agents.Result) string {
	steps := structured.Slice(result, "next_steps")
	var l lines
	for _, step := range structured.Truncate(steps, 10) {
		if s := StepLine(step); s != "" {
			l.add("- " + s)
		}
	}
	if len(l) == 0 {
		return noStepsMessage
	}
	return "### What to do next\n" + l.String()
}

func formatPromo(result agents.Result) string {
	var l lines
	if overall := structured.Truncate(structured.Strings(result, "overall_approach"), 5); len(overall) > 0 {
		l.add("### Advertising approach")
		for _, o := range overall {
			l.add("- " + o)
		}
	}
	hyps := structured.Truncate(structured.Slice(result, "hypotheses"), 3)
	if len(hyps) > 0 {
		l.add("", "### Starting hypotheses")
		for _, item := range hyps {
			h, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name := structured.String(h, "name")
			if name == "" {
				name = "Hypothesis"
			}
			l.add("- **" + name + "**")
			if v := structured.String(h, "segment"); v != "" {
				l.add("  - Audience: " + v)
			}
			if v := structured.String(h, "offer"); v != "" {
				l.add("  - Offer: " + v)
			}
			if v := structured.String(h, "angle"); v != "" {
				l.add("  - Angle: " + v)
			}
		}
	}
	return l.String()
}

func formatTrends(result agents.Result) string {
	exps := structured.Truncate(structured.Slice(result, "experiment_roadmap"), 5)
	if len(exps) == 0 {
		return noExperimentsMessage
	}
	l := lines{"### Experiments to run"}
	for _, item := range exps {
		e, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := structured.String(e, "experiment_name")
		if name == "" {
			name = "Experiment"
		}
		l.add("- **" + name + "**")
		if v := structured.String(e, "format"); v != "" {
			l.add("  - Format: " + v)
		}
		if v := structured.String(e, "hypothesis"); v != "" {
			l.add("  - Hypothesis: " + v)
		}
	}
	return l.String()
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts formatted markdown to HTML.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
