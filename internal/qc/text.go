package qc

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"smmswarm/internal/agents"
	"smmswarm/internal/formatter"
	"smmswarm/internal/structured"
)

// UserFacingText extracts the part of an agent result a reader would see
// first, which is what the critic reviews.
func UserFacingText(agentType string, result agents.Result) string {
	switch agentType {
	case agents.TypeStrategy:
		return firstNonEmpty(structured.String(result, "full_strategy"), structured.String(result, "summary_text"))
	case agents.TypeContent:
		return firstNonEmpty(formatter.FirstPostText(result), structured.String(result, "raw_plan_markdown"))
	case agents.TypeAnalytics:
		steps := structured.Slice(result, "next_steps")
		if len(steps) == 0 {
			return ""
		}
		var lines []string
		if _, ok := steps[0].(map[string]any); ok {
			for _, s := range structured.Truncate(steps, 6) {
				if line := formatter.StepLine(s); line != "" {
					lines = append(lines, "- "+line)
				}
			}
		} else {
			for _, s := range structured.Truncate(steps, 8) {
				lines = append(lines, structured.AsString(s))
			}
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	case agents.TypePromo:
		return headline(structured.Slice(result, "hypotheses"), "name", "Hypothesis", "angle")
	case agents.TypeTrends:
		return headline(structured.Slice(result, "experiment_roadmap"), "experiment_name", "Experiment", "hypothesis")
	}
	return ""
}

func headline(items []any, nameKey, fallback, detailKey string) string {
	if len(items) == 0 {
		return ""
	}
	first, _ := items[0].(map[string]any)
	name := firstNonEmpty(structured.String(first, nameKey), fallback)
	return strings.TrimSpace(name + ": " + structured.String(first, detailKey))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Delta summarises how much a revision changed an answer.
type Delta struct {
	Inserted  int `json:"inserted"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Changed reports whether the revision differs from the original.
func (d Delta) Changed() bool { return d.Inserted > 0 || d.Deleted > 0 }

// RevisionDelta counts inserted, deleted and unchanged runes between two
// versions of an answer.
func RevisionDelta(before, after string) Delta {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))
	var d Delta
	for _, diff := range diffs {
		n := len([]rune(diff.Text))
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			d.Inserted += n
		case diffmatchpatch.DiffDelete:
			d.Deleted += n
		case diffmatchpatch.DiffEqual:
			d.Unchanged += n
		}
	}
	return d
}
