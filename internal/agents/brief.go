package agents

import (
	"fmt"
	"strings"

	"smmswarm/internal/jsonx"
	"smmswarm/internal/structured"
)

// Brief is the key-value input given to an agent: the task description plus
// every collected answer.
type Brief map[string]any

// NewBrief merges the task description with answers. Answers never override
// the description.
func NewBrief(taskDescription string, answers map[string]any) Brief {
	b := make(Brief, len(answers)+1)
	for k, v := range answers {
		b[k] = v
	}
	b["task_description"] = taskDescription
	return b
}

// String returns the trimmed scalar value of key.
func (b Brief) String(key string) string {
	return structured.String(b, key)
}

// With returns a copy of b with key set to value.
func (b Brief) With(key string, value any) Brief {
	out := make(Brief, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	out[key] = value
	return out
}

const defaultTone = "friendly, expert, no corporate jargon"

// Context is the normalised view of a brief every prompt renders.
type Context struct {
	TaskDescription    string         `json:"task_description,omitempty"`
	BrandName          string         `json:"brand_name,omitempty"`
	ProductDescription string         `json:"product_description,omitempty"`
	Audience           string         `json:"audience,omitempty"`
	Goals              string         `json:"goals,omitempty"`
	Channels           []string       `json:"channels,omitempty"`
	Tone               string         `json:"tone,omitempty"`
	Geo                string         `json:"geo,omitempty"`
	PriceSegment       string         `json:"price_segment,omitempty"`
	Niche              string         `json:"niche,omitempty"`
	Budget             string         `json:"budget,omitempty"`
	Extra              map[string]any `json:"extra,omitempty"`
}

// Normalize maps the loosely named brief keys onto Context with defaults.
func (b Brief) Normalize() Context {
	ctx := Context{
		TaskDescription:    b.String("task_description"),
		BrandName:          firstNonEmpty(b.String("brand_name"), b.String("project_name"), "the brand"),
		ProductDescription: b.String("product_description"),
		Audience:           b.String("audience"),
		Goals:              firstNonEmpty(b.String("goals"), b.String("goal")),
		Channels:           normalizeChannels(b["channels"]),
		Tone:               firstNonEmpty(b.String("tone"), defaultTone),
		Geo:                b.String("geo"),
		PriceSegment:       b.String("price_segment"),
		Niche:              b.String("niche"),
		Budget:             b.String("budget"),
	}
	if extra, ok := b["extra"].(map[string]any); ok && len(extra) > 0 {
		ctx.Extra = extra
	}
	return ctx
}

// Render formats the context for inclusion in a prompt.
func (c Context) Render() string {
	s, err := jsonx.Pretty(c)
	if err != nil {
		return fmt.Sprintf("%+v", c)
	}
	return s
}

func normalizeChannels(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return cleanStrings(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := structured.AsString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return cleanStrings(strings.Split(t, ","))
	default:
		if s := structured.AsString(t); s != "" {
			return []string{s}
		}
		return nil
	}
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// MaxQCIssues caps how many critique issues are fed back into a revision.
const MaxQCIssues = 8

// QCIssues returns the cleaned qc_issues carried by the brief.
func (b Brief) QCIssues() []string {
	var issues []string
	switch t := b["qc_issues"].(type) {
	case []string:
		issues = cleanStrings(t)
	case []any:
		for _, item := range t {
			if s := structured.AsString(item); s != "" {
				issues = append(issues, s)
			}
		}
	}
	return structured.Truncate(issues, MaxQCIssues)
}

// QCBlock renders the revision instructions appended to a prompt after a QC
// pass flagged issues. It is empty on a first run.
func QCBlock(b Brief) string {
	issues := b.QCIssues()
	if len(issues) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nIMPORTANT: this is a second attempt after quality control.\n")
	sb.WriteString("Fix the answer, addressing every remark:\n")
	for _, issue := range issues {
		sb.WriteString("- ")
		sb.WriteString(issue)
		sb.WriteString("\n")
	}
	sb.WriteString("Do not argue with the remarks, just fix them.\n")
	return sb.String()
}
