package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"smmswarm/internal/structured"
)

// Intents a reply may be labelled with.
const (
	IntentContent  = "content"
	IntentStrategy = "strategy"
	IntentAudit    = "audit"
	IntentAds      = "ads"
	IntentAnalysis = "analysis"
	IntentOther    = "other"
)

const (
	MaxReplyRunes = 1600
	MinActions    = 2
	MaxActions    = 4
	MaxBullets    = 10
	maxNotes      = 6

	actionSuggestion   = "suggestion"
	warningBanalPhrase = "reply_contains_banal_phrases"
)

// Action is a next step the client can offer as a button.
type Action struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reply is the assistant's structured answer.
type Reply struct {
	Reply            string   `json:"reply"`
	FollowUpQuestion string   `json:"follow_up_question"`
	Actions          []Action `json:"actions"`
	Intent           string   `json:"intent"`
	Assumptions      []string `json:"assumptions"`
	Warnings         []string `json:"warnings"`
}

var fillerActions = []Action{
	{Type: actionSuggestion, Text: "Go into more detail"},
	{Type: actionSuggestion, Text: "Show a concrete example"},
}

type banalRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Generic advice is swapped for an action that produces something.
var banalActions = []banalRule{
	{regexp.MustCompile(`(?i)\bdefine (the |your )?target audience\b|определ(ить|и)\s+целев\S*\s+аудитори`), "Generate 3 audience segments with an offer for each"},
	{regexp.MustCompile(`(?i)\bchoose (the |your )?channels?\b|выбрат(ь|и)\s+канал`), "Build a media mix: 3 channels and what to test in each"},
	{regexp.MustCompile(`(?i)\b(set|define) (a |the |your )?budget\b|(назнач|определ)(ить|и)\s+бюджет`), "Draft 3 budget scenarios (MIN/MID/MAX) with expected metrics"},
	{regexp.MustCompile(`(?i)\b(study|research|analy[sz]e) (the |your )?competitors\b|изуч(ить|и)\s+конкурент`), "Review 10 competitors: offers, creative angles and CTAs"},
}

var banalReply = regexp.MustCompile(`(?i)\bdefine (the |your )?target audience\b|\bchoose (the |your )?channels?\b|\bset (a |the |your )?budget\b|определ(ить|и)\s+целев\S*\s+аудитори|выбрат(ь|и)\s+канал|назнач(ить|и)\s+бюджет`)

var questionStarters = []string{
	"what", "which", "how many", "how much", "how", "where", "when", "why",
	"do you", "does", "is there", "are there", "should", "could you",
	"какой", "какая", "какие", "какого", "каких", "сколько", "где", "когда",
	"почему", "зачем", "как", "нужны ли", "нужно ли", "есть ли", "в каком", "в каких", "в какой",
}

var allowedIntents = map[string]bool{
	IntentContent: true, IntentStrategy: true, IntentAudit: true,
	IntentAds: true, IntentAnalysis: true, IntentOther: true,
}

// ReplyFromMap turns a model payload into a Reply: it keeps only string
// follow-ups, rewrites generic actions, drops duplicate actions, caps the
// note lists and removes extra questions from the text when a follow-up
// question is set.
func ReplyFromMap(data map[string]any) Reply {
	r := Reply{
		Reply:       strings.TrimSpace(structured.String(data, "reply")),
		Actions:     normalizeActions(data["actions"]),
		Intent:      strings.ToLower(strings.TrimSpace(structured.String(data, "intent"))),
		Assumptions: notes(data["assumptions"]),
		Warnings:    notes(data["warnings"]),
	}
	if fu, ok := data["follow_up_question"].(string); ok {
		r.FollowUpQuestion = strings.TrimSpace(fu)
	}
	if !allowedIntents[r.Intent] {
		r.Intent = IntentOther
	}
	if r.FollowUpQuestion != "" {
		r.Reply = stripExtraQuestions(r.Reply)
	}
	if banalReply.MatchString(r.Reply) {
		r.Warnings = append(r.Warnings, warningBanalPhrase)
	}
	return r
}

func notes(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case nil:
	case []any:
		for _, item := range t {
			if s := strings.TrimSpace(structured.AsString(item)); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := strings.TrimSpace(structured.AsString(t)); s != "" {
			out = append(out, s)
		}
	}
	return structured.Truncate(out, maxNotes)
}

func normalizeActions(v any) []Action {
	var raw []Action
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			switch it := item.(type) {
			case map[string]any:
				raw = append(raw, Action{
					Type: firstNonEmpty(structured.String(it, "type"), actionSuggestion),
					Text: structured.String(it, "text"),
				})
			case string:
				raw = append(raw, Action{Type: actionSuggestion, Text: it})
			}
		}
	case string:
		raw = append(raw, Action{Type: actionSuggestion, Text: t})
	}

	out := []Action{}
	seen := map[string]bool{}
	for _, a := range raw {
		a.Text = improveAction(a.Text)
		if a.Text == "" {
			continue
		}
		key := a.Type + "\x00" + strings.ToLower(a.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return structured.Truncate(out, MaxActions)
}

func improveAction(text string) string {
	t := strings.TrimSpace(text)
	low := strings.TrimSuffix(strings.ToLower(t), ".")
	for _, rule := range banalActions {
		if rule.pattern.MatchString(low) {
			return rule.replacement
		}
	}
	return t
}

// stripExtraQuestions drops question lines from reply; a single follow-up
// question is asked separately. The original text survives when nothing
// else would.
func stripExtraQuestions(reply string) string {
	if reply == "" {
		return reply
	}
	var kept []string
	for _, line := range strings.Split(reply, "\n") {
		l := strings.TrimSpace(line)
		if l == "" {
			kept = append(kept, line)
			continue
		}
		if strings.Contains(l, "?") || startsWithQuestion(strings.ToLower(l)) {
			continue
		}
		kept = append(kept, line)
	}
	if cleaned := strings.TrimSpace(strings.Join(kept, "\n")); cleaned != "" {
		return cleaned
	}
	return truncateRunes(strings.TrimSpace(reply), MaxReplyRunes)
}

func startsWithQuestion(low string) bool {
	for _, w := range questionStarters {
		if low == w || strings.HasPrefix(low, w+" ") {
			return true
		}
	}
	return false
}

// EnforcePolicy keeps replies short: at most MaxBullets bullet lines and
// MaxReplyRunes characters, between MinActions and MaxActions actions and a
// single follow-up question.
func EnforcePolicy(r Reply) Reply {
	r.Reply = trimReply(trimBullets(r.Reply))

	actions := structured.Truncate(r.Actions, MaxActions)
	actions = append([]Action(nil), actions...)
	for _, filler := range fillerActions {
		if len(actions) >= MinActions {
			break
		}
		if !containsAction(actions, filler.Text) {
			actions = append(actions, filler)
		}
	}
	r.Actions = actions
	r.FollowUpQuestion = singleQuestion(r.FollowUpQuestion)
	if r.Intent == "" {
		r.Intent = IntentOther
	}
	if r.Assumptions == nil {
		r.Assumptions = []string{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	return r
}

func containsAction(actions []Action, text string) bool {
	for _, a := range actions {
		if strings.EqualFold(a.Text, text) {
			return true
		}
	}
	return false
}

func trimBullets(reply string) string {
	lines := strings.Split(reply, "\n")
	var bullets []int
	for i, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "-") || strings.HasPrefix(l, "•") {
			bullets = append(bullets, i)
		}
	}
	if len(bullets) <= MaxBullets {
		return reply
	}
	return strings.TrimSpace(strings.Join(lines[:bullets[MaxBullets-1]+1], "\n"))
}

func trimReply(reply string) string {
	if utf8.RuneCountInString(reply) <= MaxReplyRunes {
		return reply
	}
	return strings.TrimRight(truncateRunes(reply, MaxReplyRunes-3), " \t\n") + "..."
}

func singleQuestion(q string) string {
	if q = strings.TrimSpace(q); q == "" {
		return ""
	}
	first, _, _ := strings.Cut(q, "?")
	if first = strings.TrimSpace(first); first == "" {
		return ""
	}
	return first + "?"
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
