package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/llm"
)

// scriptedInvoker returns its replies in order and records every request.
type scriptedInvoker struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
}

func (s *scriptedInvoker) Invoke(_ context.Context, req llm.Request) (*llm.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return &llm.Result{Text: "{}"}, nil
	}
	text := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return &llm.Result{Text: text, Model: req.Model}, nil
}

func TestNewBriefKeepsTaskDescription(t *testing.T) {
	b := NewBrief("launch a bakery", map[string]any{"task_description": "other", "audience": "students"})
	assert.Equal(t, "launch a bakery", b.String("task_description"))
	assert.Equal(t, "students", b.String("audience"))

	c := b.Normalize()
	assert.Equal(t, "the brand", c.BrandName)
	assert.Equal(t, defaultTone, c.Tone)
}

func TestNormalizeChannelsAcceptsStringsAndLists(t *testing.T) {
	assert.Equal(t, []string{"Telegram", "VK"}, normalizeChannels("Telegram, VK ,"))
	assert.Equal(t, []string{"Instagram"}, normalizeChannels([]any{"Instagram", "", nil}))
	assert.Nil(t, normalizeChannels(nil))
}

func TestQCBlockCapsIssues(t *testing.T) {
	assert.Empty(t, QCBlock(Brief{}))

	issues := make([]any, 0, 12)
	for i := 0; i < 12; i++ {
		issues = append(issues, "issue")
	}
	block := QCBlock(Brief{"qc_issues": issues})
	assert.Equal(t, MaxQCIssues, strings.Count(block, "- issue"))
}

func TestStrategyAgentRendersSummaryAndMarkdown(t *testing.T) {
	inv := &scriptedInvoker{replies: []string{"```json\n" + `{
		"summary": {"north_star_metric": "leads per week", "main_bullets": ["one", "two"]},
		"positioning": {"core_message": "Fresh bread at dawn", "utp": ["baked at 5am"]},
		"offers": [{"name": "First loaf free", "cta_examples": ["Come by"]}]
	}` + "\n```"}}
	agent := NewStrategyAgent(inv, "gpt-5-mini")

	res, err := agent.Run(context.Background(), NewBrief("bakery strategy", nil), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, "In short:\n• one\n• two", res["summary_text"])
	full := res["full_strategy"].(string)
	assert.Contains(t, full, "## North star metric\nleads per week")
	assert.Contains(t, full, "**Message:** Fresh bread at dawn")
	assert.Contains(t, full, "### First loaf free")

	require.Len(t, inv.requests, 1)
	req := inv.requests[0]
	assert.Equal(t, "gpt-5-mini", req.Model)
	assert.Equal(t, TypeStrategy, req.Task)
	assert.Equal(t, llm.JSONObject, req.Format)
}

func TestStrategyAgentMalformedReply(t *testing.T) {
	inv := &scriptedInvoker{replies: []string{"I cannot answer that"}}
	_, err := NewStrategyAgent(inv, "m").Run(context.Background(), NewBrief("x", nil), RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, smmerrors.ErrMalformedResponse))
}

func TestRunOptionsOverrideModelAndBudget(t *testing.T) {
	inv := &scriptedInvoker{}
	_, err := NewPromoAgent(inv, "light").Run(context.Background(), NewBrief("x", nil), RunOptions{Model: "hard", Budget: 1800})
	require.NoError(t, err)
	assert.Equal(t, "hard", inv.requests[0].Model)
	assert.Equal(t, 1800, inv.requests[0].Budget)
}

func TestClampDays(t *testing.T) {
	assert.Equal(t, DefaultContentDays, ClampDays(0))
	assert.Equal(t, MinContentDays, ClampDays(1))
	assert.Equal(t, MaxContentDays, ClampDays(365))
	assert.Equal(t, 30, ClampDays(30))
}

func TestContentAgentBuildsPlanAndPosts(t *testing.T) {
	plan := `{"items": [
		{"date": "2026-01-01", "channel": "Telegram", "format": "post", "content_type": "expert", "funnel_stage": "awareness", "rubric": "tips", "topic": "A | B", "goal": "reach"},
		{"date": "2026-01-02", "channel": "Telegram", "format": "story", "topic": "second"},
		{"date": "2026-01-03", "channel": "Telegram", "format": "reel", "topic": "third"},
		{"date": "2026-01-04", "channel": "Telegram", "format": "post", "topic": "fourth"}
	]}`
	post := `{"title": "Title", "hook": "Hook", "body": "Body", "cta": "Write to us",
		"hashtags": ["#a", "#b", "#c", "#d", "#e", "#f", "#g"]}`
	inv := &scriptedInvoker{replies: []string{plan, post}}
	agent := NewContentAgent(inv, "m")
	agent.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	res, err := agent.Run(context.Background(), NewBrief("posts for a bakery", nil), RunOptions{Days: 7})
	require.NoError(t, err)

	assert.Len(t, res["plan_items"], 4)
	posts := res["posts"].([]any)
	require.Len(t, posts, 3)
	first := posts[0].(map[string]any)["post"].(map[string]any)
	assert.Equal(t, "Title\n\nHook\n\nBody\n\nWrite to us\n\n#a #b #c #d #e #f", first["full_text"])

	table := res["raw_plan_markdown"].(string)
	assert.True(t, strings.HasPrefix(table, "| Date | Channel | Type | Format | Stage | Rubric | Topic | Goal |"))
	assert.Contains(t, table, "A ¦ B")

	assert.Contains(t, inv.requests[0].Messages[1].Content, "2026-01-01 to 2026-01-08")
	assert.Contains(t, inv.requests[0].Messages[1].Content, "Channels: Telegram")
	assert.Len(t, inv.requests, 4)
}

func TestContentAgentMaterializeCount(t *testing.T) {
	inv := &scriptedInvoker{replies: []string{`[{"topic": "a"}, {"topic": "b"}, {"topic": "c"}]`, `{"title": "t"}`}}
	agent := NewContentAgent(inv, "m")

	res, err := agent.Run(context.Background(), NewBrief("x", map[string]any{"materialize_count": 1}), RunOptions{Days: 30})
	require.NoError(t, err)
	assert.Len(t, res["posts"], 1)
	assert.Contains(t, inv.requests[0].Messages[1].Content, "3-4 publications per channel per week")
}

func TestAnalyticsAgentNormalizesSteps(t *testing.T) {
	inv := &scriptedInvoker{replies: []string{`{"next_steps": ["post daily", {"step": "run a poll", "impact": "high"}, ""]}`}}
	res, err := NewAnalyticsAgent(inv, "m").Run(context.Background(), NewBrief("why is reach down", map[string]any{"metrics": map[string]any{"reach": 100}}), RunOptions{})
	require.NoError(t, err)

	steps := res["next_steps"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, map[string]any{"step": "post daily", "impact": "-", "effort": "medium", "how_to_do": "-"}, steps[0])
	assert.Equal(t, true, res["has_metrics"])
	assert.Contains(t, inv.requests[0].Messages[1].Content, `"reach": 100`)
}

func TestTrendsAgentDefaults(t *testing.T) {
	inv := &scriptedInvoker{replies: []string{`{}`}}
	res, err := NewTrendsAgent(inv, "m").Run(context.Background(), NewBrief("x", map[string]any{"duration_days": "soon"}), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 7, res["duration_days"])
	assert.Equal(t, []any{}, res["experiment_roadmap"])
}

func TestSuggestMode(t *testing.T) {
	assert.Equal(t, ModeSimple, SuggestMode(ImageBriefRequest{UseCase: "post", Message: "a cosy cafe"}))
	assert.Equal(t, ModeTemplate, SuggestMode(ImageBriefRequest{UseCase: "banner", Message: "autumn sale"}))
	assert.Equal(t, ModeHybrid, SuggestMode(ImageBriefRequest{UseCase: "post", Overlay: Overlay{Headline: "Sale"}}))
	assert.Equal(t, ModeHybrid, SuggestMode(ImageBriefRequest{UseCase: "hero", Message: "with a headline"}))
}

func TestNormalizeImageBriefEnforcesInvariants(t *testing.T) {
	preset := PresetHint{ID: "ig_post_square", Width: 1080, Height: 1080, Aspect: "1:1"}
	b := NormalizeImageBrief(map[string]any{
		"mode":              "simple",
		"background_prompt": "a loaf on a wooden table",
		"overlay":           map[string]any{"headline": "Fresh", "cta": "Buy"},
		"palette":           []any{"#ffcc00", "red", "#000000"},
		"layout":            "diagonal",
	}, preset, ModeTemplate)

	assert.Equal(t, "NO TEXT. a loaf on a wooden table", b.BackgroundPrompt)
	assert.True(t, b.Overlay.Empty())
	assert.Equal(t, []string{"#FFCC00", "#000000"}, b.Palette)
	assert.Equal(t, LayoutCenter, b.Layout)
	assert.Equal(t, ConfidenceMedium, b.Confidence)
	assert.Equal(t, DefaultNegativePrompt, b.NegativePrompt)
	assert.Equal(t, "1080x1080", b.Size)
	assert.Equal(t, "ig_post_square", b.PresetID)

	b = NormalizeImageBrief(map[string]any{"background_prompt": "No text, bright studio"}, preset, ModeTemplate)
	assert.Equal(t, ModeTemplate, b.Mode)
	assert.Equal(t, "No text, bright studio", b.BackgroundPrompt)
}

func TestImageBriefAgentWrite(t *testing.T) {
	inv := &scriptedInvoker{replies: []string{`{"mode": "template", "background_prompt": "sunrise over a bakery",
		"overlay": {"headline": "Open at 7", "subtitle": "", "cta": "Visit"}, "layout": "bottom", "confidence": "low"}`}}
	agent := NewImageBriefAgent(inv, "light")

	b, err := agent.Write(context.Background(), ImageBriefRequest{
		Platform: "telegram",
		UseCase:  "banner",
		Message:  "grand opening",
		Preset:   PresetHint{ID: "tg_banner", Width: 1280, Height: 720, Aspect: "16:9"},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeTemplate, b.Mode)
	assert.Equal(t, "Open at 7", b.Overlay.Headline)
	assert.Equal(t, LayoutBottom, b.Layout)
	assert.Equal(t, ConfidenceLow, b.Confidence)
	assert.Equal(t, "1280x720", b.Size)
	assert.Equal(t, "image_brief", inv.requests[0].Task)
	assert.Contains(t, inv.requests[0].Messages[1].Content, "Suggested mode: template")
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(&scriptedInvoker{}, "m")
	assert.Equal(t, []string{"analytics", "content", "promo", "strategy", "trends"}, r.Types())
	assert.True(t, r.Has(TypeContent))

	_, err := r.Get("poetry")
	require.Error(t, err)
	assert.True(t, errors.Is(err, smmerrors.ErrUnknownAgent))

	a, err := r.Get(TypePromo)
	require.NoError(t, err)
	assert.Equal(t, TypePromo, a.Type())
}

func TestJSONListObjectWithoutListIsMalformed(t *testing.T) {
	inv := &scriptedInvoker{replies: []string{`{"note": "no plan today"}`}}
	b := NewBase(inv, "system", "m", TypeContent)

	items, err := b.JSONList(context.Background(), "plan", `{"topic": "..."}`, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, smmerrors.ErrMalformedResponse)
	assert.Nil(t, items)

	inv.replies = []string{`{"items": []}`}
	items, err = b.JSONList(context.Background(), "plan", `{"topic": "..."}`, RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, items)
}
