package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/llm"
)

// taskInvoker answers by request task.
type taskInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	tasks   []string
	reqs    []llm.Request
}

func (f *taskInvoker) Invoke(_ context.Context, req llm.Request) (*llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, req.Task)
	f.reqs = append(f.reqs, req)
	if err := f.errs[req.Task]; err != nil {
		return nil, err
	}
	text, ok := f.replies[req.Task]
	if !ok {
		return nil, fmt.Errorf("no reply for task %q", req.Task)
	}
	return &llm.Result{Text: text}, nil
}

func TestDetectIntent(t *testing.T) {
	cases := map[string]string{
		"Write a content plan for May":      IntentContent,
		"Build a sales funnel":              IntentStrategy,
		"Audit my account":                  IntentAudit,
		"Launch ads for the new menu":       IntentAds,
		"Analytics for last month is weird": IntentAnalysis,
		"Нужна реклама для кофейни":         IntentAds,
		"hello there":                       IntentOther,
	}
	for text, want := range cases {
		assert.Equal(t, want, DetectIntent(text), text)
	}
}

func TestScopeGuardKeywords(t *testing.T) {
	inv := &taskInvoker{}
	g := NewScopeGuard(inv, "light", true)

	in, block, err := g.Check(context.Background(), "ideas for instagram reels")
	require.NoError(t, err)
	assert.True(t, in)
	assert.Nil(t, block)

	in, block, err = g.Check(context.Background(), "https://bakery.example/menu")
	require.NoError(t, err)
	assert.True(t, in)
	assert.Nil(t, block)

	in, block, err = g.Check(context.Background(), "write a python script for me")
	require.NoError(t, err)
	assert.False(t, in)
	require.NotNil(t, block)
	assert.Contains(t, block.Warnings, warningOutOfScope)

	assert.Empty(t, inv.tasks)
}

func TestScopeGuardClassifier(t *testing.T) {
	t.Run("in scope", func(t *testing.T) {
		inv := &taskInvoker{replies: map[string]string{taskScope: `{"in_scope": true, "reason": "business question"}`}}
		in, block, err := NewScopeGuard(inv, "light", true).Check(context.Background(), "how do I get more customers")
		require.NoError(t, err)
		assert.True(t, in)
		assert.Nil(t, block)
		require.Len(t, inv.reqs, 1)
		assert.Equal(t, "light", inv.reqs[0].Model)
		assert.Contains(t, inv.reqs[0].Messages[1].Content, "more customers")
	})

	t.Run("out of scope with reframe", func(t *testing.T) {
		inv := &taskInvoker{replies: map[string]string{taskScope: `{"in_scope": false, "suggested_marketing_reframe": "Plan a weather-based promo"}`}}
		in, block, err := NewScopeGuard(inv, "light", true).Check(context.Background(), "what's the weather tomorrow")
		require.NoError(t, err)
		assert.False(t, in)
		require.NotNil(t, block)
		assert.True(t, strings.HasSuffix(block.Reply, "• Plan a weather-based promo"))
	})

	t.Run("failure refuses and degrades", func(t *testing.T) {
		inv := &taskInvoker{errs: map[string]error{taskScope: errors.New("boom")}}
		in, block, err := NewScopeGuard(inv, "light", true).Check(context.Background(), "what's the weather tomorrow")
		assert.False(t, in)
		require.NotNil(t, block)
		assert.True(t, smmerrors.IsDegraded(err))
	})

	t.Run("disabled", func(t *testing.T) {
		inv := &taskInvoker{}
		in, block, err := NewScopeGuard(inv, "light", false).Check(context.Background(), "what's the weather tomorrow")
		require.NoError(t, err)
		assert.False(t, in)
		assert.NotNil(t, block)
		assert.Empty(t, inv.tasks)
	})
}

func TestParseInstagramInsights(t *testing.T) {
	text := "IG_INSIGHTS\n" +
		"Account: @bakery_spb\n" +
		"Goal: more orders\n" +
		"Followers: 12 500\n" +
		"Avg reach post: 1 800,5\n" +
		"Top content:\n" +
		"1) Reels about croissants\n" +
		"2. Carousel with prices\n"

	in := ParseInstagramInsights(text)
	require.NotNil(t, in)
	assert.Equal(t, "@bakery_spb", in.Handle)
	assert.Equal(t, "more orders", in.Goal)
	require.NotNil(t, in.Followers)
	assert.Equal(t, 12500.0, *in.Followers)
	require.NotNil(t, in.AvgReachPost)
	assert.InDelta(t, 1800.5, *in.AvgReachPost, 1e-9)
	assert.Nil(t, in.AvgCheck)
	assert.Equal(t, []string{"1) Reels about croissants", "2. Carousel with prices"}, in.TopContent)
	assert.Equal(t, text, in.Raw)

	assert.Nil(t, ParseInstagramInsights("Followers: 100"))
}

func TestParseNumber(t *testing.T) {
	require.NotNil(t, parseNumber("about 3,5k"))
	assert.Equal(t, 3.5, *parseNumber("about 3,5k"))
	assert.Equal(t, 42.0, *parseNumber("42."))
	assert.Nil(t, parseNumber("none yet"))
}

func TestReplyFromMap(t *testing.T) {
	r := ReplyFromMap(map[string]any{
		"reply":              "Here is a plan.\nWhat is your budget?\nPost daily.",
		"follow_up_question": "Which city?",
		"actions": []any{
			"Define target audience",
			map[string]any{"type": "suggestion", "text": "define target audience."},
			"Write 5 posts",
			"write 5 posts",
			"",
		},
		"intent":      "SALES",
		"assumptions": "budget is small",
	})
	assert.Equal(t, "Here is a plan.\nPost daily.", r.Reply)
	assert.Equal(t, "Which city?", r.FollowUpQuestion)
	assert.Equal(t, []Action{
		{Type: actionSuggestion, Text: "Generate 3 audience segments with an offer for each"},
		{Type: actionSuggestion, Text: "Write 5 posts"},
	}, r.Actions)
	assert.Equal(t, IntentOther, r.Intent)
	assert.Equal(t, []string{"budget is small"}, r.Assumptions)
	assert.Empty(t, r.Warnings)
}

func TestReplyFromMapFlagsBanalAdvice(t *testing.T) {
	r := ReplyFromMap(map[string]any{
		"reply":              "First define your target audience, then think about it. Is that clear?",
		"follow_up_question": nil,
		"intent":             "strategy",
	})
	assert.Empty(t, r.FollowUpQuestion)
	assert.Contains(t, r.Reply, "Is that clear?")
	assert.Equal(t, IntentStrategy, r.Intent)
	assert.Equal(t, []string{warningBanalPhrase}, r.Warnings)
}

func TestEnforcePolicy(t *testing.T) {
	t.Run("bullets", func(t *testing.T) {
		lines := []string{"Intro"}
		for i := 1; i <= 12; i++ {
			lines = append(lines, fmt.Sprintf("- idea %d", i))
		}
		lines = append(lines, "Outro")
		r := EnforcePolicy(Reply{Reply: strings.Join(lines, "\n")})
		assert.True(t, strings.HasSuffix(r.Reply, "- idea 10"))
		assert.NotContains(t, r.Reply, "idea 11")
	})

	t.Run("length", func(t *testing.T) {
		r := EnforcePolicy(Reply{Reply: strings.Repeat("пост ", 500)})
		assert.Equal(t, MaxReplyRunes, utf8.RuneCountInString(r.Reply))
		assert.True(t, strings.HasSuffix(r.Reply, "..."))
		assert.True(t, utf8.ValidString(r.Reply))
	})

	t.Run("actions", func(t *testing.T) {
		r := EnforcePolicy(Reply{Reply: "ok"})
		assert.Equal(t, fillerActions, r.Actions)
		assert.Equal(t, IntentOther, r.Intent)
		assert.NotNil(t, r.Warnings)
		assert.NotNil(t, r.Assumptions)

		r = EnforcePolicy(Reply{Reply: "ok", Actions: []Action{{Type: actionSuggestion, Text: "go into more detail"}}})
		assert.Equal(t, []string{"go into more detail", "Show a concrete example"}, actionTexts(r.Actions))

		many := make([]Action, 6)
		for i := range many {
			many[i] = Action{Type: actionSuggestion, Text: fmt.Sprintf("step %d", i)}
		}
		r = EnforcePolicy(Reply{Reply: "ok", Actions: many})
		assert.Len(t, r.Actions, MaxActions)
	})

	t.Run("single question", func(t *testing.T) {
		r := EnforcePolicy(Reply{Reply: "ok", FollowUpQuestion: "Which city? And what budget?"})
		assert.Equal(t, "Which city?", r.FollowUpQuestion)
		r = EnforcePolicy(Reply{Reply: "ok", FollowUpQuestion: "Tell me the city"})
		assert.Equal(t, "Tell me the city?", r.FollowUpQuestion)
		r = EnforcePolicy(Reply{Reply: "ok", FollowUpQuestion: " ? "})
		assert.Empty(t, r.FollowUpQuestion)
	})
}

func actionTexts(actions []Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Text)
	}
	return out
}
