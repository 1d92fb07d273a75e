package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/ids"
	"smmswarm/internal/session"
)

const (
	factsReply     = `{"facts": {"brand_name": "Bun Bakery", "geo": null}, "conflicts": ["geo changed"]}`
	summaryReply   = `{"summary": "Bakery wants more orders from reels."}`
	assistantReply = `{"reply": "Post reels daily.", "follow_up_question": "Which city?", "actions": ["Write 3 reels scripts"], "intent": "content"}`
)

func newTestService(inv *taskInvoker, opts ...Option) (*Service, *session.MemoryStore) {
	store := session.NewMemoryStore(0)
	return NewService(inv, store, "light", opts...), store
}

func happyInvoker() *taskInvoker {
	return &taskInvoker{replies: map[string]string{
		taskFacts:     factsReply,
		taskSummary:   summaryReply,
		taskAssistant: assistantReply,
	}}
}

func TestMessageAnswersAndRemembers(t *testing.T) {
	inv := happyInvoker()
	svc, _ := newTestService(inv)
	ctx := context.Background()

	resp, err := svc.Message(ctx, "alice", "content ideas for instagram reels")
	require.NoError(t, err)
	assert.Equal(t, "Post reels daily.", resp.Reply)
	assert.Equal(t, "Which city?", resp.FollowUpQuestion)
	assert.Equal(t, []string{"Write 3 reels scripts", "Go into more detail"}, actionTexts(resp.Actions))
	assert.Equal(t, IntentContent, resp.Debug.Intent)
	assert.True(t, resp.Debug.InScope)
	assert.False(t, resp.Debug.Instagram)
	assert.Equal(t, []string{"geo changed"}, resp.Debug.Conflicts)
	assert.Empty(t, resp.Debug.Degraded)
	assert.Equal(t, []string{taskFacts, taskSummary, taskAssistant}, inv.tasks)

	conv, err := svc.Conversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "chat-alice", conv.ID)
	assert.Equal(t, AgentType, conv.AgentType)
	assert.Equal(t, "Bakery wants more orders from reels.", conv.Summary)
	assert.Equal(t, "Bun Bakery", conv.Facts["brand_name"])
	assert.Nil(t, conv.Facts["geo"])
	for _, k := range FactKeys {
		assert.Contains(t, conv.Facts, k)
	}
	assert.Equal(t, []session.Turn{
		{Role: roleUser, Text: "content ideas for instagram reels"},
		{Role: roleAssistant, Text: "Post reels daily."},
	}, conv.History)
}

func TestMessageCarriesMemoryIntoPrompt(t *testing.T) {
	inv := happyInvoker()
	svc, _ := newTestService(inv)
	ctx := context.Background()

	_, err := svc.Message(ctx, "alice", "content ideas for instagram reels")
	require.NoError(t, err)
	inv.reqs = nil
	_, err = svc.Message(ctx, "alice", "and a posting plan")
	require.NoError(t, err)

	require.Len(t, inv.reqs, 3)
	facts, assistant := inv.reqs[0].Messages[1].Content, inv.reqs[2].Messages[1].Content
	assert.Contains(t, facts, "Bun Bakery")
	assert.Contains(t, assistant, "Bakery wants more orders from reels.")
	assert.Contains(t, assistant, "Post reels daily.")
	assert.Contains(t, assistant, "and a posting plan")
}

func TestMessageHistoryLimit(t *testing.T) {
	svc, _ := newTestService(happyInvoker(), WithHistoryLimit(3))
	ctx := context.Background()
	for _, text := range []string{"content plan", "post ideas", "stories ideas"} {
		_, err := svc.Message(ctx, "bob", text)
		require.NoError(t, err)
	}
	conv, err := svc.Conversation(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, conv.History, 3)
	assert.Equal(t, session.Turn{Role: roleUser, Text: "stories ideas"}, conv.History[1])
	assert.Equal(t, roleAssistant, conv.History[2].Role)
}

func TestMessageOutOfScopeSkipsModel(t *testing.T) {
	inv := happyInvoker()
	svc, _ := newTestService(inv)

	resp, err := svc.Message(context.Background(), "carol", "solve the math homework")
	require.NoError(t, err)
	assert.False(t, resp.Debug.InScope)
	assert.Equal(t, OutOfScopeReply().Reply, resp.Reply)
	assert.Len(t, resp.Actions, MaxActions)
	assert.Empty(t, inv.tasks)

	conv, err := svc.Conversation(context.Background(), "carol")
	require.NoError(t, err)
	assert.Len(t, conv.History, 2)
}

func TestMessageDegradesToPlainText(t *testing.T) {
	inv := &taskInvoker{
		replies: map[string]string{
			taskSummary:   summaryReply,
			taskAssistant: "Just post more reels.",
		},
		errs: map[string]error{taskFacts: errors.New("timeout")},
	}
	svc, _ := newTestService(inv)

	resp, err := svc.Message(context.Background(), "dan", "reels for my bakery")
	require.NoError(t, err)
	assert.Equal(t, "Just post more reels.", resp.Reply)
	assert.Len(t, resp.Actions, 2)
	assert.Equal(t, []string{"facts", "reply"}, resp.Debug.Degraded)

	conv, err := svc.Conversation(context.Background(), "dan")
	require.NoError(t, err)
	assert.Equal(t, FactsTemplate(), conv.Facts)
}

func TestMessageMissingReplyFieldFallsBack(t *testing.T) {
	inv := happyInvoker()
	inv.replies[taskAssistant] = `{"answer": "wrong field"}`
	svc, _ := newTestService(inv)

	resp, err := svc.Message(context.Background(), "erin", "reels for my bakery")
	require.NoError(t, err)
	assert.Equal(t, `{"answer": "wrong field"}`, resp.Reply)
	assert.Equal(t, []string{"reply"}, resp.Debug.Degraded)
}

type stubShortener struct {
	got Reply
	err error
}

func (s *stubShortener) Shorten(_ context.Context, r Reply) (Reply, error) {
	s.got = r
	if s.err != nil {
		return r, s.err
	}
	r.Reply = "Reels daily."
	return r, nil
}

func TestMessageAppliesShortener(t *testing.T) {
	sh := &stubShortener{}
	svc, _ := newTestService(happyInvoker(), WithShortener(sh))

	resp, err := svc.Message(context.Background(), "fay", "reels for my bakery")
	require.NoError(t, err)
	assert.Equal(t, "Post reels daily.", sh.got.Reply)
	assert.Equal(t, "Reels daily.", resp.Reply)

	sh.err = smmerrors.Degraded(errors.New("down"), "original reply")
	resp, err = svc.Message(context.Background(), "fay", "more reels")
	require.NoError(t, err)
	assert.Equal(t, "Post reels daily.", resp.Reply)
	assert.Equal(t, []string{"shorten"}, resp.Debug.Degraded)
}

func TestMessageInsightsReachModel(t *testing.T) {
	inv := happyInvoker()
	svc, _ := newTestService(inv)

	resp, err := svc.Message(context.Background(), "gus", "IG_INSIGHTS\nFollowers: 2 400\nGoal: sales")
	require.NoError(t, err)
	assert.True(t, resp.Debug.Instagram)
	require.Len(t, inv.reqs, 3)
	assert.Contains(t, inv.reqs[0].Messages[1].Content, "manual_instagram_insights")
	assert.Contains(t, inv.reqs[2].Messages[1].Content, `"followers":2400`)
}

func TestMessageUserFromContext(t *testing.T) {
	svc, store := newTestService(happyInvoker())
	ctx := ids.WithIDs(context.Background(), ids.IDs{UserID: "hal"})

	_, err := svc.Message(ctx, "", "content plan")
	require.NoError(t, err)
	conv, err := store.Get(context.Background(), ConversationID("hal"))
	require.NoError(t, err)
	assert.Equal(t, "hal", conv.UserID)
}

func TestMessageRequiresText(t *testing.T) {
	inv := happyInvoker()
	svc, store := newTestService(inv)

	_, err := svc.Message(context.Background(), "ivy", "   ")
	assert.ErrorIs(t, err, smmerrors.ErrInvalidInput)
	assert.Empty(t, inv.tasks)
	assert.Zero(t, store.Len())
}
