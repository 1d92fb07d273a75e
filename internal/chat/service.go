// Package chat is the conversational marketing assistant. Each user has one
// conversation whose summary, fact sheet and recent turns live in the
// session store; every message is scope-checked, answered by a light model,
// held to the reply policy and optionally shortened by a review pass.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"smmswarm/internal/agents"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/ids"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/llm"
	"smmswarm/internal/logging"
	"smmswarm/internal/observability"
	"smmswarm/internal/session"
	"smmswarm/internal/structured"
)

const (
	AgentType = "assistant"

	taskAssistant       = "assistant"
	stageChat           = "chat"
	defaultHistoryLimit = 20
	promptTurns         = 8
	summaryTurns        = 20
	conversationPrefix  = "chat-"
	roleUser            = "user"
	roleAssistant       = "assistant"
	warningNotJSON      = "the model reply was not JSON; showing the text as is"
	fallbackTextName    = "plain-text reply"
)

const assistantSystem = `You are a senior marketing and SMM assistant for small and medium businesses.
You get INPUT_JSON with the conversation summary, the known business facts, the last messages and optional pasted account statistics.

Rules:
- Answer the last user message concretely: numbers, examples, wordings. No filler.
- Never interrogate the user. Make reasonable assumptions, list them in assumptions, and ask at most one follow-up question.
- Offer 2-4 next actions that produce something (a plan, segments, posts), not generic advice.

Return strictly JSON:
{"reply": "...", "follow_up_question": "... or null", "actions": [{"type": "suggestion", "text": "..."}],
 "intent": "content|strategy|audit|ads|analysis|other", "assumptions": ["..."], "warnings": ["..."]}`

// Shortener tightens a reply. A failed pass returns the input reply and a
// *errors.DegradedError.
type Shortener interface {
	Shorten(ctx context.Context, r Reply) (Reply, error)
}

// Response is what a client gets for one message.
type Response struct {
	Reply            string   `json:"reply"`
	FollowUpQuestion string   `json:"follow_up_question"`
	Actions          []Action `json:"actions"`
	Debug            Debug    `json:"debug"`
}

// Debug explains how a reply was produced.
type Debug struct {
	Intent    string   `json:"intent"`
	InScope   bool     `json:"in_scope"`
	Instagram bool     `json:"instagram_insights"`
	Conflicts []string `json:"conflicts,omitempty"`
	Degraded  []string `json:"degraded,omitempty"`
}

// Service answers chat messages.
type Service struct {
	gateway      agents.Invoker
	model        string
	store        session.Store
	locks        *session.Locker
	memory       *memory
	scope        *ScopeGuard
	shortener    Shortener
	historyLimit int
	logger       logging.Logger
	metrics      *observability.Metrics
	tracer       *observability.TracerProvider
	now          func() time.Time
}

// Option customises a Service.
type Option func(*Service)

func WithShortener(sh Shortener) Option { return func(s *Service) { s.shortener = sh } }

func WithScopeGuard(g *ScopeGuard) Option { return func(s *Service) { s.scope = g } }

func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithTracer(tp *observability.TracerProvider) Option { return func(s *Service) { s.tracer = tp } }

func WithLogger(l logging.Logger) Option { return func(s *Service) { s.logger = logging.OrNop(l) } }

// NewService wires the assistant. model serves the reply, the memory and the
// default scope classifier.
func NewService(gateway agents.Invoker, store session.Store, model string, opts ...Option) *Service {
	s := &Service{
		gateway:      gateway,
		model:        model,
		store:        store,
		locks:        session.NewLocker(),
		memory:       &memory{gateway: gateway, model: model},
		historyLimit: defaultHistoryLimit,
		logger:       logging.NewComponentLogger("chat"),
		tracer:       observability.NoopTracer(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scope == nil {
		s.scope = NewScopeGuard(gateway, model, true)
	}
	return s
}

// ConversationID is the session id holding user's conversation.
func ConversationID(user string) string { return conversationPrefix + user }

// Conversation returns the stored memory of user's conversation.
func (s *Service) Conversation(ctx context.Context, user string) (*session.Session, error) {
	return s.store.Get(ctx, ConversationID(user))
}

// Message answers one user message and updates the conversation memory.
// Messages of the same user are handled one at a time.
func (s *Service) Message(ctx context.Context, user, text string) (*Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message text is required", smmerrors.ErrInvalidInput)
	}
	scope := ids.FromContext(ctx)
	user = firstNonEmpty(user, scope.UserID, "anonymous")
	id := ConversationID(user)

	unlock := s.locks.Lock(id)
	defer unlock()

	scope.SessionID, scope.UserID = id, user
	ctx = ids.WithIDs(ctx, scope)
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanChatMessage, attribute.String(observability.AttrAgent, AgentType))
	defer span.End()
	logger := logging.FromContext(ctx, s.logger)
	started := time.Now()

	conv, err := s.load(ctx, id, user)
	if err != nil {
		s.metrics.ObserveStage(stageChat, "error", time.Since(started))
		span.SetAttributes(observability.ErrorAttrs(err)...)
		return nil, err
	}
	conv.Remember(roleUser, text, s.historyLimit)

	debug := Debug{Intent: DetectIntent(text)}
	note := func(stage string, err error) {
		if err == nil {
			return
		}
		var degraded *smmerrors.DegradedError
		if errors.As(err, &degraded) {
			logger.Warn("Chat %s degraded to %s (%s cause): %v", stage, degraded.Fallback, smmerrors.GetErrorType(degraded.Err), degraded.Err)
		} else {
			logger.Warn("Chat %s failed: %v", stage, err)
		}
		s.metrics.IncStageFailure(stageChat+"_"+stage, smmerrors.GetErrorType(err).String())
		debug.Degraded = append(debug.Degraded, stage)
	}

	inScope, block, err := s.scope.Check(ctx, text)
	note("scope", err)
	debug.InScope = inScope

	var reply Reply
	if !inScope {
		reply = EnforcePolicy(*block)
		logger.Info("Refused out-of-scope message")
	} else {
		insights := ParseInstagramInsights(text)
		debug.Instagram = insights != nil

		facts, conflicts, err := s.memory.extractFacts(ctx, conv.Facts, text, insights)
		note("facts", err)
		conv.Facts = facts
		debug.Conflicts = conflicts

		summary, err := s.memory.updateSummary(ctx, conv.Summary, lastTurns(conv.History, summaryTurns))
		note("summary", err)
		conv.Summary = summary

		generated, err := s.generate(ctx, conv, text, insights)
		note("reply", err)
		reply = EnforcePolicy(generated)
		if s.shortener != nil {
			short, err := s.shortener.Shorten(ctx, reply)
			note("shorten", err)
			reply = EnforcePolicy(short)
		}
	}

	conv.Remember(roleAssistant, reply.Reply, s.historyLimit)
	conv.UpdatedAt = s.now()
	if err := s.store.Put(ctx, conv); err != nil {
		s.metrics.ObserveStage(stageChat, "error", time.Since(started))
		span.SetAttributes(observability.ErrorAttrs(err)...)
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	s.metrics.ObserveStage(stageChat, "ok", time.Since(started))
	span.SetAttributes(observability.StatusAttrs("done")...)
	logger.Debug("Chat reply intent=%s in_scope=%t degraded=%v", debug.Intent, debug.InScope, debug.Degraded)

	return &Response{
		Reply:            reply.Reply,
		FollowUpQuestion: reply.FollowUpQuestion,
		Actions:          reply.Actions,
		Debug:            debug,
	}, nil
}

func (s *Service) load(ctx context.Context, id, user string) (*session.Session, error) {
	conv, err := s.store.Get(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, smmerrors.ErrUnknownSession) {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	now := s.now()
	return &session.Session{
		ID:        id,
		UserID:    user,
		RequestID: ids.FromContext(ctx).RequestID,
		AgentType: AgentType,
		Answers:   map[string]any{},
		Facts:     FactsTemplate(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// generate asks the model for a structured reply. A failed call or a reply
// without the "reply" field yields the plain-text fallback and a
// *errors.DegradedError.
func (s *Service) generate(ctx context.Context, conv *session.Session, text string, insights *InstagramInsights) (Reply, error) {
	input := map[string]any{
		"summary":           conv.Summary,
		"facts_json":        conv.Facts,
		"last_user_message": text,
		"last_messages":     lastTurns(conv.History, promptTurns),
	}
	if insights != nil {
		input["instagram_insights"] = insights
	}
	payload, err := jsonx.Marshal(input)
	if err != nil {
		return fallbackReply(""), err
	}
	res, err := s.gateway.Invoke(ctx, llm.Request{
		Messages: []llm.Message{llm.System(assistantSystem), llm.User("INPUT_JSON:\n" + string(payload))},
		Model:    s.model,
		Format:   llm.JSONObject,
		Task:     taskAssistant,
	})
	if err != nil {
		return fallbackReply(""), smmerrors.Degraded(fmt.Errorf("assistant call: %w", err), fallbackTextName)
	}
	data, err := structured.ParseObject(res.Text)
	if err != nil {
		return fallbackReply(res.Text), smmerrors.Degraded(err, fallbackTextName)
	}
	if _, ok := data["reply"]; !ok {
		return fallbackReply(res.Text), smmerrors.Degraded(fmt.Errorf("%w: reply field missing", smmerrors.ErrMalformedResponse), fallbackTextName)
	}
	return ReplyFromMap(data), nil
}

func fallbackReply(raw string) Reply {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = "I could not get an answer from the model. Try rephrasing the request in 1-2 sentences."
	}
	return Reply{
		Reply: truncateRunes(text, MaxReplyRunes),
		Actions: []Action{
			{Type: actionSuggestion, Text: "Generate 8 creative angles for the product"},
			{Type: actionSuggestion, Text: "Plan a 7-day ad test"},
		},
		Intent:      IntentOther,
		Assumptions: []string{},
		Warnings:    []string{warningNotJSON},
	}
}

func lastTurns(turns []session.Turn, n int) []session.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
