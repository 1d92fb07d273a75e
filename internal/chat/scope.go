package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"smmswarm/internal/agents"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/llm"
	"smmswarm/internal/structured"
)

const (
	taskScope           = "scope"
	warningOutOfScope   = "out_of_scope_request"
	fallbackScopeName   = "out-of-scope reply"
	scopeClassifierBody = `You classify requests.
Decide whether the user's message is about marketing, SMM or promotion (including site or social media audits, ads, content and analytics).

Return strictly JSON:
{"in_scope": true, "reason": "short reason", "suggested_marketing_reframe": "when out of scope, how to rephrase it as a marketing request"}`
)

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)

var marketingKeywords = []string{
	"marketing", "promot", "advertis", "smm", "target", "lead", "sales", "funnel", "conversion",
	"cpa", "cpc", "cpm", "ctr", "roi", "romi", "brand", "positioning", "usp", "offer", "pricing", "audience",
	"content", "post", "reels", "stories", "creative", "banner", "seo", "aso", "landing", "website",
	"instagram", "telegram", "youtube", "tiktok", "vk.com", "strateg", "analyt", "metric", "campaign", "ads",
	"маркет", "продвиж", "реклам", "смм", "таргет", "лид", "заявк", "продаж", "воронк", "конверси",
	"бренд", "позиционир", "утп", "оффер", "прайс", "аудитори", "контент", "пост", "рилс", "сторис",
	"креатив", "баннер", "лендинг", "сайт", "инст", "телеграм", "ютуб", "тикток", "дзен", "стратег",
	"анализ", "аналит", "метрик", "отчёт", "отчет", "кампан",
}

var offTopicKeywords = []string{
	"solve the problem", "math", "python", "sql", "source code", "essay", "homework",
	"psycholog", "medical", "diagnos", "medicine", "legal", "lawsuit", "contract", "horoscope", "astrolog",
	"реши задачу", "математ", "код", "реферат", "сочинение", "психолог", "медицин", "диагноз",
	"лекарств", "юрид", "договор", "гороскоп", "астролог",
}

func looksLikeMarketing(low string) bool {
	return urlPattern.MatchString(low) || containsAny(low, marketingKeywords)
}

func looksOffTopic(low string) bool {
	return containsAny(low, offTopicKeywords)
}

// OutOfScopeReply redirects the user to marketing requests.
func OutOfScopeReply() Reply {
	return Reply{
		Reply: "I only help with marketing and SMM: strategy, content, ads, audits and analytics.\n\n" +
			"Put your request in that context, for example:\n" +
			"• \"Build a promotion strategy for ...\"\n" +
			"• \"Review my site or account and give recommendations\"\n" +
			"• \"Write an ad post or an offer for ...\"",
		FollowUpQuestion: "What do you need: a strategy, content, ads or an audit?",
		Actions: []Action{
			{Type: actionSuggestion, Text: "Build a promotion strategy"},
			{Type: actionSuggestion, Text: "Review a site or social account"},
			{Type: actionSuggestion, Text: "Plan 14 days of content"},
			{Type: actionSuggestion, Text: "Write an ad post or creative"},
		},
		Intent:      IntentOther,
		Assumptions: []string{},
		Warnings:    []string{warningOutOfScope},
	}
}

// ScopeGuard keeps the assistant on marketing topics. Clear cases are
// decided by keywords; borderline messages go to a light model when the
// classifier is enabled and are refused otherwise.
type ScopeGuard struct {
	gateway    agents.Invoker
	model      string
	classifier bool
}

func NewScopeGuard(gateway agents.Invoker, model string, classifier bool) *ScopeGuard {
	return &ScopeGuard{gateway: gateway, model: model, classifier: classifier}
}

// Check reports whether text is in scope. For a refused message it also
// returns the redirect reply. A classifier failure refuses the message and
// returns a *errors.DegradedError.
func (g *ScopeGuard) Check(ctx context.Context, text string) (bool, *Reply, error) {
	low := strings.ToLower(strings.TrimSpace(text))
	if low == "" {
		return true, nil, nil
	}
	marketing := looksLikeMarketing(low)
	if looksOffTopic(low) && !marketing {
		block := OutOfScopeReply()
		return false, &block, nil
	}
	if marketing {
		return true, nil, nil
	}
	if !g.classifier || g.gateway == nil {
		block := OutOfScopeReply()
		return false, &block, nil
	}

	input, err := jsonx.Marshal(map[string]string{"user_text": text})
	if err != nil {
		block := OutOfScopeReply()
		return false, &block, smmerrors.Degraded(err, fallbackScopeName)
	}
	res, err := g.gateway.Invoke(ctx, llm.Request{
		Messages: []llm.Message{llm.System(scopeClassifierBody), llm.User(string(input))},
		Model:    g.model,
		Format:   llm.JSONObject,
		Task:     taskScope,
	})
	if err != nil {
		block := OutOfScopeReply()
		return false, &block, smmerrors.Degraded(fmt.Errorf("scope classifier: %w", err), fallbackScopeName)
	}
	data, err := structured.ParseObject(res.Text)
	if err != nil {
		block := OutOfScopeReply()
		return false, &block, smmerrors.Degraded(err, fallbackScopeName)
	}
	if in, _ := structured.Bool(data, "in_scope"); in {
		return true, nil, nil
	}
	block := OutOfScopeReply()
	if reframe := structured.String(data, "suggested_marketing_reframe"); reframe != "" {
		block.Reply += "\n\nFor example:\n• " + reframe
	}
	return false, &block, nil
}
