package qc

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"smmswarm/internal/agents"
	"smmswarm/internal/chat"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/llm"
	"smmswarm/internal/structured"
)

const (
	taskShorten      = "qc_shorten"
	shortenBudget    = 700
	fallbackOriginal = "original reply"
)

const shortenSystem = `You are a strict editor of marketing answers.
Make the reply shorter and more concrete: cut filler, keep numbers, examples and wordings.
Keep at most one follow-up question and 2-4 actions. Do not add new facts.
Return strictly JSON with the same fields you received:
{"reply": "...", "follow_up_question": "... or null", "actions": [{"type": "suggestion", "text": "..."}], "assumptions": ["..."], "warnings": ["..."]}`

// Shortener is a review pass that tightens chat replies.
type Shortener struct {
	gateway agents.Invoker
	model   string
}

func NewShortener(gateway agents.Invoker, model string) *Shortener {
	return &Shortener{gateway: gateway, model: model}
}

// Shorten returns a tighter version of r. Any failure keeps r, records a
// "qc_failed:<reason>" warning and returns a *errors.DegradedError.
func (s *Shortener) Shorten(ctx context.Context, r chat.Reply) (chat.Reply, error) {
	if strings.TrimSpace(r.Reply) == "" {
		return r, nil
	}
	payload, err := jsonx.Marshal(map[string]any{
		"reply":              r.Reply,
		"follow_up_question": r.FollowUpQuestion,
		"actions":            r.Actions,
		"assumptions":        r.Assumptions,
		"warnings":           r.Warnings,
	})
	if err != nil {
		return keepOriginal(r, "encode"), smmerrors.Degraded(err, fallbackOriginal)
	}
	res, err := s.gateway.Invoke(ctx, llm.Request{
		Messages: []llm.Message{llm.System(shortenSystem), llm.User(string(payload))},
		Model:    s.model,
		Budget:   shortenBudget,
		Format:   llm.JSONObject,
		Task:     taskShorten,
	})
	if err != nil {
		return keepOriginal(r, "call"), smmerrors.Degraded(fmt.Errorf("shorten call: %w", err), fallbackOriginal)
	}
	data, err := structured.ParseObject(res.Text)
	if err != nil {
		return keepOriginal(r, "json_parse"), smmerrors.Degraded(err, fallbackOriginal)
	}
	out := chat.ReplyFromMap(data)
	if out.Reply == "" {
		return keepOriginal(r, "empty_reply"), smmerrors.Degraded(fmt.Errorf("%w: shortened reply is empty", smmerrors.ErrMalformedResponse), fallbackOriginal)
	}
	out.Intent = r.Intent
	return out, nil
}

func keepOriginal(r chat.Reply, reason string) chat.Reply {
	r.Warnings = append(slices.Clone(r.Warnings), "qc_failed:"+reason)
	return r
}
