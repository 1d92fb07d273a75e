package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"smmswarm/internal/agents"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/llm"
	"smmswarm/internal/structured"
)

// Complexity tiers.
const (
	ComplexityLight = "light"
	ComplexityHard  = "hard"
)

const (
	defaultWorkerBudget  = 1200
	maxQuestionsPerRound = 3
	routerTemperature    = 0.2
	clarifyTemperature   = 0.3
	taskRouter           = "router"
	taskClarify          = "clarify"
	fallbackQuestionKey  = "details"
	fallbackQuestionText = "Tell a bit more about the task."

	fallbackDecisionName = "default decision"
	fallbackQuestionName = "generic question"
)

// Question is one clarification asked of the user.
type Question struct {
	Key      string `json:"key"`
	Question string `json:"question"`
}

// Decision is the router's verdict for the next step of a session.
type Decision struct {
	Complexity         string     `json:"complexity"`
	Model              string     `json:"model"`
	Budget             int        `json:"max_output_tokens"`
	NeedsClarification bool       `json:"needs_clarification"`
	Questions          []Question `json:"next_questions"`
	NeedsQC            bool       `json:"needs_qc"`
}

// Models maps complexity tiers to model names.
type Models struct {
	Light string
	Hard  string
}

// For returns the model serving complexity.
func (m Models) For(complexity string) string {
	if complexity == ComplexityHard {
		return m.Hard
	}
	return m.Light
}

// HardAgent reports whether agentType always runs on the hard tier.
func HardAgent(agentType string) bool {
	return agentType == agents.TypeStrategy || agentType == agents.TypeAnalytics
}

// FallbackDecision is used whenever the router cannot be consulted.
func FallbackDecision(agentType string, models Models) Decision {
	complexity := ComplexityLight
	if HardAgent(agentType) {
		complexity = ComplexityHard
	}
	return Decision{
		Complexity: complexity,
		Model:      models.For(complexity),
		Budget:     defaultWorkerBudget,
		Questions:  []Question{},
		NeedsQC:    complexity == ComplexityHard,
	}
}

const routerSystem = "You are a strict JSON router for SMM tasks."

const routerPrompt = `Return strictly JSON:
{
  "complexity": "light|hard",
  "max_output_tokens": number,
  "needs_clarification": boolean,
  "next_questions": [{"key": "...", "question": "..."}],
  "needs_qc": boolean
}

Rules:
- light: posts, ideas, simple texts
- hard: strategies, analysis, funnels
- ask for clarification only when the answer would be useless without it

Agent type: %s
Description: %s
Answers: %s`

// router decides complexity, clarification and QC for a session step.
type router struct {
	gateway agents.Invoker
	models  Models
}

func renderAnswers(answers map[string]any) string {
	if len(answers) == 0 {
		return "{}"
	}
	s, err := jsonx.Pretty(answers)
	if err != nil {
		return fmt.Sprintf("%v", answers)
	}
	return s
}

// Route asks the light model for a decision. It always returns a usable
// decision; when the fallback decision was used the error is a
// *errors.DegradedError carrying the cause.
func (r *router) Route(ctx context.Context, agentType, task string, answers map[string]any) (Decision, error) {
	res, err := r.gateway.Invoke(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(routerSystem),
			llm.User(fmt.Sprintf(routerPrompt, agentType, task, renderAnswers(answers))),
		},
		Model:       r.models.Light,
		Temperature: llm.Temperature(routerTemperature),
		Format:      llm.JSONObject,
		Task:        taskRouter,
	})
	if err != nil {
		return FallbackDecision(agentType, r.models), smmerrors.Degraded(fmt.Errorf("router call: %w", err), fallbackDecisionName)
	}
	data, err := structured.ParseObject(res.Text)
	if err != nil {
		return FallbackDecision(agentType, r.models), smmerrors.Degraded(err, fallbackDecisionName)
	}
	return normalizeDecision(data, r.models), nil
}

func normalizeDecision(data map[string]any, models Models) Decision {
	complexity := strings.ToLower(structured.String(data, "complexity"))
	if complexity != ComplexityHard {
		complexity = ComplexityLight
	}
	d := Decision{
		Complexity: complexity,
		Model:      models.For(complexity),
		Budget:     defaultWorkerBudget,
		Questions:  normalizeQuestions(structured.Slice(data, "next_questions")),
	}
	if n, ok := structured.Int(data["max_output_tokens"]); ok && n > 0 {
		d.Budget = n
	}
	d.NeedsClarification, _ = structured.Bool(data, "needs_clarification")
	if qc, ok := structured.Bool(data, "needs_qc"); ok {
		d.NeedsQC = qc
	} else {
		d.NeedsQC = complexity == ComplexityHard
	}
	return d
}

// normalizeQuestions keeps well-formed questions, deriving missing keys.
func normalizeQuestions(items []any) []Question {
	out := []Question{}
	for i, item := range items {
		var q Question
		switch t := item.(type) {
		case map[string]any:
			q = Question{Key: structured.String(t, "key"), Question: structured.String(t, "question")}
		default:
			q = Question{Question: structured.AsString(t)}
		}
		if q.Question == "" {
			continue
		}
		if q.Key == "" {
			q.Key = fmt.Sprintf("q%d", i+1)
		}
		out = append(out, q)
	}
	return out
}

const clarifySystem = "You are a clarifying agent. Respond with JSON."

const clarifyPrompt = `The task needs clarification. Return from 1 to %d questions as JSON:
{"questions": [{"key": "...", "question": "..."}]}

Description: %s
Answers: %s`

// Clarify asks for up to min(3, remaining) questions and never returns more.
// It always returns at least one question; when the generic question was
// used the error is a *errors.DegradedError carrying the cause.
func (r *router) Clarify(ctx context.Context, task string, answers map[string]any, remaining int) ([]Question, error) {
	limit := max(min(maxQuestionsPerRound, remaining), 1)
	fallback := []Question{{Key: fallbackQuestionKey, Question: fallbackQuestionText}}

	res, err := r.gateway.Invoke(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(clarifySystem),
			llm.User(fmt.Sprintf(clarifyPrompt, limit, task, renderAnswers(answers))),
		},
		Model:       r.models.Light,
		Temperature: llm.Temperature(clarifyTemperature),
		Format:      llm.JSONObject,
		Task:        taskClarify,
	})
	if err != nil {
		return fallback, smmerrors.Degraded(fmt.Errorf("clarify call: %w", err), fallbackQuestionName)
	}

	var items []any
	if strings.HasPrefix(structured.Normalize(res.Text), "[") {
		items, err = structured.ParseArray(res.Text)
	} else {
		var obj map[string]any
		if obj, err = structured.ParseObject(res.Text); err == nil {
			items = structured.Slice(obj, "questions")
		}
	}
	if err != nil {
		return fallback, smmerrors.Degraded(err, fallbackQuestionName)
	}
	questions := normalizeQuestions(items)
	if len(questions) == 0 {
		return fallback, smmerrors.Degraded(fmt.Errorf("%w: reply holds no questions", smmerrors.ErrMalformedResponse), fallbackQuestionName)
	}
	return structured.Truncate(questions, limit), nil
}
