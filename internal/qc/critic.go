// Package qc reviews agent output and reports the issues that warrant a
// revision.
package qc

import (
	"context"
	"fmt"
	"strings"

	"smmswarm/internal/agents"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/llm"
	"smmswarm/internal/logging"
	"smmswarm/internal/structured"
)

const (
	statusRevise = "revise"
	taskQC       = "qc"
	temperature  = 0.2

	// FallbackUnreviewed names the fallback taken when a review fails.
	FallbackUnreviewed = "answer accepted unreviewed"
)

const criticSystem = "You are a strict quality editor. Respond with JSON only."

const criticPrompt = `You are a quality editor. Return strictly JSON:
{"status": "ok|revise", "issues": ["..."]}

Check:
- the answer is concrete and has examples
- there is no filler or generic wording
- the next steps are clear
- the answer matches the task

User task: %s
Answer: %s`

// Critic asks a light model whether an answer needs another pass.
type Critic struct {
	gateway agents.Invoker
	model   string
	logger  logging.Logger
}

func NewCritic(gateway agents.Invoker, model string) *Critic {
	return &Critic{gateway: gateway, model: model, logger: logging.NewComponentLogger("qc-critic")}
}

// Critique returns the issues found in content, at most agents.MaxQCIssues.
// An "ok" verdict yields no issues. A failed review also yields no issues,
// together with a *errors.DegradedError describing the skipped check.
func (c *Critic) Critique(ctx context.Context, task, content string) ([]string, error) {
	logger := logging.FromContext(ctx, c.logger)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	res, err := c.gateway.Invoke(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(criticSystem),
			llm.User(fmt.Sprintf(criticPrompt, task, content)),
		},
		Model:       c.model,
		Temperature: llm.Temperature(temperature),
		Format:      llm.JSONObject,
		Task:        taskQC,
	})
	if err != nil {
		return nil, smmerrors.Degraded(fmt.Errorf("qc call: %w", err), FallbackUnreviewed)
	}
	data, err := structured.ParseObject(res.Text)
	if err != nil {
		return nil, smmerrors.Degraded(err, FallbackUnreviewed)
	}
	if !strings.EqualFold(structured.String(data, "status"), statusRevise) {
		return nil, nil
	}
	issues := structured.Truncate(structured.Strings(data, "issues"), agents.MaxQCIssues)
	logger.Debug("QC requested revision with %d issues", len(issues))
	return issues, nil
}
