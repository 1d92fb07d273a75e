package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"smmswarm/internal/agents"
	"smmswarm/internal/formatter"
	"smmswarm/internal/logging"
	"smmswarm/internal/observability"
	"smmswarm/internal/qc"
	"smmswarm/internal/structured"
)

// Pipeline budgets for the first run and for a QC revision.
const (
	PipelineBudget         = 1600
	PipelineRevisionBudget = 1800
)

// PipelineResult is the output of a multi-agent run.
type PipelineResult struct {
	Tasks    []string                 `json:"tasks"`
	Results  map[string]agents.Result `json:"results"`
	Summary  string                   `json:"summary"`
	Warnings []string                 `json:"warnings"`
}

// Pipeline runs several agents over one brief in a fixed order.
type Pipeline struct {
	registry *agents.Registry
	critic   Critic
	models   Models
	logger   logging.Logger
	metrics  *observability.Metrics
	tracer   *observability.TracerProvider
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

func WithPipelineMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func WithPipelineTracer(tp *observability.TracerProvider) PipelineOption {
	return func(p *Pipeline) { p.tracer = tp }
}

func NewPipeline(registry *agents.Registry, critic Critic, models Models, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry: registry,
		critic:   critic,
		models:   models,
		logger:   logging.NewComponentLogger("agent-pipeline"),
		tracer:   observability.NoopTracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tasks picks the agents to run: every agent for full_pipeline, the known
// entries of tasks, the agent_type, or content.
func (p *Pipeline) Tasks(brief agents.Brief) []string {
	if full, _ := structured.Bool(brief, "full_pipeline"); full {
		return append([]string(nil), agents.PipelineOrder...)
	}
	if list := structured.Slice(brief, "tasks"); len(list) > 0 {
		var out []string
		for _, item := range list {
			t := strings.ToLower(structured.AsString(item))
			if p.registry.Has(t) {
				out = append(out, t)
			}
		}
		if len(out) > 0 {
			return out
		}
		return []string{agents.TypeContent}
	}
	if t := strings.ToLower(brief.String("agent_type")); p.registry.Has(t) {
		return []string{t}
	}
	return []string{agents.TypeContent}
}

func (p *Pipeline) modelFor(task string) string {
	if HardAgent(task) {
		return p.models.Hard
	}
	return p.models.Light
}

// Run executes the selected agents and assembles a summary.
func (p *Pipeline) Run(ctx context.Context, brief agents.Brief) (*PipelineResult, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanPipelineRun)
	defer span.End()
	logger := logging.FromContext(ctx, p.logger)

	tasks := p.Tasks(brief)
	span.SetAttributes(attribute.StringSlice("smm.pipeline.tasks", tasks))
	userTask := firstNonEmpty(brief.String("task_description"), brief.String("message"), "SMM task")
	forceQC, _ := structured.Bool(brief, "qc")

	out := &PipelineResult{Tasks: tasks, Results: make(map[string]agents.Result, len(tasks)), Warnings: []string{}}
	for _, t := range tasks {
		agent, err := p.registry.Get(t)
		if err != nil {
			return nil, err
		}
		started := time.Now()
		opts := agents.RunOptions{Model: p.modelFor(t), Budget: PipelineBudget}
		if t == agents.TypeContent {
			opts.Days = periodDays(brief)
		}
		res, err := agent.Run(ctx, brief, opts)
		if err != nil {
			p.metrics.IncStageFailure(t, "error")
			span.SetAttributes(observability.ErrorAttrs(err)...)
			return nil, fmt.Errorf("%s agent: %w", t, err)
		}

		if HardAgent(t) || forceQC {
			if text := qc.UserFacingText(t, res); text != "" {
				issues, err := p.critic.Critique(ctx, userTask, text)
				noteDegraded(logger, p.metrics, t, err)
				if len(issues) > 0 {
					p.metrics.IncStageRetry(t)
					opts.Budget = PipelineRevisionBudget
					revised, err := agent.Run(ctx, brief.With("qc_issues", issues), opts)
					if err != nil {
						return nil, fmt.Errorf("%s agent revision: %w", t, err)
					}
					res = revised
					for _, issue := range issues {
						out.Warnings = append(out.Warnings, t+": "+issue)
					}
				}
			}
		}
		p.metrics.ObserveStage(t, "ok", time.Since(started))
		out.Results[t] = res
		logger.Debug("Pipeline step %s finished", t)
	}

	out.Summary = pipelineSummary(out.Results)
	return out, nil
}

func pipelineSummary(results map[string]agents.Result) string {
	var parts []string
	if r, ok := results[agents.TypeStrategy]; ok {
		if s := structured.String(r, "summary_text"); s != "" {
			parts = append(parts, s)
		}
	}
	if r, ok := results[agents.TypeContent]; ok {
		if text := formatter.FirstPostText(r); text != "" {
			parts = append(parts, "Example post:\n"+text)
		}
	}
	return strings.Join(parts, "\n\n")
}
