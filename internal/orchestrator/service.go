// Package orchestrator drives task sessions: it routes a task to a tier,
// gathers clarifications, runs the agent, applies one QC revision and
// optionally composes an image.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"smmswarm/internal/agents"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/formatter"
	"smmswarm/internal/ids"
	"smmswarm/internal/images"
	"smmswarm/internal/logging"
	"smmswarm/internal/observability"
	"smmswarm/internal/qc"
	"smmswarm/internal/session"
	"smmswarm/internal/structured"
)

// Outcome statuses.
const (
	StatusNeedInfo = "need_info"
	StatusDone     = "done"
)

// Delivery modes.
const (
	ModeText      = "text"
	ModeImage     = "image"
	ModeTextImage = "text+image"
)

// Stage names used in metrics.
const (
	stageRoute   = "route"
	stageClarify = "clarify"
	stageWork    = "work"
	stageQC      = "qc"
	stageImage   = "image"
)

const defaultMaxQuestions = 6

// StartRequest opens a session.
type StartRequest struct {
	User            string         `json:"user"`
	AgentType       string         `json:"agent_type"`
	TaskDescription string         `json:"task_description"`
	Answers         map[string]any `json:"answers"`
	Mode            string         `json:"mode"`
}

// Outcome is either a request for more information or the final result.
type Outcome struct {
	Status    string                     `json:"status"`
	SessionID string                     `json:"session_id"`
	Questions []Question                 `json:"questions,omitempty"`
	Result    *formatter.FormattedResult `json:"result,omitempty"`
	Image     *images.Result             `json:"image,omitempty"`
}

// ImageGenerator composes images for sessions delivered with a picture.
type ImageGenerator interface {
	Generate(ctx context.Context, req images.Request) (*images.Result, error)
}

// Critic reviews an answer and returns issues worth a revision. A review
// that could not run yields no issues and a *errors.DegradedError.
type Critic interface {
	Critique(ctx context.Context, task, content string) ([]string, error)
}

// Service runs task sessions.
type Service struct {
	registry     *agents.Registry
	router       *router
	critic       Critic
	images       ImageGenerator
	store        session.Store
	locks        *session.Locker
	models       Models
	maxQuestions int
	logger       logging.Logger
	metrics      *observability.Metrics
	tracer       *observability.TracerProvider
	now          func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithImages enables image delivery modes.
func WithImages(g ImageGenerator) Option { return func(s *Service) { s.images = g } }

func WithCritic(c Critic) Option { return func(s *Service) { s.critic = c } }

func WithMaxQuestions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxQuestions = n
		}
	}
}

func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithTracer(tp *observability.TracerProvider) Option { return func(s *Service) { s.tracer = tp } }

func WithLogger(l logging.Logger) Option { return func(s *Service) { s.logger = logging.OrNop(l) } }

// NewService wires a session service. gateway serves the router, the
// clarifier and the default critic; registry supplies the worker agents.
func NewService(gateway agents.Invoker, registry *agents.Registry, store session.Store, models Models, opts ...Option) *Service {
	s := &Service{
		registry:     registry,
		store:        store,
		locks:        session.NewLocker(),
		models:       models,
		maxQuestions: defaultMaxQuestions,
		logger:       logging.NewComponentLogger("orchestrator"),
		tracer:       observability.NoopTracer(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = &router{gateway: gateway, models: models}
	if s.critic == nil {
		s.critic = qc.NewCritic(gateway, models.Light)
	}
	return s
}

func validMode(mode string) bool {
	switch mode {
	case ModeText, ModeImage, ModeTextImage:
		return true
	}
	return false
}

// Start creates a session and advances it as far as it can go.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Outcome, error) {
	agentType := strings.ToLower(strings.TrimSpace(req.AgentType))
	if !s.registry.Has(agentType) {
		return nil, fmt.Errorf("%w: %q", smmerrors.ErrUnknownAgent, req.AgentType)
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = ModeText
	}
	if !validMode(mode) {
		return nil, fmt.Errorf("%w: unsupported mode %q", smmerrors.ErrInvalidInput, req.Mode)
	}
	if (mode == ModeImage || mode == ModeTextImage) && s.images == nil {
		return nil, fmt.Errorf("%w: mode %q requires image generation, which is not configured", smmerrors.ErrInvalidInput, mode)
	}

	scope := ids.FromContext(ctx)
	user := firstNonEmpty(req.User, scope.UserID, "anonymous")
	now := s.now()
	sess := &session.Session{
		ID:              ids.NewSessionID(),
		UserID:          user,
		RequestID:       scope.RequestID,
		AgentType:       agentType,
		TaskDescription: strings.TrimSpace(req.TaskDescription),
		Mode:            mode,
		Answers:         map[string]any{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for k, v := range req.Answers {
		sess.Answers[k] = v
	}

	scope.SessionID, scope.UserID = sess.ID, user
	ctx = ids.WithIDs(ctx, scope)
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanTaskStart, attribute.String(observability.AttrAgent, agentType))
	defer span.End()

	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.metrics.IncActiveSessions()
	logging.FromContext(ctx, s.logger).Info("Started %s session mode=%s", agentType, mode)

	out, err := s.advance(ctx, sess)
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		return nil, err
	}
	span.SetAttributes(observability.StatusAttrs(out.Status)...)
	return out, nil
}

// Answer records one answer and advances the session. Calls for the same
// session are serialised.
func (s *Service) Answer(ctx context.Context, sessionID, key string, value any) (*Outcome, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: answer key is required", smmerrors.ErrInvalidInput)
	}
	sess.Answers[key] = value
	sess.UpdatedAt = s.now()

	scope := ids.FromContext(ctx)
	scope.SessionID = sess.ID
	if scope.UserID == "" {
		scope.UserID = sess.UserID
	}
	ctx = ids.WithIDs(ctx, scope)
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanTaskAnswer, attribute.String(observability.AttrAgent, sess.AgentType))
	defer span.End()

	out, err := s.advance(ctx, sess)
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		return nil, err
	}
	span.SetAttributes(observability.StatusAttrs(out.Status)...)
	return out, nil
}

// Session returns the stored state of a pending session.
func (s *Service) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.store.Get(ctx, sessionID)
}

func (s *Service) observe(stage string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.IncStageFailure(stage, "error")
	}
	s.metrics.ObserveStage(stage, status, time.Since(started))
}

// noteDegraded logs and counts a fallback taken by stage.
func noteDegraded(logger logging.Logger, metrics *observability.Metrics, stage string, err error) {
	if err == nil {
		return
	}
	var degraded *smmerrors.DegradedError
	if !errors.As(err, &degraded) {
		logger.Warn("Stage %s failed: %v", stage, err)
		metrics.IncStageFailure(stage, smmerrors.GetErrorType(err).String())
		return
	}
	logger.Warn("Stage %s degraded to %s (%s cause): %v", stage, degraded.Fallback, smmerrors.GetErrorType(degraded.Err), degraded.Err)
	metrics.IncStageFailure(stage, smmerrors.ErrorTypeDegraded.String())
}

func (s *Service) advance(ctx context.Context, sess *session.Session) (*Outcome, error) {
	logger := logging.FromContext(ctx, s.logger)

	started := time.Now()
	decision, err := s.router.Route(ctx, sess.AgentType, sess.TaskDescription, sess.Answers)
	s.observe(stageRoute, started, nil)
	noteDegraded(logger, s.metrics, stageRoute, err)
	logger.Debug("Route decision complexity=%s model=%s clarify=%t qc=%t", decision.Complexity, decision.Model, decision.NeedsClarification, decision.NeedsQC)

	if decision.NeedsClarification && sess.QuestionsAsked < s.maxQuestions {
		started = time.Now()
		limit := min(maxQuestionsPerRound, s.maxQuestions-sess.QuestionsAsked)
		questions := decision.Questions
		if len(questions) == 0 {
			questions, err = s.router.Clarify(ctx, sess.TaskDescription, sess.Answers, limit)
			noteDegraded(logger, s.metrics, stageClarify, err)
		}
		questions = structured.Truncate(questions, limit)
		sess.QuestionsAsked += len(questions)
		err = s.store.Put(ctx, sess)
		s.observe(stageClarify, started, err)
		if err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
		return &Outcome{
			Status:    StatusNeedInfo,
			SessionID: sess.ID,
			Questions: questions,
		}, nil
	}

	result, err := s.work(ctx, sess, decision)
	if err != nil {
		return nil, err
	}

	if decision.NeedsQC || result.Confidence == agents.ConfidenceLow {
		started = time.Now()
		issues, err := s.critic.Critique(ctx, sess.TaskDescription, result.Content)
		s.observe(stageQC, started, nil)
		noteDegraded(logger, s.metrics, stageQC, err)
		if len(issues) > 0 {
			s.metrics.IncStageRetry(stageWork)
			sess.Answers["qc_issues"] = issues
			revised, err := s.work(ctx, sess, decision)
			if err != nil {
				return nil, err
			}
			delta := qc.RevisionDelta(result.Content, revised.Content)
			logger.Info("QC revision applied issues=%d inserted=%d deleted=%d", len(issues), delta.Inserted, delta.Deleted)
			revised.Warnings = issues
			result = revised
		}
	}

	var image *images.Result
	if sess.Mode == ModeImage || sess.Mode == ModeTextImage {
		started = time.Now()
		image, err = s.images.Generate(ctx, imageRequest(sess))
		s.observe(stageImage, started, err)
		if err != nil {
			if sess.Mode == ModeImage {
				return nil, fmt.Errorf("generate image: %w", err)
			}
			logger.Warn("Image generation failed, returning text only: %v", err)
			result.Warnings = append(result.Warnings, "image generation failed: "+err.Error())
		}
	}

	if err := s.store.Delete(ctx, sess.ID); err != nil {
		logger.Warn("Failed to delete finished session: %v", err)
	}
	s.metrics.DecActiveSessions()
	logger.Info("Task completed agent=%s model=%s", sess.AgentType, decision.Model)

	return &Outcome{
		Status:    StatusDone,
		SessionID: sess.ID,
		Result:    result,
		Image:     image,
	}, nil
}

func (s *Service) work(ctx context.Context, sess *session.Session, decision Decision) (*formatter.FormattedResult, error) {
	started := time.Now()
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanAgentRun,
		attribute.String(observability.AttrAgent, sess.AgentType),
		attribute.String(observability.AttrModel, decision.Model))
	defer span.End()

	agent, err := s.registry.Get(sess.AgentType)
	if err != nil {
		s.observe(stageWork, started, err)
		return nil, err
	}
	opts := agents.RunOptions{Model: decision.Model, Budget: decision.Budget}
	if sess.AgentType == agents.TypeContent {
		opts.Days = periodDays(sess.Answers)
	}
	raw, err := agent.Run(ctx, agents.NewBrief(sess.TaskDescription, sess.Answers), opts)
	s.observe(stageWork, started, err)
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		return nil, fmt.Errorf("%s agent: %w", sess.AgentType, err)
	}
	res := formatter.NewResult(sess.AgentType, raw)
	return &res, nil
}

// periodDays reads the content period from the "period" or "days" answer.
func periodDays(answers map[string]any) int {
	for _, key := range []string{"period", "days"} {
		if n, ok := structured.Int(answers[key]); ok && n > 0 {
			return n
		}
	}
	return 0
}

func imageRequest(sess *session.Session) images.Request {
	req := images.Request{
		Platform: firstNonEmpty(structured.String(sess.Answers, "platform"), "auto"),
		UseCase:  firstNonEmpty(structured.String(sess.Answers, "use_case"), "auto"),
		Message:  sess.TaskDescription,
		Brand:    structured.Map(sess.Answers, "brand"),
		Variants: 1,
		User:     sess.UserID,
	}
	if n, ok := structured.Int(sess.Answers["variants"]); ok && n > 0 {
		req.Variants = n
	}
	if ov := structured.Map(sess.Answers, "overlay"); ov != nil {
		req.Overlay = agents.Overlay{
			Headline: structured.String(ov, "headline"),
			Subtitle: structured.String(ov, "subtitle"),
			CTA:      structured.String(ov, "cta"),
		}
	}
	return req
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
