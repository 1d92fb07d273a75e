package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smmswarm/internal/agents"
	"smmswarm/internal/chat"
	"smmswarm/internal/config"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/ids"
	"smmswarm/internal/images"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/observability"
	"smmswarm/internal/orchestrator"
	"smmswarm/internal/session"
)

type fakeTasks struct {
	started  []orchestrator.StartRequest
	userSeen string
	answered map[string]any
}

func (f *fakeTasks) Start(ctx context.Context, req orchestrator.StartRequest) (*orchestrator.Outcome, error) {
	if req.AgentType == "poetry" {
		return nil, fmt.Errorf("%w: %q", smmerrors.ErrUnknownAgent, req.AgentType)
	}
	if req.Mode == "video" {
		return nil, fmt.Errorf("%w: unsupported mode %q", smmerrors.ErrInvalidInput, req.Mode)
	}
	f.started = append(f.started, req)
	f.userSeen = ids.FromContext(ctx).UserID
	return &orchestrator.Outcome{
		Status:    orchestrator.StatusNeedInfo,
		SessionID: "session-1",
		Questions: []orchestrator.Question{{Key: "audience", Question: "Who buys?"}},
	}, nil
}

func (f *fakeTasks) Answer(_ context.Context, id, key string, value any) (*orchestrator.Outcome, error) {
	if id != "session-1" {
		return nil, fmt.Errorf("%w: %s", smmerrors.ErrUnknownSession, id)
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: answer key is required", smmerrors.ErrInvalidInput)
	}
	if f.answered == nil {
		f.answered = map[string]any{}
	}
	f.answered[key] = value
	return &orchestrator.Outcome{Status: orchestrator.StatusDone, SessionID: id}, nil
}

func (f *fakeTasks) Session(_ context.Context, id string) (*session.Session, error) {
	if id != "session-1" {
		return nil, fmt.Errorf("%w: %s", smmerrors.ErrUnknownSession, id)
	}
	return &session.Session{ID: id, AgentType: "content", QuestionsAsked: 1}, nil
}

type fakePipeline struct {
	brief agents.Brief
	err   error
}

func (f *fakePipeline) Run(_ context.Context, brief agents.Brief) (*orchestrator.PipelineResult, error) {
	f.brief = brief
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.PipelineResult{Tasks: []string{"content"}, Summary: "Example post:\nhello", Warnings: []string{}}, nil
}

type fakeAgent struct {
	opts  agents.RunOptions
	brief agents.Brief
}

func (a *fakeAgent) Type() string { return agents.TypeTrends }

func (a *fakeAgent) Run(_ context.Context, brief agents.Brief, opts agents.RunOptions) (agents.Result, error) {
	a.brief, a.opts = brief, opts
	return agents.Result{
		"experiment_roadmap": []any{map[string]any{"experiment_name": "Reels", "hypothesis": "short video wins"}},
	}, nil
}

type fakeImages struct {
	req    images.Request
	stored map[string][]byte
}

func (f *fakeImages) Generate(_ context.Context, req images.Request) (*images.Result, error) {
	f.req = req
	return &images.Result{Mode: "template", PresetID: images.PresetIGPostSquare, Size: "1080x1080", ImageIDs: []string{testImageID}}, nil
}

func (f *fakeImages) Open(_ context.Context, id string) (io.ReadCloser, error) {
	data, ok := f.stored[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", smmerrors.ErrImageNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeChat struct {
	user, text string
}

func (f *fakeChat) Message(_ context.Context, user, text string) (*chat.Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", smmerrors.ErrInvalidInput)
	}
	f.user, f.text = user, text
	return &chat.Response{
		Reply:   "Post three reels a week",
		Actions: []chat.Action{{Type: "suggestion", Text: "Write 3 posts"}},
		Debug:   chat.Debug{Intent: chat.IntentContent, InScope: true},
	}, nil
}

const testImageID = "0123456789abcdef0123456789abcdef"

type harness struct {
	server   *Server
	tasks    *fakeTasks
	pipeline *fakePipeline
	agent    *fakeAgent
	images   *fakeImages
	chat     *fakeChat
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		tasks:    &fakeTasks{},
		pipeline: &fakePipeline{},
		agent:    &fakeAgent{},
		images:   &fakeImages{stored: map[string][]byte{testImageID: solidPNG(t)}},
		chat:     &fakeChat{},
	}
	reg := prometheus.NewRegistry()
	h.server = New(config.ServerConfig{EnableCORS: true}, Deps{
		Tasks:    h.tasks,
		Pipeline: h.pipeline,
		Agents:   agents.NewRegistry(h.agent),
		Models:   orchestrator.Models{Light: "light", Hard: "hard"},
		Images:   h.images,
		Chat:     h.chat,
		Gatherer: reg,
		Metrics:  observability.MustNewMetrics(reg),
	})
	return h
}

func solidPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.NRGBA{R: 10, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (h *harness) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec, resp := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", dataMap(t, resp)["status"])
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodGet, "/health", "", HeaderRequestID, "req-42")
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
}

func TestStartTask(t *testing.T) {
	h := newHarness(t)
	rec, resp := h.do(t, http.MethodPost, "/api/tasks/start",
		`{"agent_type": "content", "task_description": "bakery posts", "mode": "text", "answers": {"period": "2 weeks"}}`,
		HeaderUserID, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := dataMap(t, resp)
	assert.Equal(t, "need_info", data["status"])
	assert.Equal(t, "session-1", data["session_id"])
	require.Len(t, h.tasks.started, 1)
	assert.Equal(t, "bakery posts", h.tasks.started[0].TaskDescription)
	assert.Equal(t, "2 weeks", h.tasks.started[0].Answers["period"])
	assert.Equal(t, "alice", h.tasks.userSeen)
}

func TestStartTaskErrors(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodPost, "/api/tasks/start", `{"agent_type": "poetry"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown agent type")

	rec, _ = h.do(t, http.MethodPost, "/api/tasks/start", `{"task_description": "no agent"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/tasks/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = h.do(t, http.MethodPost, "/api/tasks/start", `{"agent_type": "content", "mode": "video"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "unsupported mode")

	rec, _ = h.do(t, http.MethodPost, "/api/tasks/answer", `{"session_id": "session-1", "key": "   ", "value": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("%w: x", smmerrors.ErrInvalidInput)))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("%w: x", smmerrors.ErrImageNotFound)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestRejectsNonJSONBody(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/start", strings.NewReader("agent_type=content"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestAnswerAndSession(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodPost, "/api/tasks/answer", `{"session_id": "session-1", "key": "audience", "value": "students"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", dataMap(t, resp)["status"])
	assert.Equal(t, "students", h.tasks.answered["audience"])

	rec, _ = h.do(t, http.MethodPost, "/api/tasks/answer", `{"session_id": "gone", "key": "a", "value": 1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = h.do(t, http.MethodGet, "/api/tasks/sessions/session-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "content", dataMap(t, resp)["agent_type"])

	rec, _ = h.do(t, http.MethodGet, "/api/tasks/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunAgent(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodPost, "/api/agents/trends/run?render=html", `{"task_description": "what is hot", "answers": {"platform": "vk"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := dataMap(t, resp)
	assert.Equal(t, "trends", data["agent_type"])
	result := data["result"].(map[string]any)
	assert.Contains(t, result["content"], "Reels")
	assert.Contains(t, data["html"], "<h3>Experiments to run</h3>")

	assert.Equal(t, "light", h.agent.opts.Model)
	assert.Equal(t, orchestrator.PipelineBudget, h.agent.opts.Budget)
	assert.Equal(t, "what is hot", h.agent.brief.String("task_description"))
	assert.Equal(t, "vk", h.agent.brief.String("platform"))

	rec, _ = h.do(t, http.MethodPost, "/api/agents/poetry/run", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAgents(t *testing.T) {
	h := newHarness(t)
	rec, resp := h.do(t, http.MethodGet, "/api/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"trends"}, dataMap(t, resp)["agents"])
}

func TestPipeline(t *testing.T) {
	h := newHarness(t)
	rec, resp := h.do(t, http.MethodPost, "/api/agents/pipeline", `{"task_description": "grow", "tasks": ["content"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Example post:\nhello", dataMap(t, resp)["summary"])
	assert.Equal(t, "grow", h.pipeline.brief.String("task_description"))
	assert.Equal(t, []any{"content"}, h.pipeline.brief["tasks"])

	h.pipeline.err = errors.New("boom")
	rec, resp = h.do(t, http.MethodPost, "/api/agents/pipeline", `{"task_description": "grow"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", resp.Error)
}

func TestGenerateImage(t *testing.T) {
	h := newHarness(t)
	rec, resp := h.do(t, http.MethodPost, "/api/images/generate",
		`{"platform": "instagram", "use_case": "post", "message": "autumn menu", "overlay": {"headline": "Sale"}, "variants": 2}`,
		HeaderUserID, "bob")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := dataMap(t, resp)
	assert.Equal(t, "done", data["status"])
	assert.Equal(t, "template", data["mode"])
	assert.Equal(t, images.PresetIGPostSquare, data["preset_id"])
	assert.Equal(t, []any{map[string]any{"id": testImageID, "url": "/api/images/" + testImageID + ".png"}}, data["images"])

	assert.Equal(t, "instagram", h.images.req.Platform)
	assert.Equal(t, "Sale", h.images.req.Overlay.Headline)
	assert.Equal(t, 2, h.images.req.Variants)
	assert.Equal(t, "bob", h.images.req.User)
}

func TestServeImage(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/api/images/"+testImageID+".png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, h.images.stored[testImageID], rec.Body.Bytes())

	rec, _ = h.do(t, http.MethodGet, "/api/images/ffffffffffffffffffffffffffffffff.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/images/..%2Fetc%2Fpasswd", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImagesNotConfigured(t *testing.T) {
	srv := New(config.ServerConfig{}, Deps{Tasks: &fakeTasks{}, Agents: agents.NewRegistry()})
	req := httptest.NewRequest(http.MethodPost, "/api/images/generate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatMessage(t *testing.T) {
	h := newHarness(t)
	rec, resp := h.do(t, http.MethodPost, "/api/chat/message", `{"text": "ideas for reels"}`, HeaderUserID, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := dataMap(t, resp)
	assert.Equal(t, "Post three reels a week", data["reply"])
	assert.Equal(t, "alice", h.chat.user)
	assert.Equal(t, "ideas for reels", h.chat.text)

	rec, _ = h.do(t, http.MethodPost, "/api/chat/message", `{"user_id": "bob", "text": "hi"}`, HeaderUserID, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", h.chat.user)
}

func TestChatMessageErrors(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPost, "/api/chat/message", `{"user_id": "bob"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp := h.do(t, http.MethodPost, "/api/chat/message", `{"text": "   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "invalid input")

	srv := New(config.ServerConfig{}, Deps{Tasks: &fakeTasks{}, Agents: agents.NewRegistry()})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", strings.NewReader(`{"text": "hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/health", "")

	rec, _ := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `smm_http_request_duration_seconds_count{method="GET",route="/health",status="200"} 1`)
}
