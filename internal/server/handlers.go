package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"smmswarm/internal/agents"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/formatter"
	"smmswarm/internal/ids"
	"smmswarm/internal/images"
	"smmswarm/internal/logging"
	"smmswarm/internal/orchestrator"
)

const imageRoutePrefix = "/api/images/"

func (s *Server) handleStart(c *gin.Context) {
	var req StartTaskRequest
	if !s.bind(c, &req) {
		return
	}
	out, err := s.deps.Tasks.Start(c.Request.Context(), orchestrator.StartRequest{
		User:            req.User,
		AgentType:       req.AgentType,
		TaskDescription: req.TaskDescription,
		Answers:         req.Answers,
		Mode:            req.Mode,
	})
	if err != nil {
		s.fail(c, "start task", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: out})
}

func (s *Server) handleAnswer(c *gin.Context) {
	var req AnswerRequest
	if !s.bind(c, &req) {
		return
	}
	out, err := s.deps.Tasks.Answer(c.Request.Context(), req.SessionID, req.Key, req.Value)
	if err != nil {
		s.fail(c, "answer task", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: out})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.deps.Tasks.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "get session", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: sess})
}

func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"agents": s.deps.Agents.Types()}})
}

func (s *Server) handleRunAgent(c *gin.Context) {
	agent, err := s.deps.Agents.Get(strings.ToLower(c.Param("type")))
	if err != nil {
		s.fail(c, "run agent", err)
		return
	}
	var req AgentRunRequest
	if !s.bind(c, &req) {
		return
	}

	model := s.deps.Models.Light
	if orchestrator.HardAgent(agent.Type()) {
		model = s.deps.Models.Hard
	}
	brief := agents.NewBrief(req.TaskDescription, req.Answers)
	res, err := agent.Run(c.Request.Context(), brief, agents.RunOptions{
		Model:  model,
		Budget: orchestrator.PipelineBudget,
		Days:   req.Days,
	})
	if err != nil {
		s.fail(c, "run agent", err)
		return
	}

	out := AgentRunResponse{
		AgentType:  agent.Type(),
		Result:     formatter.NewResult(agent.Type(), res),
		Structured: res,
	}
	if c.Query("render") == "html" {
		html, err := formatter.RenderHTML(out.Result.Content)
		if err != nil {
			s.fail(c, "render html", err)
			return
		}
		out.HTML = html
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: out})
}

func (s *Server) handlePipeline(c *gin.Context) {
	var body map[string]any
	if !s.bind(c, &body) {
		return
	}
	task, _ := body["task_description"].(string)
	res, err := s.deps.Pipeline.Run(c.Request.Context(), agents.NewBrief(task, body))
	if err != nil {
		s.fail(c, "run pipeline", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: res})
}

func (s *Server) handleChatMessage(c *gin.Context) {
	if s.deps.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, APIResponse{Success: false, Error: "chat is not configured"})
		return
	}
	var req ChatMessageRequest
	if !s.bind(c, &req) {
		return
	}
	user := req.UserID
	if user == "" {
		user = ids.FromContext(c.Request.Context()).UserID
	}
	out, err := s.deps.Chat.Message(c.Request.Context(), user, req.Text)
	if err != nil {
		s.fail(c, "chat message", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: out})
}

func (s *Server) handleGenerateImage(c *gin.Context) {
	if s.deps.Images == nil {
		c.JSON(http.StatusServiceUnavailable, APIResponse{Success: false, Error: "image generation is not configured"})
		return
	}
	var req images.Request
	if !s.bind(c, &req) {
		return
	}
	req.User = ids.FromContext(c.Request.Context()).UserID

	res, err := s.deps.Images.Generate(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "generate image", err)
		return
	}
	refs := make([]ImageRef, 0, len(res.ImageIDs))
	for _, id := range res.ImageIDs {
		refs = append(refs, ImageRef{ID: id, URL: imageRoutePrefix + id + ".png"})
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: ImageResponse{
		Status:   orchestrator.StatusDone,
		Mode:     res.Mode,
		PresetID: res.PresetID,
		Size:     res.Size,
		Images:   refs,
	}})
}

func (s *Server) handleServeImage(c *gin.Context) {
	if s.deps.Images == nil {
		c.JSON(http.StatusServiceUnavailable, APIResponse{Success: false, Error: "image generation is not configured"})
		return
	}
	file := c.Param("file")
	id, ok := strings.CutSuffix(file, ".png")
	if !ok || !ids.IsImageID(id) {
		s.fail(c, "serve image", fmt.Errorf("%w: %q", smmerrors.ErrImageNotFound, file))
		return
	}
	rc, err := s.deps.Images.Open(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "serve image", err)
		return
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		s.fail(c, "serve image", err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request: %v", err),
		})
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, action string, err error) {
	status := statusFor(err)
	logger := logging.FromContext(c.Request.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("HTTP %d - %s: %v", status, action, err)
	} else {
		logger.Warn("HTTP %d - %s: %v", status, action, err)
	}
	c.JSON(status, APIResponse{Success: false, Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, smmerrors.ErrUnknownAgent),
		errors.Is(err, smmerrors.ErrUnknownSession),
		errors.Is(err, smmerrors.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, smmerrors.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
