package server

import (
	"time"

	"smmswarm/internal/agents"
	"smmswarm/internal/formatter"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StartTaskRequest opens a clarification session.
type StartTaskRequest struct {
	User            string         `json:"user"`
	AgentType       string         `json:"agent_type" binding:"required"`
	TaskDescription string         `json:"task_description"`
	Answers         map[string]any `json:"answers"`
	Mode            string         `json:"mode"`
}

// AnswerRequest records one answer for a pending session.
type AnswerRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Key       string `json:"key" binding:"required"`
	Value     any    `json:"value"`
}

// ChatMessageRequest sends one message to the assistant. UserID falls back
// to the user header.
type ChatMessageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text" binding:"required"`
}

// AgentRunRequest runs one agent without the clarification loop.
type AgentRunRequest struct {
	TaskDescription string         `json:"task_description"`
	Answers         map[string]any `json:"answers"`
	Days            int            `json:"days"`
}

// AgentRunResponse carries the formatted text and the raw agent output.
type AgentRunResponse struct {
	AgentType  string                    `json:"agent_type"`
	Result     formatter.FormattedResult `json:"result"`
	Structured agents.Result             `json:"structured"`
	HTML       string                    `json:"html,omitempty"`
}

// ImageRef points at one stored variant.
type ImageRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ImageResponse is the reply of the image generation endpoint.
type ImageResponse struct {
	Status   string     `json:"status"`
	Mode     string     `json:"mode"`
	PresetID string     `json:"preset_id"`
	Size     string     `json:"size"`
	Images   []ImageRef `json:"images"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Images    bool      `json:"images"`
	Chat      bool      `json:"chat"`
}
