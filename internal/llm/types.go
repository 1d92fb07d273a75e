package llm

import (
	"context"
	"strings"
)

// Role tags a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System and User are shorthands for building conversations.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }

// Format describes a structured-output constraint passed to the backend.
type Format struct {
	Type string `json:"type"`
}

// JSONObject asks the backend to emit a single JSON object.
var JSONObject = &Format{Type: "json_object"}

// Request is a model invocation. Temperature and Format are optional; Budget
// zero means "use the default for Task".
type Request struct {
	Messages    []Message
	Model       string
	Temperature *float64
	Budget      int
	Format      *Format
	Task        string
}

// Temperature returns a pointer suitable for Request.Temperature.
func Temperature(v float64) *float64 { return &v }

// Usage carries token counters reported by the backend.
type Usage struct {
	Input  int `json:"input_tokens"`
	Output int `json:"output_tokens"`
	Total  int `json:"total_tokens"`
}

// Response is a single backend reply.
type Response struct {
	Text             string
	Usage            Usage
	Status           string
	IncompleteReason string
	Model            string
}

const (
	statusIncomplete      = "incomplete"
	reasonMaxOutputTokens = "max_output_tokens"
)

// Truncated reports whether the backend stopped only because of the output budget.
func (r *Response) Truncated() bool {
	return r != nil && r.Status == statusIncomplete && r.IncompleteReason == reasonMaxOutputTokens
}

// Empty reports whether the reply carries no usable text.
func (r *Response) Empty() bool {
	return r == nil || strings.TrimSpace(r.Text) == ""
}

// TextBackend is a text-generation API. Implementations perform exactly one
// HTTP exchange per call; retry policy belongs to Gateway.
type TextBackend interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Result is what Gateway.Invoke returns to callers.
type Result struct {
	Text   string
	Usage  Usage
	Model  string
	Budget int
}

// splitInstructions separates system messages from the rest of the conversation.
func splitInstructions(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if s := strings.TrimSpace(msg.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}
