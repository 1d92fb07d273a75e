// Package session persists task sessions between clarification rounds.
package session

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"smmswarm/internal/config"
	smmerrors "smmswarm/internal/errors"
)

// Session is the state of one task while it waits for answers.
type Session struct {
	ID              string         `json:"session_id"`
	UserID          string         `json:"user_id"`
	RequestID       string         `json:"request_id"`
	AgentType       string         `json:"agent_type"`
	TaskDescription string         `json:"task_description"`
	Mode            string         `json:"mode"`
	Answers         map[string]any `json:"answers"`
	QuestionsAsked  int            `json:"questions_asked"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	// Conversation memory kept by the chat assistant.
	Summary string         `json:"summary,omitempty"`
	Facts   map[string]any `json:"facts,omitempty"`
	History []Turn         `json:"history,omitempty"`
}

// Turn is one chat message remembered by a conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Remember appends a turn and keeps at most limit of the latest ones.
func (s *Session) Remember(role, text string, limit int) {
	s.History = append(s.History, Turn{Role: role, Text: text})
	if limit > 0 && len(s.History) > limit {
		s.History = append([]Turn(nil), s.History[len(s.History)-limit:]...)
	}
}

// Clone returns a copy whose answers map can be changed independently.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Answers = maps.Clone(s.Answers)
	if out.Answers == nil {
		out.Answers = map[string]any{}
	}
	out.Facts = maps.Clone(s.Facts)
	out.History = slices.Clone(s.History)
	return &out
}

// Store keeps sessions. Get returns an error wrapping ErrUnknownSession when
// the id is missing or expired.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// NewStore builds the backend selected by cfg.
func NewStore(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(cfg.TTL), nil
	case BackendRedis:
		return NewRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Backend)
	}
}

func unknown(id string) error {
	return fmt.Errorf("%w: %s", smmerrors.ErrUnknownSession, id)
}
