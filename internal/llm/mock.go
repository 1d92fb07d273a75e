package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockReply is one scripted backend answer.
type MockReply struct {
	Response *Response
	Err      error
}

// MockBackend replays scripted replies in order and records every request.
// When the script runs out, Handler (if set) answers; otherwise the last
// reply repeats.
type MockBackend struct {
	mu      sync.Mutex
	replies []MockReply
	calls   []Request
	Handler func(Request) (*Response, error)
}

// NewMockBackend returns a backend that answers with replies in order.
func NewMockBackend(replies ...MockReply) *MockBackend {
	return &MockBackend{replies: replies}
}

// TextReply is a shorthand for a successful scripted reply.
func TextReply(text string) MockReply {
	return MockReply{Response: &Response{Text: text, Status: "completed"}}
}

// ErrorReply is a shorthand for a failing scripted reply.
func ErrorReply(err error) MockReply {
	return MockReply{Err: err}
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Complete(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.calls)
	m.calls = append(m.calls, req)

	if idx < len(m.replies) {
		return m.replies[idx].unpack()
	}
	if m.Handler != nil {
		return m.Handler(req)
	}
	if len(m.replies) == 0 {
		return nil, fmt.Errorf("mock backend has no scripted reply for call %d", idx+1)
	}
	return m.replies[len(m.replies)-1].unpack()
}

func (r MockReply) unpack() (*Response, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	resp := *r.Response
	return &resp, nil
}

// Calls returns a copy of the recorded requests.
func (m *MockBackend) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount returns how many requests were received.
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockImageBackend returns fixed bytes and counts calls per model.
type MockImageBackend struct {
	mu       sync.Mutex
	Data     []byte
	Err      error
	ErrFor   map[string]error
	requests []ImageRequest
}

func (m *MockImageBackend) Generate(_ context.Context, req ImageRequest) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if err, ok := m.ErrFor[req.Model]; ok {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]byte(nil), m.Data...), nil
}

// Requests returns a copy of the recorded requests.
func (m *MockImageBackend) Requests() []ImageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ImageRequest(nil), m.requests...)
}
