package llm

import (
	"context"
	"net/http"
	"testing"
	"time"

	"smmswarm/internal/config"
	smmerrors "smmswarm/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLLMConfig() config.LLMConfig {
	cfg := config.Default().LLM
	cfg.Backoff = time.Millisecond
	return cfg
}

func truncatedReply(text string) MockReply {
	return MockReply{Response: &Response{Text: text, Status: "incomplete", IncompleteReason: "max_output_tokens"}}
}

func TestResolveBudget(t *testing.T) {
	g := NewGateway(NewMockBackend(), testLLMConfig())

	assert.Equal(t, 400, g.ResolveBudget("router", 0))
	assert.Equal(t, 2200, g.ResolveBudget("strategy", 0))
	assert.Equal(t, 1200, g.ResolveBudget("something-else", 0))
	assert.Equal(t, 900, g.ResolveBudget("router", 900))
	assert.Equal(t, 256, g.ResolveBudget("router", 10))
	assert.Equal(t, 8000, g.ResolveBudget("router", 50000))
}

func TestResolveBudgetHonoursConfiguredOverrides(t *testing.T) {
	cfg := testLLMConfig()
	cfg.TaskBudgets = map[string]int{"router": 512}
	g := NewGateway(NewMockBackend(), cfg)

	assert.Equal(t, 512, g.ResolveBudget("router", 0))
	assert.Equal(t, 300, g.ResolveBudget("clarify", 0))
}

func TestInvokeStripsTemperatureForReasoningModels(t *testing.T) {
	backend := NewMockBackend(TextReply("hello"))
	g := NewGateway(backend, testLLMConfig())

	res, err := g.Invoke(context.Background(), Request{
		Messages:    []Message{User("hi")},
		Model:       "gpt-5-mini",
		Temperature: Temperature(0.7),
		Task:        "strategy",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, 2200, res.Budget)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Temperature)
}

func TestInvokeRetriesOnceWithoutRejectedTemperature(t *testing.T) {
	rejected := &smmerrors.BackendError{
		Kind:       smmerrors.KindUnsupportedParameter,
		StatusCode: http.StatusBadRequest,
		Param:      "temperature",
		Message:    "Unsupported parameter: 'temperature'",
	}
	backend := NewMockBackend(ErrorReply(rejected), TextReply("ok"))
	g := NewGateway(backend, testLLMConfig())

	res, err := g.Invoke(context.Background(), Request{
		Messages:    []Message{User("hi")},
		Model:       "gpt-4o-mini",
		Temperature: Temperature(0.2),
		Task:        "router",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)

	calls := backend.Calls()
	require.Len(t, calls, 2)
	require.NotNil(t, calls[0].Temperature)
	assert.Equal(t, 0.2, *calls[0].Temperature)
	assert.Nil(t, calls[1].Temperature)
}

func TestInvokeDoesNotStripTemperatureTwice(t *testing.T) {
	rejected := &smmerrors.BackendError{Kind: smmerrors.KindUnsupportedParameter, StatusCode: 400, Param: "temperature"}
	backend := NewMockBackend(ErrorReply(rejected))
	g := NewGateway(backend, testLLMConfig())

	_, err := g.Invoke(context.Background(), Request{Model: "gpt-4o-mini", Temperature: Temperature(1)})
	require.Error(t, err)
	assert.Equal(t, 2, backend.CallCount())
}

func TestInvokeEnlargesBudgetAfterTruncation(t *testing.T) {
	backend := NewMockBackend(truncatedReply(""), TextReply("complete answer"))
	g := NewGateway(backend, testLLMConfig())

	res, err := g.Invoke(context.Background(), Request{Model: "gpt-4o-mini", Task: "router"})
	require.NoError(t, err)
	assert.Equal(t, "complete answer", res.Text)
	assert.Equal(t, 2400, res.Budget)

	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 400, calls[0].Budget)
	assert.Equal(t, 2400, calls[1].Budget)
}

func TestInvokeEnlargedBudgetIsClampedToMax(t *testing.T) {
	backend := NewMockBackend(truncatedReply("partial"), TextReply("done"))
	g := NewGateway(backend, testLLMConfig())

	_, err := g.Invoke(context.Background(), Request{Model: "gpt-4o-mini", Task: "content"})
	require.NoError(t, err)
	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 2000, calls[0].Budget)
	assert.Equal(t, 8000, calls[1].Budget)
}

func TestInvokeFailsWhenRetryStillEmpty(t *testing.T) {
	backend := NewMockBackend(TextReply("  "), TextReply(""))
	g := NewGateway(backend, testLLMConfig())

	_, err := g.Invoke(context.Background(), Request{Model: "gpt-4o-mini", Task: "qc"})
	require.Error(t, err)
	assert.ErrorIs(t, err, smmerrors.ErrEmptyCompletion)
	assert.Equal(t, 2, backend.CallCount())
}

func TestInvokeAcceptsTruncatedButNonEmptyRetry(t *testing.T) {
	backend := NewMockBackend(truncatedReply(""), truncatedReply("some text"))
	g := NewGateway(backend, testLLMConfig())

	res, err := g.Invoke(context.Background(), Request{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "some text", res.Text)
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	backend := NewMockBackend(
		ErrorReply(&smmerrors.BackendError{Kind: smmerrors.KindServer, StatusCode: 503}),
		ErrorReply(&smmerrors.BackendError{Kind: smmerrors.KindRateLimited, StatusCode: 429}),
		TextReply("finally"),
	)
	g := NewGateway(backend, testLLMConfig())

	res, err := g.Invoke(context.Background(), Request{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "finally", res.Text)
	assert.Equal(t, 3, backend.CallCount())
}

func TestInvokeGivesUpAfterConfiguredRetries(t *testing.T) {
	backend := NewMockBackend(ErrorReply(&smmerrors.BackendError{Kind: smmerrors.KindTimeout, StatusCode: 408}))
	cfg := testLLMConfig()
	cfg.Retries = 1
	g := NewGateway(backend, cfg)

	_, err := g.Invoke(context.Background(), Request{Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.Equal(t, 2, backend.CallCount())
}

func TestInvokeDoesNotRetryClientErrors(t *testing.T) {
	backend := NewMockBackend(ErrorReply(&smmerrors.BackendError{Kind: smmerrors.KindBadRequest, StatusCode: 400}))
	g := NewGateway(backend, testLLMConfig())

	_, err := g.Invoke(context.Background(), Request{Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.Equal(t, 1, backend.CallCount())
}

func TestRejectsTemperature(t *testing.T) {
	for _, model := range []string{"o1-mini", "o3", "o4-mini", "gpt-5", "GPT-5-mini"} {
		assert.True(t, RejectsTemperature(model), model)
	}
	for _, model := range []string{"gpt-4o-mini", "gpt-4.1", "llama3"} {
		assert.False(t, RejectsTemperature(model), model)
	}
}
