package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHTTPUnsupportedTemperature(t *testing.T) {
	body := []byte(`{"error":{"message":"Unsupported parameter: 'temperature' is not supported with this model.","type":"invalid_request_error","param":"temperature","code":"unsupported_parameter"}}`)
	be := ClassifyHTTP(http.StatusBadRequest, body)

	assert.Equal(t, KindUnsupportedParameter, be.Kind)
	assert.Equal(t, "temperature", be.Param)
	assert.True(t, IsUnsupportedParam(be, "temperature"))
	assert.False(t, IsUnsupportedParam(be, "max_output_tokens"))
	assert.False(t, IsTransient(be))
}

func TestClassifyHTTPUnsupportedValueWithoutCode(t *testing.T) {
	body := []byte(`{"error":{"message":"Unsupported value: 'temperature' does not support 0.2 with this model.","param":"temperature","code":null}}`)
	be := ClassifyHTTP(http.StatusBadRequest, body)
	assert.Equal(t, KindUnsupportedParameter, be.Kind)
}

func TestClassifyHTTPVerificationRequired(t *testing.T) {
	body := []byte(`{"error":{"message":"Your organization must be verified to use the model gpt-image-1. Please go to settings and click on Verify Organization.","type":"invalid_request_error"}}`)
	be := ClassifyHTTP(http.StatusForbidden, body)

	assert.Equal(t, KindVerificationRequired, be.Kind)
	assert.True(t, IsVerificationRequired(fmt.Errorf("wrapped: %w", be)))
}

func TestClassifyHTTPStatusFamilies(t *testing.T) {
	cases := map[int]BackendErrorKind{
		http.StatusRequestTimeout:      KindTimeout,
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusInternalServerError: KindServer,
		http.StatusBadGateway:          KindServer,
		http.StatusGatewayTimeout:      KindTimeout,
		http.StatusUnauthorized:        KindAuth,
		http.StatusNotFound:            KindNotFound,
		http.StatusUnprocessableEntity: KindBadRequest,
	}
	for status, want := range cases {
		be := ClassifyHTTP(status, []byte("plain text body"))
		assert.Equal(t, want, be.Kind, "status %d", status)
		assert.Equal(t, IsRetryableStatus(status), be.Kind.Retryable(), "status %d", status)
	}
}

func TestClassifyHTTPStringErrorBody(t *testing.T) {
	be := ClassifyHTTP(http.StatusInternalServerError, []byte(`{"error":"model not loaded"}`))
	assert.Equal(t, "model not loaded", be.Message)
	assert.True(t, IsTransient(be))
}

func TestRetryWithResultRetriesTransientOnly(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	got, err := RetryWithResult(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &BackendError{Kind: KindServer, StatusCode: 503}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = RetryWithResult(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		return "", &BackendError{Kind: KindBadRequest, StatusCode: 400}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResultExhausts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}
	calls := 0
	_, err := RetryWithResult(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, &TransientError{Err: fmt.Errorf("boom")}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRetryWithResultHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := RetryWithResult(ctx, cfg, func(context.Context) (int, error) {
		calls++
		return 0, &TransientError{Err: fmt.Errorf("slow")}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestCalculateBackoffIsExponential(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, calculateBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, calculateBackoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, calculateBackoff(2, cfg))

	cfg.MaxDelay = 250 * time.Millisecond
	assert.Equal(t, 250*time.Millisecond, calculateBackoff(2, cfg))
}

func TestDegradedErrorClassification(t *testing.T) {
	cause := &TransientError{Err: fmt.Errorf("timeout"), StatusCode: http.StatusGatewayTimeout}
	err := Degraded(cause, "default decision")

	assert.True(t, IsDegraded(err))
	assert.Equal(t, ErrorTypeDegraded, GetErrorType(err))
	assert.Equal(t, "degraded", GetErrorType(err).String())
	assert.Equal(t, "degraded (default decision): transient error: timeout", err.Error())

	var degraded *DegradedError
	require.ErrorAs(t, err, &degraded)
	assert.Equal(t, ErrorTypeTransient, GetErrorType(degraded.Err))

	assert.Nil(t, Degraded(nil, "unused"))
	assert.False(t, IsDegraded(cause))
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(nil))
	assert.True(t, IsPermanent(&PermanentError{Err: fmt.Errorf("bad request")}))
	assert.True(t, IsPermanent(context.Canceled))
	assert.True(t, IsPermanent(fmt.Errorf("%w: mode", ErrInvalidInput)))
	assert.False(t, IsPermanent(&TransientError{Err: fmt.Errorf("busy")}))
	assert.Equal(t, "permanent", GetErrorType(nil).String())
}
