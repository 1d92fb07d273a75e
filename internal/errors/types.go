package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrorType represents the classification of errors for retry logic
type ErrorType int

const (
	// ErrorTypeTransient - retry-able errors
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent - non-retry-able errors
	ErrorTypePermanent
	// ErrorTypeDegraded - can continue with reduced functionality
	ErrorTypeDegraded
)

var (
	ErrUnknownAgent      = errors.New("unknown agent type")
	ErrUnknownSession    = errors.New("unknown session")
	ErrMalformedResponse = errors.New("malformed structured response")
	ErrEmptyCompletion   = errors.New("model returned no usable text")
	ErrImageNotFound     = errors.New("image not found")
	ErrInvalidInput      = errors.New("invalid input")
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeDegraded:
		return "degraded"
	default:
		return "permanent"
	}
}

// TransientError represents an error that can be retried
type TransientError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	Message    string // user-facing message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError represents an error that should not be retried
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// DegradedError marks a failure that was absorbed by a fallback; Fallback
// names what was used instead.
type DegradedError struct {
	Err      error
	Fallback string
	Message  string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded (%s): %v", e.Fallback, e.Err)
}

func (e *DegradedError) Unwrap() error {
	return e.Err
}

// Degraded wraps err as a DegradedError that fell back to fallback.
func Degraded(err error, fallback string) error {
	if err == nil {
		return nil
	}
	return &DegradedError{Err: err, Fallback: fallback}
}

// IsTransient checks if an error is retry-able
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Kind.Retryable()
	}

	if isNetworkError(err) {
		return true
	}
	return isSyscallError(err)
}

// IsPermanent checks if an error is non-retry-able
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}
	return !IsTransient(err)
}

// IsDegraded checks if an error allows degraded service
func IsDegraded(err error) bool {
	var degradedErr *DegradedError
	return errors.As(err, &degradedErr)
}

// GetErrorType classifies an error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	if IsDegraded(err) {
		return ErrorTypeDegraded
	}
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

// IsRetryableStatus reports the HTTP statuses retried by the gateway.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, // 408
		http.StatusTooManyRequests,     // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}
