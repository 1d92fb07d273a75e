package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// BackendErrorKind is the typed reason a model backend rejected a call.
// Retry and fallback policy in the gateway switch on it instead of on the
// raw error text.
type BackendErrorKind int

const (
	KindUnknown BackendErrorKind = iota
	KindUnsupportedParameter
	KindVerificationRequired
	KindRateLimited
	KindTimeout
	KindServer
	KindBadRequest
	KindAuth
	KindNotFound
)

func (k BackendErrorKind) String() string {
	switch k {
	case KindUnsupportedParameter:
		return "unsupported_parameter"
	case KindVerificationRequired:
		return "verification_required"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindBadRequest:
		return "bad_request"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether the transient retry loop should repeat the call.
func (k BackendErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindServer:
		return true
	}
	return false
}

// BackendError is a classified non-2xx reply from a model backend.
type BackendError struct {
	Kind       BackendErrorKind
	StatusCode int
	Code       string
	Param      string
	Type       string
	Message    string
}

func (e *BackendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend error %d (%s)", e.StatusCode, e.Kind)
	if e.Param != "" {
		fmt.Fprintf(&b, " param=%s", e.Param)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// IsUnsupportedParam reports whether err rejects the named request parameter.
func IsUnsupportedParam(err error, param string) bool {
	var be *BackendError
	if !As(err, &be) || be.Kind != KindUnsupportedParameter {
		return false
	}
	return be.Param == "" || strings.EqualFold(be.Param, param)
}

// IsVerificationRequired reports whether the account must be verified before
// the requested model can be used.
func IsVerificationRequired(err error) bool {
	var be *BackendError
	return As(err, &be) && be.Kind == KindVerificationRequired
}

type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Param   string          `json:"param"`
	Code    json.RawMessage `json:"code"`
}

// ClassifyHTTP parses an error body ({"error":{...}} or {"error":"..."}) and
// maps it, together with the status, to a BackendError.
func ClassifyHTTP(statusCode int, body []byte) *BackendError {
	be := &BackendError{StatusCode: statusCode}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Error) > 0 {
		var detail errorDetail
		if err := json.Unmarshal(env.Error, &detail); err == nil {
			be.Message = detail.Message
			be.Type = detail.Type
			be.Param = detail.Param
			be.Code = decodeCode(detail.Code)
		} else {
			var msg string
			if err := json.Unmarshal(env.Error, &msg); err == nil {
				be.Message = msg
			}
		}
	}
	if be.Message == "" {
		be.Message = strings.TrimSpace(string(body))
		if len(be.Message) > 512 {
			be.Message = be.Message[:512]
		}
	}

	be.Kind = classify(be)
	return be
}

func decodeCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func classify(be *BackendError) BackendErrorKind {
	code := strings.ToLower(be.Code)
	switch code {
	case "unsupported_parameter", "unsupported_value":
		return KindUnsupportedParameter
	case "organization_verification_required", "must_be_verified":
		return KindVerificationRequired
	case "rate_limit_exceeded":
		return KindRateLimited
	}

	msg := strings.ToLower(be.Message)
	if be.StatusCode == http.StatusForbidden &&
		strings.Contains(msg, "must be verified") && strings.Contains(msg, "verify organization") {
		return KindVerificationRequired
	}
	if be.StatusCode == http.StatusBadRequest && be.Param != "" &&
		(strings.Contains(msg, "unsupported parameter") || strings.Contains(msg, "unsupported value")) {
		return KindUnsupportedParameter
	}

	switch {
	case be.StatusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case be.StatusCode == http.StatusRequestTimeout || be.StatusCode == http.StatusGatewayTimeout:
		return KindTimeout
	case be.StatusCode >= 500:
		return KindServer
	case be.StatusCode == http.StatusUnauthorized || be.StatusCode == http.StatusForbidden:
		return KindAuth
	case be.StatusCode == http.StatusNotFound:
		return KindNotFound
	case be.StatusCode >= 400:
		return KindBadRequest
	}
	return KindUnknown
}
