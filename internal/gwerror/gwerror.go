// Package gwerror defines the gateway's error taxonomy: a small, closed set
// of error kinds with a client-facing HTTP status and protocol-adapted body
// shape, so every layer of the gateway can return one error type instead of
// inventing ad hoc status codes at the point of failure.
package gwerror

import (
	"errors"
	"fmt"
)

// Kind classifies why a request failed. It never changes after creation.
type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindRateLimited       Kind = "rate_limited"
	KindBadRequest        Kind = "bad_request"
	KindNoProviderForModel Kind = "no_provider_for_model"
	KindUpstreamTimeout   Kind = "upstream_timeout"
	KindUpstreamNetwork   Kind = "upstream_network"
	KindUpstreamHTTP      Kind = "upstream_http"
	KindClientDisconnect  Kind = "client_disconnect"
	KindInternal          Kind = "internal"
)

// Status returns the HTTP status code a Kind maps to when the error is
// generated by the gateway itself. KindUpstreamHTTP carries its own status
// (the upstream's), so it isn't represented here.
func (k Kind) Status() int {
	switch k {
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindRateLimited:
		return 429
	case KindBadRequest:
		return 400
	case KindNoProviderForModel:
		return 400
	case KindUpstreamTimeout:
		return 504
	case KindUpstreamNetwork:
		return 502
	case KindClientDisconnect:
		return 408
	default:
		return 500
	}
}

// openAIType returns the OpenAI/Response-API "type" field for a Kind.
func (k Kind) openAIType() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limit_exceeded"
	case KindBadRequest, KindNoProviderForModel:
		return "invalid_request_error"
	case KindUpstreamTimeout:
		return "timeout_error"
	default:
		return "api_error"
	}
}

// Error is the gateway's single error type. Status is set at
// construction: the upstream's own status for KindUpstreamHTTP (Upstream),
// and Kind.Status() otherwise (New, Wrap).
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with its default status.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Status: kind.Status(), Message: message}
}

// Wrap constructs an Error of the given kind, carrying an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Status: kind.Status(), Message: message, Cause: cause}
}

// Upstream constructs an upstream_http_{4xx,5xx} error carrying the
// upstream's own status code and message.
func Upstream(status int, message string) *Error {
	return &Error{Kind: KindUpstreamHTTP, Status: status, Message: message}
}

// As extracts a *Error from err via errors.As, for callers that need to
// branch on Kind without re-wrapping.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// OpenAIBody renders the {error:{message,type,code}} shape used by the
// OpenAI and Response-API protocols.
func (e *Error) OpenAIBody() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": e.Message,
			"type":    e.Kind.openAIType(),
			"code":    string(e.Kind),
		},
	}
}

// AnthropicBody renders the {type:"error",error:{type,message}} shape used
// by the Anthropic and GCP-Vertex-Anthropic protocols.
func (e *Error) AnthropicBody() map[string]any {
	return map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    e.Kind.openAIType(),
			"message": e.Message,
		},
	}
}
