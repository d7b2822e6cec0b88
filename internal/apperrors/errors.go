// Package apperrors defines the error taxonomy shared by the gateway pipeline
// and the mapping from each kind to an HTTP status and a client-safe message.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindMissingPayload      Kind = "missing_payload"
	KindDecode              Kind = "decode_error"
	KindSizeLimitExceeded   Kind = "size_limit_exceeded"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindUpstreamUnreachable Kind = "upstream_unreachable"
	KindUpstreamRejected    Kind = "upstream_rejected"
	KindStorage             Kind = "storage_error"
	KindCanceled            Kind = "canceled"
	KindInternal            Kind = "internal_error"
)

// StatusClientClosedRequest is reported when the caller went away mid-request.
const StatusClientClosedRequest = 499

const genericMessage = "internal server error"

// Error carries a Kind, the operation that failed, a client-facing message and
// the underlying cause. Status is only meaningful for KindUpstreamRejected.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches kind and message to err. An err that already carries a Kind
// is returned unchanged so the innermost classification wins.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// Rejected builds an upstream rejection carrying the remote status code.
func Rejected(op string, status int, message string) *Error {
	return &Error{Kind: KindUpstreamRejected, Op: op, Message: message, Status: status}
}

// KindOf returns the Kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsClientFault reports whether err was caused by the caller's input.
func IsClientFault(err error) bool {
	switch KindOf(err) {
	case KindMissingPayload, KindDecode, KindSizeLimitExceeded, KindUnsupportedFormat:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	var typed *Error
	if !errors.As(err, &typed) {
		return http.StatusInternalServerError
	}

	switch typed.Kind {
	case KindMissingPayload, KindDecode, KindSizeLimitExceeded, KindUnsupportedFormat:
		return http.StatusBadRequest
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindUpstreamTimeout:
		return http.StatusRequestTimeout
	case KindUpstreamUnreachable:
		return http.StatusServiceUnavailable
	case KindUpstreamRejected:
		if typed.Status >= http.StatusBadRequest {
			return typed.Status
		}
		return http.StatusBadRequest
	case KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to a client. Storage and internal
// failures never expose their cause.
func PublicMessage(err error) string {
	var typed *Error
	if !errors.As(err, &typed) {
		return genericMessage
	}

	switch typed.Kind {
	case KindStorage, KindInternal:
		return genericMessage
	}
	if typed.Message == "" {
		return genericMessage
	}
	return typed.Message
}
