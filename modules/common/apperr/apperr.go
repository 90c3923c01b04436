// Package apperr carries the typed failure kinds returned by the fitting
// pipeline and their HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for propagation and for the HTTP response.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindContentSafety       Kind = "content_safety"
	KindInternal            Kind = "internal"
	KindProvider            Kind = "provider"
)

// Error is the pipeline's result error. Message is always safe to show to
// the end user; Err holds the internal cause for logs.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool

	// set only for KindInsufficientCredits
	Required  int
	Available int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error { return New(KindValidation, msg) }
func NotFound(msg string) *Error   { return New(KindNotFound, msg) }
func Forbidden(msg string) *Error  { return New(KindForbidden, msg) }

func InsufficientCredits(required, available int) *Error {
	return &Error{
		Kind:      KindInsufficientCredits,
		Message:   "insufficient credits",
		Required:  required,
		Available: available,
	}
}

// ContentSafety is always retryable and never exposes the classification.
func ContentSafety(msg string, cause error) *Error {
	return &Error{Kind: KindContentSafety, Message: msg, Retryable: true, Err: cause}
}

func Internal(msg string, cause error) *Error { return Wrap(KindInternal, msg, cause) }
func Provider(msg string, cause error) *Error { return Wrap(KindProvider, msg, cause) }

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// StatusCode maps a kind to its HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
