// Package apperrors holds the error taxonomy shared by the pipeline, the
// providers and the HTTP layer.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindTimeout             Kind = "timeout"
	KindRateLimited         Kind = "rate_limited"
	KindStreamProtocol      Kind = "stream_protocol"
	KindPersistence         Kind = "persistence"
	KindCancelled           Kind = "cancelled"
	KindUnexpected          Kind = "unexpected"
)

// Error carries a Kind plus enough context for the caller to pick a remedy.
type Error struct {
	Kind       Kind
	Message    string
	Stage      string
	Fields     map[string]string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Stage != "" && e.Err != nil:
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Stage != "":
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Stage, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "Validation failed", Fields: fields}
}

func ProviderUnavailable(provider string) *Error {
	return &Error{Kind: KindProviderUnavailable, Message: provider + " is not configured"}
}

func Timeout(stage string, err error) *Error {
	return &Error{Kind: KindTimeout, Stage: stage, Message: "stage exceeded its time budget", Err: err}
}

func RateLimited(provider string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, Message: provider + " is rate limiting requests", RetryAfter: retryAfter, Err: err}
}

func StreamProtocol(reason string, err error) *Error {
	return &Error{Kind: KindStreamProtocol, Message: reason, Err: err}
}

func Persistence(err error) *Error {
	return &Error{Kind: KindPersistence, Stage: "saving", Message: "summary was generated but could not be saved", Err: err}
}

func Cancelled(stage string, err error) *Error {
	return &Error{Kind: KindCancelled, Stage: stage, Message: "run was cancelled", Err: err}
}

func Unexpected(message string, err error) *Error {
	return &Error{Kind: KindUnexpected, Message: message, Err: err}
}

// KindOf classifies err. Bare context errors map to timeout / cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnexpected
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// RetryAfterOf returns the provider-suggested retry delay, if any.
func RetryAfterOf(err error) time.Duration {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}

// UserMessage is the message safe to show to end users.
func UserMessage(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return "An unexpected error occurred"
	}
	switch appErr.Kind {
	case KindValidation:
		return "Title and body are required"
	case KindTimeout:
		return "The AI provider took too long to respond. Try a shorter note or retry."
	case KindRateLimited:
		return "The AI provider is busy. Please wait a moment and retry."
	case KindStreamProtocol:
		return "The summary stream was interrupted. Please retry."
	case KindPersistence:
		return "Your summary was generated but could not be saved."
	case KindCancelled:
		return "The request was cancelled."
	case KindProviderUnavailable:
		return appErr.Message
	default:
		return "An unexpected error occurred"
	}
}
