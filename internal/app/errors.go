package app

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindValidationFailed Kind = "validation_failed"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindInternal         Kind = "internal"
)

// Error is the failure every Service method returns. Message is safe to
// show to the caller; Err keeps the cause for logs and errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func domainError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func unauthorized(cause error) *Error {
	return domainError(KindUnauthorized, "you are not allowed to do that", cause)
}

func notFound(what string) *Error {
	return domainError(KindNotFound, what+" not found", nil)
}

func invalid(message string) *Error {
	return domainError(KindValidationFailed, message, nil)
}

// KindOf returns the kind of a Service error, KindInternal for anything
// else and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Result is the uniform outcome handed to the UI layer.
type Result struct {
	OK         bool   `json:"ok"`
	Data       any    `json:"data,omitempty"`
	StatusKind Kind   `json:"statusKind,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Envelope folds a Service return pair into a Result. Internal causes are
// never exposed in Message.
func Envelope(data any, err error) Result {
	if err == nil {
		return Result{OK: true, Data: data}
	}
	var e *Error
	if errors.As(err, &e) {
		return Result{StatusKind: e.Kind, Message: e.Message}
	}
	return Result{StatusKind: KindInternal, Message: "something went wrong"}
}
