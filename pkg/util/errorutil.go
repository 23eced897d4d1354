package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds, matching the pipeline's failure taxonomy. Only the
// orchestrator turns these into HTTP statuses.
const (
	KindInput     = "INPUT"
	KindDuplicate = "DUPLICATE"
	KindLoop      = "LOOP"
	KindTransient = "TRANSIENT"
	KindConflict  = "CONFLICT"
	KindNotFound  = "NOT_FOUND"
	KindFatal     = "FATAL"
)

// DomainError standardizes application errors.
type DomainError struct {
	Kind       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewInputError flags an unparseable payload. Surfaces as 400.
func NewInputError(message string, err error) error {
	return &DomainError{Kind: KindInput, Message: message, HTTPStatus: http.StatusBadRequest, Err: err}
}

// NewDuplicateError flags a message identifier already processed. Surfaces as 200.
func NewDuplicateError(messageID string) error {
	return &DomainError{Kind: KindDuplicate, Message: "duplicate message " + messageID, HTTPStatus: http.StatusOK}
}

// NewLoopError flags one of our own acknowledgments re-entering. Surfaces as 200.
func NewLoopError(reason string) error {
	return &DomainError{Kind: KindLoop, Message: "loop detected: " + reason, HTTPStatus: http.StatusOK}
}

// NewTransientError flags a retriable external failure.
func NewTransientError(message string, err error) error {
	return &DomainError{Kind: KindTransient, Message: message, HTTPStatus: http.StatusServiceUnavailable, Err: err}
}

// NewConflictError flags an allocator or store uniqueness collision.
func NewConflictError(message string) error {
	return &DomainError{Kind: KindConflict, Message: message, HTTPStatus: http.StatusConflict}
}

// NewNotFoundError flags a missing record on the EXISTING path. Surfaces as 200.
func NewNotFoundError(resource string) error {
	return &DomainError{Kind: KindNotFound, Message: resource + " not found", HTTPStatus: http.StatusOK}
}

// NewFatalError flags a NEW-path store failure; the 500 tells the webhook
// caller to redeliver.
func NewFatalError(message string, err error) error {
	return &DomainError{Kind: KindFatal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Kind:       KindFatal,
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Kind == kind
	}
	return false
}
