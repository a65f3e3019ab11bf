// Package errs provides structured error types and helpers for the order ingest service.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an ingest error category.
type Code string

const (
	// CodeNotFound indicates a missing resource, typically the input file for a business date.
	CodeNotFound Code = "not_found"
	// CodeParse indicates a malformed input row or column.
	CodeParse Code = "parse"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeConflict indicates a run-lifecycle conflict, e.g. a run already in flight for the date.
	CodeConflict Code = "conflict"
	// CodePersistence indicates a transactional failure in the backing store.
	CodePersistence Code = "persistence"
	// CodeInternal indicates a pipeline integrity violation or other unexpected failure.
	CodeInternal Code = "internal"
)

// E captures structured error information produced across the ingest stack.
type E struct {
	Code    Code
	Stage   string
	Message string
	HTTP    int

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given code.
func New(code Code, opts ...Option) *E {
	e := &E{
		Code:    code,
		Stage:   "",
		Message: "",
		HTTP:    0,
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithStage records the pipeline stage that produced the error.
func WithStage(stage string) Option {
	trimmed := strings.TrimSpace(stage)
	return func(e *E) {
		e.Stage = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Stage != "" {
		parts = append(parts, "stage="+e.Stage)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsCode reports whether err (or any error it wraps) carries the given code.
func IsCode(err error, code Code) bool {
	var envelope *E
	if !errors.As(err, &envelope) {
		return false
	}
	return envelope.Code == code
}

// CodeOf extracts the ingest error code from err, or CodeInternal when none is present.
func CodeOf(err error) Code {
	var envelope *E
	if !errors.As(err, &envelope) {
		return CodeInternal
	}
	return envelope.Code
}

// Message extracts a human-readable message from err, falling back to Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var envelope *E
	if errors.As(err, &envelope) && envelope.Message != "" {
		return envelope.Message
	}
	return err.Error()
}
