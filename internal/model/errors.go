package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a per-row or fatal failure.
type ErrorKind string

const (
	ErrInputFormat ErrorKind = "input_format"
	ErrUnreachable ErrorKind = "unreachable"
	ErrTimeout     ErrorKind = "timeout"
	ErrHTTP        ErrorKind = "http_error"
	ErrUpstream    ErrorKind = "upstream"
	ErrInvalidURL  ErrorKind = "invalid_url"
	ErrCanceled    ErrorKind = "canceled"
)

// RowError is a recorded, non-fatal failure attached to a single row.
// It is data, not a Go error: rows carry it through the pipeline into the
// presented table.
type RowError struct {
	Kind    ErrorKind `json:"kind"`
	Status  int       `json:"status,omitempty"` // HTTP status for ErrHTTP
	Message string    `json:"message,omitempty"`
}

// NewRowError builds a RowError of the given kind.
func NewRowError(kind ErrorKind, msg string) *RowError {
	return &RowError{Kind: kind, Message: msg}
}

// HTTPError builds an ErrHTTP RowError for the given status code.
func HTTPError(status int, msg string) *RowError {
	return &RowError{Kind: ErrHTTP, Status: status, Message: msg}
}

// Label renders the kind, with the status for HTTP errors, e.g. "http_error(404)".
func (e *RowError) Label() string {
	if e == nil {
		return ""
	}
	if e.Kind == ErrHTTP && e.Status > 0 {
		return fmt.Sprintf("%s(%d)", e.Kind, e.Status)
	}
	return string(e.Kind)
}

func (e *RowError) String() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Label()
	}
	return e.Label() + ": " + e.Message
}

// InputFormatError is the fatal error raised when the input table cannot be
// used, e.g. a required column is missing. It aborts before any row is
// processed.
type InputFormatError struct {
	Input  string
	Reason string
}

func (e *InputFormatError) Error() string {
	if e.Input == "" {
		return "input format: " + e.Reason
	}
	return fmt.Sprintf("input format: %s: %s", e.Input, e.Reason)
}

// IsInputFormat reports whether err (or anything it wraps) is an InputFormatError.
func IsInputFormat(err error) bool {
	var ife *InputFormatError
	return errors.As(err, &ife)
}
