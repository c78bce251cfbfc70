// Package errors provides structured, coded errors for callflow.
// Every error carries a code, optional key/value context and a short stack trace.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input and configuration errors (1xx)
	CodeInvalidConfig     Code = "E101"
	CodeNodeLabelMismatch Code = "E102"
	CodeMalformedRecord   Code = "E103"
	CodeMissingColumn     Code = "E104"
	CodeSchemaMismatch    Code = "E105"

	// Processing errors (2xx)
	CodeEngineFailed    Code = "E201"
	CodeTransformFailed Code = "E202"

	// Output errors (3xx)
	CodeWriteFailed Code = "E301"
	CodeStoreFailed Code = "E302"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeNotFound        Code = "E404"

	// Unknown
	CodeUnknown Code = "E999"
)

// CallFlowError is the base error type for all callflow errors.
type CallFlowError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are printed sorted so
// messages are stable.
func (e *CallFlowError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *CallFlowError) Unwrap() error {
	return e.Cause
}

// Is matches another CallFlowError with the same code.
func (e *CallFlowError) Is(target error) bool {
	if t, ok := target.(*CallFlowError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *CallFlowError) WithContext(key string, value interface{}) *CallFlowError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new CallFlowError.
func New(code Code, message string) *CallFlowError {
	return &CallFlowError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error. Returns nil when err is nil.
func Wrap(err error, code Code, message string) *CallFlowError {
	if err == nil {
		return nil
	}

	return &CallFlowError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *CallFlowError {
	if err == nil {
		return nil
	}
	return &CallFlowError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *CallFlowError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// InvalidConfig reports a rejected configuration field.
func InvalidConfig(field string, value interface{}, reason string) *CallFlowError {
	return New(CodeInvalidConfig, reason).
		WithContext("field", field).
		WithContext("value", value)
}

// InvalidReplications reports a replication count below one.
func InvalidReplications(n int) *CallFlowError {
	return InvalidConfig("replications", n, "Set number of replications to 1 or above")
}

// NodeLabelMismatch reports fewer node labels than nodes visited.
func NodeLabelMismatch(labels, depth int) *CallFlowError {
	return New(CodeNodeLabelMismatch, "fewer node labels than nodes visited").
		WithContext("labels", labels).
		WithContext("depth", depth)
}

// MalformedRecord reports a trace record that breaks the engine contract.
func MalformedRecord(entity, position int, reason string) *CallFlowError {
	return New(CodeMalformedRecord, reason).
		WithContext("entity", entity).
		WithContext("position", position)
}

// MissingColumn creates a missing column error.
func MissingColumn(column string, available []string) *CallFlowError {
	return New(CodeMissingColumn, "required column not found").
		WithContext("column", column).
		WithContext("available", available)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, cause error) *CallFlowError {
	e := New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
	e.Cause = cause
	return e
}

// NotFound reports a missing resource.
func NotFound(kind, id string) *CallFlowError {
	return New(CodeNotFound, kind+" not found").WithContext("id", id)
}

// --- Error checking utilities ---

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var cfErr *CallFlowError
	if errors.As(err, &cfErr) {
		return cfErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var cfErr *CallFlowError
	if errors.As(err, &cfErr) {
		return cfErr.Code
	}
	return CodeUnknown
}

// IsValidation reports whether err should be shown to the user as a
// blocking input message rather than an internal failure.
func IsValidation(err error) bool {
	return GetCode(err) == CodeInvalidConfig
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
