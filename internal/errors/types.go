package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeTransform ErrorType = "transform"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeSkipped   ErrorType = "skipped"
	ErrorTypeInternal  ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeCycle           = "ERR_DEPENDENCY_CYCLE"
	ErrCodeUnknownTask     = "ERR_UNKNOWN_TASK"
	ErrCodeDuplicateTask   = "ERR_DUPLICATE_TASK"
	ErrCodeEmptyGlob       = "ERR_EMPTY_GLOB"
	ErrCodeInvalidGlob     = "ERR_INVALID_GLOB"
	ErrCodeMissingDest     = "ERR_MISSING_DESTINATION"
	ErrCodeUnknownStage    = "ERR_UNKNOWN_STAGE"
	ErrCodeTransformFailed = "ERR_TRANSFORM_FAILED"
	ErrCodeOutsideDest     = "ERR_OUTSIDE_DESTINATION"
	ErrCodeReadFailed      = "ERR_READ_FAILED"
	ErrCodeWriteFailed     = "ERR_WRITE_FAILED"
	ErrCodeCleanFailed     = "ERR_CLEAN_FAILED"
	ErrCodeUpstreamFailed  = "ERR_UPSTREAM_FAILED"
	ErrCodeInternalError   = "ERR_INTERNAL"
)

// PipelineError is a structured error type with context.
type PipelineError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}
	Task    string
	Path    string
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Task != "" {
		parts = append(parts, "task:"+e.Task)
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Type == t.Type && (t.Code == "" || e.Code == t.Code)
	}

	return false
}

// WithContext adds context information to the error.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithTask records the task the error belongs to.
func (e *PipelineError) WithTask(task string) *PipelineError {
	e.Task = task

	return e
}

// WithPath records the file path involved.
func (e *PipelineError) WithPath(path string) *PipelineError {
	e.Path = path

	return e
}

// NewConfigError creates a configuration error. Configuration errors are
// fatal and reported before any task runs.
func NewConfigError(code, message string) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// Configf is NewConfigError with formatting.
func Configf(code, format string, args ...interface{}) *PipelineError {
	return NewConfigError(code, fmt.Sprintf(format, args...))
}

// NewIOError creates a filesystem error.
func NewIOError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewSkippedError reports a task that did not run because an upstream task failed.
func NewSkippedError(task, upstream string) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeSkipped,
		Code:    ErrCodeUpstreamFailed,
		Message: "upstream failure: " + upstream,
		Task:    task,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrConfig matches any configuration error with errors.Is.
var ErrConfig = &PipelineError{Type: ErrorTypeConfig}

// ErrSkipped matches any skipped-task error with errors.Is.
var ErrSkipped = &PipelineError{Type: ErrorTypeSkipped}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	return hasType(err, ErrorTypeConfig)
}

// IsIO reports whether err is a filesystem error.
func IsIO(err error) bool {
	return hasType(err, ErrorTypeIO)
}

// IsSkipped reports whether err marks an upstream skip.
func IsSkipped(err error) bool {
	return hasType(err, ErrorTypeSkipped)
}

// IsTransform reports whether err carries per-input transform failures.
func IsTransform(err error) bool {
	var te *TransformError
	return errors.As(err, &te)
}

func hasType(err error, t ErrorType) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type == t
	}

	return false
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// ErrorHandler logs errors according to their category.
type ErrorHandler struct {
	logger Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle processes an error with appropriate logging.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var te *TransformError
	if errors.As(err, &te) {
		for _, f := range te.Failures {
			h.logger.Warn(ctx, f.Err, "Transform failed",
				"stage", te.Stage,
				"input", f.Input)
		}
		return
	}

	var pe *PipelineError
	if !errors.As(err, &pe) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch pe.Type {
	case ErrorTypeIO:
		h.logger.Error(ctx, pe.Cause, "Filesystem error",
			"code", pe.Code,
			"task", pe.Task,
			"path", pe.Path)
	case ErrorTypeSkipped:
		h.logger.Warn(ctx, nil, pe.Message,
			"task", pe.Task)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", pe.Type,
			"code", pe.Code,
			"task", pe.Task)
	}
}
