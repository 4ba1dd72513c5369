// Package apperrors provides sentinel and custom error types for the query pipeline.
package apperrors

import "fmt"

// ErrValidation represents a validation error.
// Use when caller input is rejected before it enters the pipeline.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// SecurityReason classifies why a SQL candidate was rejected. Values are bounded for metric labels.
type SecurityReason string

// Security rejection reasons.
const (
	ReasonEmpty              SecurityReason = "empty"
	ReasonParseError         SecurityReason = "parse_error"
	ReasonNotSelect          SecurityReason = "not_select"
	ReasonDangerousKeyword   SecurityReason = "dangerous_keyword"
	ReasonComment            SecurityReason = "comment"
	ReasonMultipleStatements SecurityReason = "multiple_statements"
	ReasonUnion              SecurityReason = "union"
	ReasonTableNotAllowed    SecurityReason = "table_not_allowed"
	ReasonColumnNotAllowed   SecurityReason = "column_not_allowed"
	ReasonFunctionNotAllowed SecurityReason = "function_not_allowed"
)

// Hostile reports whether the reason indicates an injection attempt rather than a merely
// malformed or out-of-scope candidate.
func (r SecurityReason) Hostile() bool {
	switch r {
	case ReasonDangerousKeyword, ReasonComment, ReasonNotSelect, ReasonFunctionNotAllowed:
		return true
	default:
		return false
	}
}

// ErrSecurity is the sentinel for SQL candidates that failed allow-list or shape validation.
var ErrSecurity = &SecurityError{}

// SecurityError is returned when no safe SQL statement could be produced.
type SecurityError struct {
	Reason SecurityReason
	Detail string
}

// NewSecurityError creates a SecurityError for the given reason.
func NewSecurityError(reason SecurityReason, detail string) *SecurityError {
	return &SecurityError{Reason: reason, Detail: detail}
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	switch {
	case e.Reason != "" && e.Detail != "":
		return fmt.Sprintf("unsafe sql (%s): %s", e.Reason, e.Detail)
	case e.Reason != "":
		return fmt.Sprintf("unsafe sql (%s)", e.Reason)
	default:
		return "unsafe sql"
	}
}

// Is implements the error interface for error comparison.
func (e *SecurityError) Is(target error) bool {
	_, ok := target.(*SecurityError)

	return ok
}

// ErrDatabase is the sentinel for connectivity or execution failures.
var ErrDatabase = &DatabaseError{}

// DatabaseError wraps a failure reported by the proposal store.
type DatabaseError struct {
	Op  string
	Err error
}

// NewDatabaseError wraps err with the operation that failed.
func NewDatabaseError(op string, err error) *DatabaseError {
	return &DatabaseError{Op: op, Err: err}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Err == nil {
		return "database error"
	}

	if e.Op == "" {
		return "database: " + e.Err.Error()
	}

	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying driver error.
func (e *DatabaseError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *DatabaseError) Is(target error) bool {
	_, ok := target.(*DatabaseError)

	return ok
}

// External service names.
const (
	ServiceCompletion = "completion"
	ServiceEmbedding  = "embedding"
	ServiceRerank     = "rerank"
)

// ErrExternalService is the sentinel for completion, embedding and rerank failures.
var ErrExternalService = &ExternalServiceError{}

// ExternalServiceError wraps a failure from an upstream model service.
type ExternalServiceError struct {
	Service string
	Err     error
}

// NewExternalServiceError wraps err for the named service.
func NewExternalServiceError(service string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Err: err}
}

// Error implements the error interface.
func (e *ExternalServiceError) Error() string {
	if e.Err == nil {
		return e.Service + " service error"
	}

	return e.Service + " service: " + e.Err.Error()
}

// Unwrap returns the underlying client error.
func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *ExternalServiceError) Is(target error) bool {
	_, ok := target.(*ExternalServiceError)

	return ok
}

// ErrPipeline is the sentinel for unrecovered failures inside an orchestrator stage.
var ErrPipeline = &PipelineError{}

// PipelineError reports the stage that failed without a local fallback.
type PipelineError struct {
	Stage string
	Err   error
}

// NewPipelineError wraps err with the failing stage name.
func NewPipelineError(stage string, err error) *PipelineError {
	return &PipelineError{Stage: stage, Err: err}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err == nil {
		return "pipeline stage " + e.Stage + " failed"
	}

	return "pipeline stage " + e.Stage + ": " + e.Err.Error()
}

// Unwrap returns the underlying stage error.
func (e *PipelineError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *PipelineError) Is(target error) bool {
	_, ok := target.(*PipelineError)

	return ok
}
