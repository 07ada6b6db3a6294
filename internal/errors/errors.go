package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Scribe error code.
type ErrorCode string

const (
	ErrInvalidQuery         ErrorCode = "INVALID_QUERY"         // 400
	ErrNotFound             ErrorCode = "NOT_FOUND"             // 404
	ErrMalformedRecord      ErrorCode = "MALFORMED_RECORD"      // 422, never surfaced as a batch failure
	ErrIOFault              ErrorCode = "IO_FAULT"              // 500
	ErrInternal             ErrorCode = "INTERNAL"              // 500
	ErrIndexUnavailable     ErrorCode = "INDEX_UNAVAILABLE"     // 503
	ErrEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE" // 503, degraded mode marker
)

// ScribeError represents a structured error with code, status, and details.
type ScribeError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *ScribeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidQuery creates a 400 error for invalid query or request parameters.
func NewInvalidQuery(msg string) *ScribeError {
	return &ScribeError{
		Code:    ErrInvalidQuery,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a conversation cannot be found.
func NewNotFound(identifier string) *ScribeError {
	return &ScribeError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("conversation not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewMalformedRecord creates a 422 error for an unparseable journal line.
// Sync paths log these and continue; the batch itself never fails on one.
func NewMalformedRecord(conversation string, line int, err error) *ScribeError {
	details := map[string]any{"conversation": conversation, "line": line}
	if err != nil {
		details["parse_error"] = err.Error()
	}
	return &ScribeError{
		Code:    ErrMalformedRecord,
		Status:  422,
		Message: fmt.Sprintf("malformed record at %s line %d", conversation, line),
		Details: details,
	}
}

// NewIOFault creates a 500 error for a journal write or lock failure that
// persisted through the bounded retry.
func NewIOFault(op string, err error) *ScribeError {
	details := map[string]any{"op": op}
	if err != nil {
		details["cause"] = err.Error()
	}
	return &ScribeError{
		Code:    ErrIOFault,
		Status:  500,
		Message: fmt.Sprintf("journal %s failed", op),
		Details: details,
	}
}

// NewIndexUnavailable creates a 503 error when the index store is unreachable.
// Search fails fast on this; ingestion is unaffected since the journal stays
// authoritative regardless of index health.
func NewIndexUnavailable(err error) *ScribeError {
	details := map[string]any{}
	if err != nil {
		details["cause"] = err.Error()
	}
	return &ScribeError{
		Code:    ErrIndexUnavailable,
		Status:  503,
		Message: "index store unavailable",
		Details: details,
	}
}

// NewEmbeddingUnavailable creates a 503 error for operations that require a
// configured embedding backend. Search never returns this; it degrades to
// keyword-only ordering instead.
func NewEmbeddingUnavailable() *ScribeError {
	return &ScribeError{
		Code:    ErrEmbeddingUnavailable,
		Status:  503,
		Message: "embedding backend not configured",
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details for logging.
func NewInternal(err error) *ScribeError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &ScribeError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error is a ScribeError with the given code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var sErr *ScribeError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}
