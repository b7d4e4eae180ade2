// Package xerrors implements the error taxonomy from spec §7 as typed,
// wrappable errors rather than as a bag of error strings. Every backend
// and loop in this module raises one of these kinds so a caller can
// dispatch on `errors.As` instead of substring-matching messages.
package xerrors

import (
	"errors"
	"fmt"
)

// NotFoundError means an id or key was absent in a backend. Always
// locally recoverable: callers return a zero value, not an error, for a
// plain lookup miss, but internal plumbing that needs to distinguish
// "not found" from "lookup failed" can use this type.
type NotFoundError struct {
	Store string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %q not found", e.Store, e.ID)
}

// ValidationError is caller-visible, non-retryable malformed input:
// schema mismatch, an invalid citation key, a non-unique edit `find`.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Reason)
}

// BackendUnavailableError wraps a refusal, timeout, or 5xx from a
// backend after its retry budget is exhausted.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// EmbeddingFailureError is a BackendUnavailableError tagged with the
// embedding provider that failed.
type EmbeddingFailureError struct {
	BackendUnavailableError
	Provider string
}

func (e *EmbeddingFailureError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

// TokenBudgetExceededError means a pre-flight token estimate exceeded a
// tier's safe limit. Callers either upgrade tier (document pipeline) or
// force an immediate submit_result (tool-agent loop).
type TokenBudgetExceededError struct {
	Estimated int
	Limit     int
}

func (e *TokenBudgetExceededError) Error() string {
	return fmt.Sprintf("token budget exceeded: estimated %d tokens against a limit of %d", e.Estimated, e.Limit)
}

// StructuredOutputFailureError means the model produced unparseable or
// schema-invalid content after every retry. Never guessed at.
type StructuredOutputFailureError struct {
	Schema  string
	Attempt int
	Err     error
}

func (e *StructuredOutputFailureError) Error() string {
	return fmt.Sprintf("structured output for schema %s failed after %d attempts: %v", e.Schema, e.Attempt, e.Err)
}

func (e *StructuredOutputFailureError) Unwrap() error { return e.Err }

// LoopFailure is an entry appended to a loop's running error list rather
// than raised, so the loop's own termination rules decide whether to
// continue.
type LoopFailure struct {
	LoopNumber  int
	Iteration   int
	NodeName    string
	ErrorType   string
	ErrorMessage string
	Recoverable bool
}

func (f LoopFailure) Error() string {
	return fmt.Sprintf("loop %d iteration %d node %s: %s", f.LoopNumber, f.Iteration, f.NodeName, f.ErrorMessage)
}

// NewLoopFailure builds a LoopFailure from an underlying error, treating
// ValidationError and NotFoundError as recoverable and everything else as
// not, which matches the "per-loop consecutive-failure bound" discipline
// in spec §7.
func NewLoopFailure(loopNumber, iteration int, nodeName string, err error) LoopFailure {
	var (
		validation *ValidationError
		notFound   *NotFoundError
	)
	recoverable := errors.As(err, &validation) || errors.As(err, &notFound)
	return LoopFailure{
		LoopNumber:   loopNumber,
		Iteration:    iteration,
		NodeName:     nodeName,
		ErrorType:    fmt.Sprintf("%T", err),
		ErrorMessage: err.Error(),
		Recoverable:  recoverable,
	}
}

// ContentMetadataMismatch is informational: the workflow continues and
// the flag is recorded on the result, never raised as an error.
type ContentMetadataMismatch struct {
	Reason string
}

func (e *ContentMetadataMismatch) Error() string {
	return fmt.Sprintf("content/metadata mismatch: %s", e.Reason)
}
