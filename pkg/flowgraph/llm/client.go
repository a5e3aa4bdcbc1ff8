// Package llm defines the completion client used by graph nodes and its
// implementations: an OpenAI-compatible HTTP client, a retrying wrapper
// and a scripted mock.
package llm

import (
	"context"
	"fmt"

	fgerrors "github.com/randalmurphal/askdata/pkg/flowgraph/errors"
)

// Client sends a prompt to a language model and returns its reply.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Error is returned by clients for failed calls.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

// NewError wraps err with the failing operation.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCategory lets the errors package classify LLM failures.
func (e *Error) ErrorCategory() fgerrors.Category {
	if e.Retryable {
		return fgerrors.CategoryTransient
	}
	return fgerrors.CategoryPermanent
}
