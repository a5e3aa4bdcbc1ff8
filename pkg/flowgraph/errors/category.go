// Package errors sorts failures into what to do next: retry the same
// call, ask the model for a corrected statement, or give up.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category says how a failure should be handled.
type Category int

const (
	// CategoryTransient failures (rate limits, timeouts, dropped
	// connections) are worth retrying as is.
	CategoryTransient Category = iota
	// CategoryPermanent failures are returned to the caller.
	CategoryPermanent
	// CategoryRepairable failures come from a bad SQL statement; feeding
	// the error back to the model may produce a working one.
	CategoryRepairable
)

var categoryNames = [...]string{
	CategoryTransient:  "transient",
	CategoryPermanent:  "permanent",
	CategoryRepairable: "repairable",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// Categorizer is implemented by error types that know their category,
// such as *llm.Error and *sqltext.UnsafeError.
type Categorizer interface {
	ErrorCategory() Category
}

// CategorizedError attaches a category to an error. It wins over
// whatever the wrapped error would be classified as.
type CategorizedError struct {
	Err      error
	Category Category
	Retries  int
	Context  string
}

func (e *CategorizedError) Error() string {
	msg := fmt.Sprintf("%v (category: %s, attempts: %d)", e.Err, e.Category, e.Retries)
	if e.Context == "" {
		return msg
	}
	return e.Context + ": " + msg
}

func (e *CategorizedError) Unwrap() error { return e.Err }

func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: category, Context: context}
}

func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

func Repairable(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryRepairable, context)
}

// Categorize classifies err. The outermost CategorizedError or
// Categorizer in the chain decides; otherwise deadlines and network
// timeouts are transient and everything else, nil included, is permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var tagged *CategorizedError
	if errors.As(err, &tagged) {
		return tagged.Category
	}
	var self Categorizer
	if errors.As(err, &self) {
		return self.ErrorCategory()
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return CategoryPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	case errors.As(err, &netErr) && netErr.Timeout():
		return CategoryTransient
	}
	return CategoryPermanent
}

func IsRetryable(err error) bool  { return Categorize(err) == CategoryTransient }
func IsRepairable(err error) bool { return Categorize(err) == CategoryRepairable }
