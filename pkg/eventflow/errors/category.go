// Package errors classifies eventflow failures and provides the backoff
// policy used by background consumers.
//
// Every failure falls into one of four categories:
//   - Transient: storage contention or a dropped connection, retry helps
//   - Permanent: handler bugs and bad data, retry is unlikely to help
//   - Protocol: caller misuse such as a nested queue read, never retried
//   - Canceled: the caller or the event itself asked to stop
//
// Consumers never give up on a category; they only use it to decide how
// loudly to log and whether to reset their backoff.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	CategoryPermanent

	// CategoryProtocol indicates the API was used out of order.
	// Examples: reading twice without a commit, adding a feature twice.
	CategoryProtocol

	// CategoryCanceled indicates processing stopped on request.
	CategoryCanceled
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryProtocol:
		return "protocol"
	case CategoryCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s)", e.Context, e.Err, e.Category)
	}
	return fmt.Sprintf("%s (category: %s)", e.Err, e.Category)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Protocol creates a protocol violation error.
func Protocol(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryProtocol, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	// Cancellation wins over any wrapping category: a canceled handler that
	// returns a categorized error is still a canceled handler.
	if errors.Is(err, context.Canceled) {
		return CategoryCanceled
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return CategoryPermanent
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsProtocol reports whether the error is a protocol violation.
func IsProtocol(err error) bool {
	return Categorize(err) == CategoryProtocol
}

// IsCanceled reports whether the error represents cancellation.
func IsCanceled(err error) bool {
	return err != nil && Categorize(err) == CategoryCanceled
}
