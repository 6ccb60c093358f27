package provider

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"

	"github.com/antoniostano/renovox/internal/reliability"
)

// Class splits provider failures into those worth retrying and those not.
type Class int

const (
	ClassTransient Class = iota
	ClassPermanent
)

// Error wraps an upstream failure with a retry classification and the
// operation that produced it.
type Error struct {
	Op    string
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure of op.
func Transient(op string, err error) *Error {
	return &Error{Op: op, Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure of op.
func Permanent(op string, err error) *Error {
	return &Error{Op: op, Class: ClassPermanent, Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class == ClassTransient
	}
	return false
}

// Classify maps an upstream error to a provider Error. Context cancellation
// passes through untouched so callers can tell barge-in from real failure.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if reliability.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return Transient(op, err)
		}
		return Permanent(op, err)
	}
	// Network-level failures with no HTTP status are worth one more try.
	return Transient(op, err)
}
