// Package errors provides standardized error classification for the
// ingestion and query pipelines. Errors fall into three classes: transient
// (remote service hiccups, retried with backoff), content (a document is
// permanently unusable, skipped and never retried), and config (systemic
// misconfiguration, aborts the run).
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorContent represents permanent per-document errors that must not be retried
	ErrorContent
	// ErrorConfig represents systemic misconfiguration that should abort the run
	ErrorConfig
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorContent:
		return "content"
	case ErrorConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Remote service errors
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrIndexRejected      = errors.New("record rejected by the vector index")

	// Content errors
	ErrContentTooShort  = errors.New("content too short to summarize")
	ErrSummaryTooShort  = errors.New("summary below minimum length")
	ErrEmptyInput       = errors.New("input text is empty")
	ErrInputTooLong     = errors.New("input text exceeds maximum length")
	ErrDocumentNotFound = errors.New("document not found")

	// Configuration errors
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// Ledger errors
	ErrUnknownDocument = errors.New("document not tracked in ledger")
	ErrNotClaimed      = errors.New("document was not claimed")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrMaxRetriesExceeded) {
		return true
	}

	// Fall back to message inspection for errors from external SDKs
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"temporary",
		"unavailable",
		"rate limit",
		"too many requests",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsContent checks if an error marks a document as permanently unusable
func IsContent(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorContent
	}

	return errors.Is(err, ErrContentTooShort) ||
		errors.Is(err, ErrSummaryTooShort) ||
		errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrDocumentNotFound)
}

// IsConfig checks if an error indicates systemic misconfiguration
func IsConfig(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorConfig
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrDimensionMismatch)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if IsConfig(err) {
		return ErrorConfig
	}
	if IsContent(err) {
		return ErrorContent
	}
	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func newClassified(class ErrorClass, err error, component, operation string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Component: component,
		Operation: operation,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorTransient, Wrap(err, component, method, action), component, method)
}

// WrapContent wraps an error as a permanent content error with context
func WrapContent(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorContent, Wrap(err, component, method, action), component, method)
}

// WrapConfig wraps an error as a fatal configuration error with context
func WrapConfig(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorConfig, Wrap(err, component, method, action), component, method)
}
