// Package errors defines the error taxonomy shared across the orchestration
// core. It follows the sentinel + wrapper pattern used throughout the rest
// of the codebase: compare with errors.Is against the sentinels below, or
// inspect a *CoreError for operation/kind context.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Compare using errors.Is(); never compare error strings.
var (
	// Transient external (spec.md §7: timeout, connection refused, 5xx)
	ErrTimeout          = errors.New("operation timed out")
	ErrConnectionFailed = errors.New("connection failed")
	ErrCircuitBroken    = errors.New("circuit breaker open")

	// Fatal external (4xx with resource semantics)
	ErrNotFound      = errors.New("resource not found")
	ErrConflict      = errors.New("resource conflict")
	ErrInvalidInput  = errors.New("invalid input")

	// Data quality
	ErrMalformedRecord = errors.New("malformed record")
	ErrMissingField    = errors.New("missing required field")

	// Degradation (engine keeps going rule-only)
	ErrLearningDisabled = errors.New("learning disabled for this call")
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// Invariant violations
	ErrSprintAlreadyActive = errors.New("project already has an active sprint")
	ErrStatusMismatch      = errors.New("status mismatch")

	// Internal
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotInitialized   = errors.New("component not initialized")
)

// CoreError carries operation context around a wrapped sentinel, mirroring
// the teacher's FrameworkError shape (Op/Kind/ID/Err).
type CoreError struct {
	Op      string
	Kind    string
	ID      string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Wrap builds a *CoreError for operation op, wrapping err.
func Wrap(op, kind string, err error) *CoreError {
	return &CoreError{Op: op, Kind: kind, Err: err}
}

// WrapID is Wrap plus an entity id for log correlation.
func WrapID(op, kind, id string, err error) *CoreError {
	return &CoreError{Op: op, Kind: kind, ID: id, Err: err}
}

// IsRetryable reports whether err should be retried by a service client.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed)
}

// IsNotFound reports a "not found" condition (404 semantics, spec.md §6:
// 404 from project lookup returns None rather than an error).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports an invariant violation that the caller should surface
// as 409 (spec.md §7).
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrSprintAlreadyActive) ||
		errors.Is(err, ErrStatusMismatch)
}

// IsDataQuality reports a malformed-record condition that should be logged
// and skipped rather than propagated.
func IsDataQuality(err error) bool {
	return errors.Is(err, ErrMalformedRecord) || errors.Is(err, ErrMissingField)
}

// IsDegraded reports a condition where the caller should fall back to a
// minimal/empty result rather than fail (spec.md §7 "Degradation").
func IsDegraded(err error) bool {
	return errors.Is(err, ErrCircuitBroken) ||
		errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrLearningDisabled) ||
		errors.Is(err, ErrTimeout)
}
