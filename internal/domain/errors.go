// Package domain provides shared domain-level errors and the error taxonomy
// used to classify stage failures at the agent boundary.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable indicates the disaster data source stayed unreachable
// after the bounded retry budget was spent.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrWorkflowActive indicates a trigger arrived for a disaster id that
// already has an in-flight workflow. Duplicate triggers are rejected while
// the workflow is active; re-triggering a terminal id starts a new workflow.
var ErrWorkflowActive = errors.New("workflow already active for disaster id")

// ErrorKind classifies a failure for recovery decisions. Callers branch on
// the kind, never on error string contents.
type ErrorKind string

const (
	// KindData marks malformed or incomplete input. Never retried.
	KindData ErrorKind = "data"
	// KindTransient marks network or timeout failures. Retried with backoff.
	KindTransient ErrorKind = "transient"
	// KindToolUnavailable marks a single delivery channel being down.
	// Triggers fallback to the next channel, not a full abort.
	KindToolUnavailable ErrorKind = "tool_unavailable"
	// KindSystem marks registry corruption or connection-setup failure.
	// Surfaced immediately; the workflow cannot proceed.
	KindSystem ErrorKind = "system"
	// KindCancelled marks operator or shutdown cancellation.
	KindCancelled ErrorKind = "cancelled"
)

// ClassifiedError wraps an underlying error with its taxonomy kind and the
// operation that produced it.
type ClassifiedError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// DataErr wraps err as a terminal data error.
func DataErr(op string, err error) error {
	return &ClassifiedError{Kind: KindData, Op: op, Err: err}
}

// TransientErr wraps err as a retryable transient error.
func TransientErr(op string, err error) error {
	return &ClassifiedError{Kind: KindTransient, Op: op, Err: err}
}

// ToolUnavailableErr wraps err as a channel-down error.
func ToolUnavailableErr(op string, err error) error {
	return &ClassifiedError{Kind: KindToolUnavailable, Op: op, Err: err}
}

// SystemErr wraps err as an unrecoverable system error.
func SystemErr(op string, err error) error {
	return &ClassifiedError{Kind: KindSystem, Op: op, Err: err}
}

// CancelledErr wraps err as a cancellation.
func CancelledErr(op string, err error) error {
	return &ClassifiedError{Kind: KindCancelled, Op: op, Err: err}
}

// KindOf returns the taxonomy kind of err. Unclassified errors are treated
// as system errors, the conservative default.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindSystem
}

// Retryable reports whether err should be retried with backoff.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
