package queue

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain-level failures so callers can branch on
// recoverability without parsing error strings.
type ErrorKind string

const (
	KindBrokerTransport     ErrorKind = "broker_transport"
	KindSerialization       ErrorKind = "serialization"
	KindTaskExecution       ErrorKind = "task_execution"
	KindTaskNotFound        ErrorKind = "task_not_found"
	KindQueueOperation      ErrorKind = "queue_operation"
	KindWorkerFailure       ErrorKind = "worker_failure"
	KindSchedulerFailure    ErrorKind = "scheduler_failure"
	KindConfiguration       ErrorKind = "configuration"
	KindTimeout             ErrorKind = "timeout"
	KindRetryLimitExceeded  ErrorKind = "retry_limit_exceeded"
	KindIO                  ErrorKind = "io"
)

// recoverable mirrors original_source/src/error.rs's TaskError::is_recoverable.
var recoverable = map[ErrorKind]bool{
	KindBrokerTransport:    true,
	KindSerialization:      false,
	KindTaskExecution:      true,
	KindTaskNotFound:       false,
	KindQueueOperation:     true,
	KindWorkerFailure:      true,
	KindSchedulerFailure:   false,
	KindConfiguration:      false,
	KindTimeout:            true,
	KindRetryLimitExceeded: false,
	KindIO:                 true,
}

// Error is the queue package's error type. It wraps an underlying cause
// (when there is one) the way the rest of the codebase wraps errors with
// fmt.Errorf("...: %w", err), while carrying a classified Kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRecoverable reports whether the caller should consider retrying the
// operation that produced this error.
func (e *Error) IsRecoverable() bool {
	return recoverable[e.Kind]
}

// NewError builds a *Error with a formatted message and no wrapped cause.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a *Error wrapping an underlying cause.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is a
// *Error, reporting ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind, true
	}
	return "", false
}
