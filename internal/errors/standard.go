// Package errors provides a standardized error-kind taxonomy: logical
// categories rather than exception classes, each carrying enough context
// to log usefully without escaping the event loop as a panic.
package errors

import (
	"fmt"
	"runtime"
)

// Category is one of the error kinds this package enumerates.
type Category string

const (
	CategoryParse              Category = "PARSE"
	CategoryBufferOverflow     Category = "BUFFER_OVERFLOW"
	CategoryTransientSocket    Category = "TRANSIENT_SOCKET"
	CategoryFatalSocket        Category = "FATAL_SOCKET"
	CategoryTimerArmFailure    Category = "TIMER_ARM_FAILURE"
	CategoryResourceExhaustion Category = "RESOURCE_EXHAUSTION"
	CategoryInvariantViolation Category = "INVARIANT_VIOLATION"
)

// StandardError is a consistently formatted, loggable error carrying its
// category, a short machine-checkable code, a human message, free-form
// context, and the caller that raised it.
type StandardError struct {
	Category Category
	Code     string
	Message  string
	Context  map[string]any
	Caller   string
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// New creates a StandardError, recording the immediate caller.
func New(category Category, code, message string, context map[string]any) *StandardError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}
	return &StandardError{Category: category, Code: code, Message: message, Context: context, Caller: caller}
}

// ParseError wraps a malformed-request condition; callers force-close the
// connection on receiving one.
func ParseError(detail string) *StandardError {
	return New(CategoryParse, "MALFORMED_REQUEST", detail, nil)
}

// BufferOverflow wraps a request/response exceeding its configured size;
// callers force-close the connection on receiving one.
func BufferOverflow(limit, got int) *StandardError {
	return New(CategoryBufferOverflow, "SIZE_EXCEEDED",
		fmt.Sprintf("size %d exceeds configured limit %d", got, limit),
		map[string]any{"limit": limit, "got": got})
}

// FatalSocket wraps EPIPE/ECONNRESET on a send path; callers mark the
// connection faulted and route it to close.
func FatalSocket(op string, cause error) *StandardError {
	return New(CategoryFatalSocket, "FATAL_SOCKET_ERROR",
		fmt.Sprintf("%s: %v", op, cause),
		map[string]any{"op": op, "cause": cause})
}

// ResourceExhaustion wraps EMFILE/ENFILE/ENOBUFS/ENOMEM on accept; callers
// log and continue, leaving the listener armed.
func ResourceExhaustion(cause error) *StandardError {
	return New(CategoryResourceExhaustion, "ACCEPT_RESOURCE_EXHAUSTION", cause.Error(), nil)
}

// InvariantViolation wraps a programming-contract breach (e.g. updating a
// channel not owned by the calling loop). Callers usually panic with it;
// Connection.SendFile is the exception and returns one as its error when
// the connection is not Connected.
func InvariantViolation(what string) *StandardError {
	return New(CategoryInvariantViolation, "INVARIANT_VIOLATION", what, nil)
}
