// Package errors provides a standardized error shape for the
// allocator's one user-recoverable failure (heap exhaustion) and for
// the bench driver's input validation.
package errors

import (
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors.
type ErrorCategory string

const (
	CategoryMemory     ErrorCategory = "MEMORY"
	CategoryValidation ErrorCategory = "VALIDATION"
)

// StandardError provides a consistent error format.
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface.
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// NewStandardError creates a new standardized error.
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"

	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// HeapExhausted reports that the arena could not grow to satisfy a
// request; this is the only failure the allocator surfaces to a
// caller rather than treating as a contract violation.
func HeapExhausted(requestedBytes int, op string) *StandardError {
	return NewStandardError(CategoryMemory, "HEAP_EXHAUSTED",
		fmt.Sprintf("arena could not grow to satisfy %s(%d bytes)", op, requestedBytes),
		map[string]interface{}{"requestedBytes": requestedBytes, "op": op})
}

// InvalidSize reports a malformed size field in a trace line fed to
// the bench driver.
func InvalidSize(size int, context string) *StandardError {
	return NewStandardError(CategoryValidation, "INVALID_SIZE",
		fmt.Sprintf("invalid size %d in %s", size, context),
		map[string]interface{}{"size": size, "context": context})
}
