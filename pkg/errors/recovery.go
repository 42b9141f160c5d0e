package errors

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
)

// PanicError wraps a recovered panic so that a panicking fit-evaluate task
// surfaces as an ordinary error instead of killing the worker pool.
type PanicError struct {
	Operation  string
	PanicValue interface{}
	Stack      []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scisearch: panic in %s: %v", e.Operation, e.PanicValue)
}

// NewPanicError creates a PanicError capturing the current goroutine stack.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		Operation:  operation,
		PanicValue: panicValue,
		Stack:      debug.Stack(),
	}
}

// Recover converts a panic into an error. Use as:
//
//	defer errors.Recover(&err, "FitAndScore")
func Recover(err *error, operation string) {
	if r := recover(); r != nil {
		*err = errors.WithStack(NewPanicError(operation, r))
	}
}

// SafeExecute runs fn and converts any panic into an error.
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}
