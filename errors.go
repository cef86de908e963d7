package harness

import (
	"errors"
	"fmt"
)

// RuntimeError is an operational failure: bad configuration, an unreachable
// target, a deployment that did not start. It maps to exit code 2.
type RuntimeError struct {
	Err error
}

// Error implements the error interface
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if an error is a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports that at least one test method failed. It maps to
// exit code 1.
type TestFailureError struct {
	Failed int
	Total  int
}

// Error implements the error interface
func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %d of %d test methods failed", e.Failed, e.Total)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(failed, total int) *TestFailureError {
	return &TestFailureError{Failed: failed, Total: total}
}

// IsTestFailureError checks if an error is a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
