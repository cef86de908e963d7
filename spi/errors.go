package spi

import (
	"fmt"
	"strings"
)

// ClassNotFoundError is returned when a loader cannot see a class
type ClassNotFoundError struct {
	Name string
}

func (e *ClassNotFoundError) Error() string {
	return fmt.Sprintf("test class not found: %s", e.Name)
}

func (e *ClassNotFoundError) FailureType() string { return "ClassNotFoundError" }

// NoSuchMethodError is returned when a class has no such method
type NoSuchMethodError struct {
	Class  string
	Method string
}

func (e *NoSuchMethodError) Error() string {
	return fmt.Sprintf("no test method %s on %s", e.Method, e.Class)
}

func (e *NoSuchMethodError) FailureType() string { return "NoSuchMethodError" }

// AssertionError collects the failures reported through T.Errorf.
type AssertionError struct {
	Messages []string
	Stack    string
}

func (e *AssertionError) Error() string {
	return strings.Join(e.Messages, "\n")
}

func (e *AssertionError) FailureType() string { return "AssertionError" }

func (e *AssertionError) StackText() string { return e.Stack }

// PanicError is a panic recovered from a test body.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func (e *PanicError) FailureType() string { return "panic" }

func (e *PanicError) StackText() string { return e.Stack }
