package types

import (
	"context"
	"fmt"
	"strings"
)

// ExecutionMode selects how the client reaches the test runner.
type ExecutionMode string

const (
	// ExecutionEmbedded runs the target in the client process. Results cross
	// the boundary as encoded bytes.
	ExecutionEmbedded ExecutionMode = "EMBEDDED"
	// ExecutionRemote reaches a separate target process over the network.
	ExecutionRemote ExecutionMode = "REMOTE"
)

// ExecutionModeProperty is the invocation property carrying the mode.
const ExecutionModeProperty = "harness.execution-mode"

// ParseExecutionMode parses a mode name, ignoring case
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ExecutionEmbedded):
		return ExecutionEmbedded, nil
	case string(ExecutionRemote):
		return ExecutionRemote, nil
	default:
		return "", fmt.Errorf("invalid execution mode %q, must be one of %s, %s", s, ExecutionEmbedded, ExecutionRemote)
	}
}

// String returns the mode name
func (m ExecutionMode) String() string {
	return string(m)
}

// ExecutionContext describes the invocation a test method is running in.
type ExecutionContext struct {
	Mode       ExecutionMode
	ServerID   string
	TestClass  string
	TestMethod string
	Properties map[string]string
}

// Property returns an invocation property.
func (e *ExecutionContext) Property(key string) (string, bool) {
	if e == nil || e.Properties == nil {
		return "", false
	}
	v, ok := e.Properties[key]
	return v, ok
}

type executionContextKey struct{}

// WithExecutionContext returns a copy of ctx carrying ec
func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, ec)
}

// ExecutionContextFrom returns the execution context of the current invocation, if any.
func ExecutionContextFrom(ctx context.Context) (*ExecutionContext, bool) {
	ec, ok := ctx.Value(executionContextKey{}).(*ExecutionContext)
	return ec, ok && ec != nil
}

// TestMethodDescriptor names one test method.
type TestMethodDescriptor struct {
	ClassName  string `json:"class" yaml:"class"`
	MethodName string `json:"method" yaml:"method"`
}

func (d TestMethodDescriptor) String() string {
	return d.ClassName + "." + d.MethodName
}
