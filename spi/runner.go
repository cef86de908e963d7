package spi

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-harness/enrich"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// MethodRunner runs one method of a loaded test class.
type MethodRunner interface {
	Execute(ctx context.Context, class *TestClass, method string, values enrich.Values) *types.TestResult
}

// DefaultRunner runs test bodies on the calling goroutine and converts every
// failure into a FAILED result.
type DefaultRunner struct {
	log log.Logger
}

var _ MethodRunner = (*DefaultRunner)(nil)

// NewDefaultRunner creates a DefaultRunner
func NewDefaultRunner(logger log.Logger) *DefaultRunner {
	if logger == nil {
		logger = log.Root()
	}
	return &DefaultRunner{log: logger}
}

// Execute runs method of class and records the outcome
func (r *DefaultRunner) Execute(ctx context.Context, class *TestClass, method string, values enrich.Values) *types.TestResult {
	result := types.NewTestResult()
	defer result.SetEnd()

	fn, ok := class.Methods[method]
	if !ok {
		return result.Failed(&NoSuchMethodError{Class: class.Name, Method: method})
	}

	t := newT(ctx, class.Name, method, values, r.log)
	if err := t.run(fn); err != nil {
		r.log.Debug("test method failed", "class", class.Name, "method", method, "err", err)
		return result.Failed(err)
	}
	return result.Passed()
}
