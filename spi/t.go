package spi

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-harness/enrich"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// ResourceRequester fetches a named resource from the client that started
// the current invocation. A nil result with a nil error means the client did
// not answer in time.
type ResourceRequester interface {
	RequestResource(ctx context.Context, className, resourceName string) ([]byte, error)
}

type requesterKey struct{}

func WithResourceRequester(ctx context.Context, r ResourceRequester) context.Context {
	return context.WithValue(ctx, requesterKey{}, r)
}

func ResourceRequesterFrom(ctx context.Context) (ResourceRequester, bool) {
	r, ok := ctx.Value(requesterKey{}).(ResourceRequester)
	return r, ok && r != nil
}

var ErrNoResourceRequester = errors.New("no resource requester in this invocation")

// failNow unwinds a test body after FailNow.
type failNow struct{}

// T is handed to every test body. It satisfies testify's require.TestingT, so
// require and assert can be used directly.
type T struct {
	ctx    context.Context
	class  string
	method string
	values enrich.Values
	log    log.Logger

	mu       sync.Mutex
	failed   bool
	messages []string
	stack    string
}

func newT(ctx context.Context, class, method string, values enrich.Values, logger log.Logger) *T {
	return &T{
		ctx:    ctx,
		class:  class,
		method: method,
		values: values,
		log:    logger.New("class", class, "method", method),
	}
}

func (t *T) Context() context.Context { return t.ctx }

func (t *T) Name() string { return t.class + "." + t.method }

// ExecutionContext returns the invocation's execution context, or nil.
func (t *T) ExecutionContext() *types.ExecutionContext {
	ec, _ := types.ExecutionContextFrom(t.ctx)
	return ec
}

// Value returns a capability bound for this invocation.
func (t *T) Value(c enrich.Capability) (any, bool) {
	v, ok := t.values[c]
	return v, ok
}

// RequestResource asks the client for a named resource and blocks until it
// arrives or the target gives up. A nil slice means nothing arrived.
func (t *T) RequestResource(name string) ([]byte, error) {
	r, ok := ResourceRequesterFrom(t.ctx)
	if !ok {
		return nil, ErrNoResourceRequester
	}
	return r.RequestResource(t.ctx, t.class, name)
}

func (t *T) Logf(format string, args ...any) {
	t.log.Info(fmt.Sprintf(format, args...))
}

func (t *T) Errorf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
	t.messages = append(t.messages, fmt.Sprintf(format, args...))
	if t.stack == "" {
		t.stack = string(debug.Stack())
	}
}

func (t *T) Fatalf(format string, args ...any) {
	t.Errorf(format, args...)
	t.FailNow()
}

func (t *T) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
}

// FailNow stops the test body. It must be called from the body's goroutine.
func (t *T) FailNow() {
	t.Fail()
	panic(failNow{})
}

func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

func (t *T) Helper() {}

func (t *T) assertionError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.messages
	if len(msgs) == 0 {
		msgs = []string{"test marked as failed"}
	}
	return &AssertionError{Messages: append([]string(nil), msgs...), Stack: t.stack}
}

func (t *T) run(fn TestFunc) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if _, ok := rec.(failNow); ok {
			err = t.assertionError()
			return
		}
		err = &PanicError{Value: rec, Stack: string(debug.Stack())}
	}()
	if ferr := fn(t); ferr != nil {
		return ferr
	}
	if t.Failed() {
		return t.assertionError()
	}
	return nil
}
