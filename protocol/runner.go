package protocol

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ethereum-optimism/infra/op-harness/enrich"
	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// Config holds the configuration for the test runner.
type Config struct {
	Log      log.Logger
	Loader   spi.Loader       // Finds test classes; required
	Runner   spi.MethodRunner // Used when the loader supplies no runner; defaults to spi.DefaultRunner
	Enricher *enrich.Registry // Binds capabilities declared by test classes

	ServerID          string        // Identifies this target in notifications; defaults to a random uuid
	ResourceTimeout   time.Duration // How long RequestResource waits; defaults to DefaultResourceTimeout
	MaxConcurrentRuns int64         // Maximum concurrently executing methods; 0 means unlimited
}

// TestRunner executes test methods inside the target and owns the channel
// used to ask the client for resources while a method runs.
type TestRunner struct {
	log      log.Logger
	loader   spi.Loader
	fallback spi.MethodRunner
	enricher *enrich.Registry
	serverID string
	timeout  time.Duration
	sem      *semaphore.Weighted
	tracer   trace.Tracer

	feed      event.Feed
	scope     event.SubscriptionScope
	sequence  atomic.Uint64
	listeners atomic.Int32
	pending   pendingCommands
}

var _ spi.ResourceRequester = (*TestRunner)(nil)

// NewTestRunner creates a TestRunner from cfg, filling in defaults for
// optional fields.
func NewTestRunner(cfg Config) (*TestRunner, error) {
	if cfg.Loader == nil {
		return nil, errors.New("loader is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Runner == nil {
		cfg.Runner = spi.NewDefaultRunner(cfg.Log)
	}
	if cfg.Enricher == nil {
		cfg.Enricher = enrich.NewRegistry()
	}
	if cfg.ServerID == "" {
		cfg.ServerID = uuid.New().String()
	}
	if cfg.ResourceTimeout <= 0 {
		cfg.ResourceTimeout = DefaultResourceTimeout
	}
	if cfg.MaxConcurrentRuns < 0 {
		return nil, fmt.Errorf("max concurrent runs must not be negative: %d", cfg.MaxConcurrentRuns)
	}

	r := &TestRunner{
		log:      cfg.Log.New("component", "testrunner"),
		loader:   cfg.Loader,
		fallback: cfg.Runner,
		enricher: cfg.Enricher,
		serverID: cfg.ServerID,
		timeout:  cfg.ResourceTimeout,
		tracer:   otel.Tracer("testrunner"),
	}
	if cfg.MaxConcurrentRuns > 0 {
		r.sem = semaphore.NewWeighted(cfg.MaxConcurrentRuns)
	}
	return r, nil
}

// ServerID returns the id this runner stamps on its notifications.
func (r *TestRunner) ServerID() string {
	return r.serverID
}

// RunTestMethod runs a method and returns its result directly.
func (r *TestRunner) RunTestMethod(ctx context.Context, className, methodName string, props map[string]string) *types.TestResult {
	return r.runTestMethodInternal(ctx, className, methodName, props, types.ExecutionRemote)
}

// RunTestMethodEmbedded runs a method and returns its encoded result.
func (r *TestRunner) RunTestMethodEmbedded(ctx context.Context, className, methodName string, props map[string]string) ([]byte, error) {
	result := r.runTestMethodInternal(ctx, className, methodName, props, types.ExecutionEmbedded)
	return types.EncodeResult(result)
}

// CommandResult hands data to whoever waits on command id. Unknown ids, and
// ids that already received a result, are ignored.
func (r *TestRunner) CommandResult(id int64, data []byte) bool {
	delivered := r.pending.deliver(id, data)
	if !delivered {
		r.log.Debug("dropping result for unknown command", "id", id)
	}
	return delivered
}

// RequestResource asks the client that runs className for a named resource.
// It returns nil and no error if nothing arrives within the resource timeout.
func (r *TestRunner) RequestResource(ctx context.Context, className, resourceName string) ([]byte, error) {
	cmd := types.NewRequestedCommand(className, types.CommandResource, resourceName)
	payload, err := types.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	slot := r.pending.add(cmd.ID)
	defer r.pending.remove(cmd.ID)

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	// Feed.Send blocks until every subscriber takes the notification, so it
	// runs beside the wait and cannot hold the method past the deadline.
	metrics.RecordCommandRequested(cmd.Command)
	sent := make(chan int, 1)
	go func() {
		sent <- r.feed.Send(Notification{
			Type:     RequestCommandType,
			Source:   r.serverID,
			Sequence: r.sequence.Add(1),
			UserData: payload,
		})
	}()

	for {
		select {
		case n := <-sent:
			if n == 0 {
				r.log.Warn("no listener for requested command", "cmd", cmd)
			}
			sent = nil
		case data := <-slot:
			metrics.RecordCommandDelivered()
			r.log.Debug("command result received", "cmd", cmd, "size", len(data))
			return data, nil
		case <-timer.C:
			metrics.RecordCommandTimeout()
			r.log.Warn("timed out waiting for command result", "cmd", cmd, "timeout", r.timeout)
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Subscribe registers ch for every notification the runner emits.
func (r *TestRunner) Subscribe(ch chan<- Notification) event.Subscription {
	return r.scope.Track(r.feed.Subscribe(ch))
}

// ListenerCount returns the number of wire subscriptions currently open.
func (r *TestRunner) ListenerCount() int {
	return int(r.listeners.Load())
}

// PendingCount returns the number of commands waiting for a result.
func (r *TestRunner) PendingCount() int {
	return r.pending.len()
}

// Close ends every subscription.
func (r *TestRunner) Close() {
	r.scope.Close()
}

func (r *TestRunner) runTestMethodInternal(ctx context.Context, className, methodName string, props map[string]string, defaultMode types.ExecutionMode) (result *types.TestResult) {
	ctx, span := r.tracer.Start(ctx, "execute", trace.WithAttributes(
		attribute.String("class", className),
		attribute.String("method", methodName),
	))
	defer span.End()

	log := r.log.New("class", className, "method", methodName)
	mode := defaultMode
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("test runner panicked", "panic", rec)
			result = types.NewFailedResult(&spi.PanicError{Value: rec, Stack: string(debug.Stack())}).SetEnd()
		}
		metrics.RecordTestMethod(mode, result.Status)
		log.Debug("test method finished", "status", result.Status, "duration", result.Duration())
	}()

	failed := func(err error) *types.TestResult {
		log.Warn("test method could not be run", "err", err)
		return types.NewFailedResult(err).SetEnd()
	}

	if v, ok := props[types.ExecutionModeProperty]; ok {
		parsed, err := types.ParseExecutionMode(v)
		if err != nil {
			return failed(pkgerrors.WithStack(err))
		}
		mode = parsed
	}

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return failed(fmt.Errorf("waiting for a free runner slot: %w", err))
		}
		defer r.sem.Release(1)
	}

	ctx = types.WithExecutionContext(ctx, &types.ExecutionContext{
		Mode:       mode,
		ServerID:   r.serverID,
		TestClass:  className,
		TestMethod: methodName,
		Properties: maps.Clone(props),
	})
	ctx = spi.WithResourceRequester(ctx, r)

	runner := spi.DiscoverRunner(r.loader, r.fallback)
	class, err := r.loader.LoadTestClass(className)
	if err != nil {
		return failed(pkgerrors.WithStack(err))
	}
	ctx = spi.WithLoader(ctx, r.loader)

	values, err := r.enricher.Resolve(ctx, class.Needs)
	if err != nil {
		return failed(pkgerrors.WithStack(err))
	}

	result = runner.Execute(ctx, class, methodName, values)
	if result == nil {
		return failed(errors.New("method runner returned no result"))
	}
	return result
}
