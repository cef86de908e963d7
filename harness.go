package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-harness/container"
	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/protocol"
	"github.com/ethereum-optimism/infra/op-harness/registry"
	"github.com/ethereum-optimism/infra/op-harness/service"
	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/transport"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// AllSuite names the suite used when no suite file is configured.
const AllSuite = "all"

var _ cliapp.Lifecycle = (*Harness)(nil)

// Harness is the client side: it deploys test classes into a target,
// invokes their methods and reports the results.
type Harness struct {
	cfg     *Config
	log     log.Logger
	catalog *spi.Catalog
	out     io.Writer
	tracer  trace.Tracer

	embedded *Target
	service  *service.Service
	result   *RunResult
	running  atomic.Bool

	shutdownCallback func(error)
}

// NewHarness creates a new Harness. shutdownCallback is called once a
// successful run finishes
func NewHarness(cfg *Config, catalog *spi.Catalog, shutdownCallback func(error)) (*Harness, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if catalog == nil {
		return nil, errors.New("test class catalog is required")
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}
	h := &Harness{
		cfg:              cfg,
		log:              cfg.Log.New("component", "harness"),
		catalog:          catalog,
		out:              os.Stdout,
		tracer:           otel.Tracer("harness"),
		shutdownCallback: shutdownCallback,
	}
	h.service = service.New(cfg.Service, cfg.Log, nil)
	return h, nil
}

// SetOutput redirects the results table.
func (h *Harness) SetOutput(w io.Writer) {
	h.out = w
}

// Start runs every selected test method once. The metrics and healthz
// servers, when enabled, keep serving until Stop.
func (h *Harness) Start(ctx context.Context) error {
	h.running.Store(true)
	if err := h.service.Start(); err != nil {
		return NewRuntimeError(err)
	}

	result, err := h.Run(ctx)
	if err != nil {
		h.log.Error("runtime error running tests", "err", err)
		return NewRuntimeError(err)
	}
	if result.Status() == types.StatusFailed {
		h.log.Warn("test run completed with failures", "run_id", result.RunID, "failed", result.Failed())
		return NewTestFailureError(result.Failed(), len(result.Methods))
	}

	go h.shutdownCallback(nil)
	return nil
}

// Stop shuts the auxiliary servers down
func (h *Harness) Stop(ctx context.Context) error {
	if !h.running.Swap(false) {
		return nil
	}
	return h.service.Shutdown(ctx)
}

// Stopped returns true if the harness is not running
func (h *Harness) Stopped() bool {
	return !h.running.Load()
}

// Result returns the result of the last run, or nil.
func (h *Harness) Result() *RunResult {
	return h.result
}

// Run connects to the target, deploys the classes of the selected suites,
// invokes their methods and undeploys again.
func (h *Harness) Run(ctx context.Context) (result *RunResult, err error) {
	runID := uuid.New().String()
	ctx, span := h.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("mode", string(h.cfg.Mode)),
	))
	defer span.End()
	log := h.log.New("run_id", runID)

	reg, err := h.loadRegistry()
	if err != nil {
		return nil, err
	}

	binding, closeTarget, err := h.binding()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := closeTarget(ctx); cerr != nil {
			log.Warn("failed to stop embedded target", "err", cerr)
		}
	}()

	client, err := binding.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	if err := transport.RequireNamespaces(client, protocol.Namespace, container.Namespace); err != nil {
		return nil, err
	}
	log.Info("connected to target", "binding", binding)

	cont, err := container.New(binding.Mode(), h.frameworkOf(binding), client)
	if err != nil {
		return nil, err
	}
	deployer := container.NewDeployer(cont, h.cfg.Log)
	handles, err := h.deploy(ctx, deployer, reg.Classes())
	defer func() {
		for _, hd := range handles {
			if uerr := deployer.Undeploy(context.WithoutCancel(ctx), hd); uerr != nil {
				log.Warn("failed to undeploy", "bundle", hd, "err", uerr)
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	methods, err := h.invokeAll(ctx, client, reg.Entries())
	if err != nil {
		return nil, err
	}

	result = &RunResult{
		RunID:    runID,
		Mode:     h.cfg.Mode,
		Methods:  methods,
		Duration: time.Since(start),
	}
	h.result = result

	printResultsTable(h.out, result)
	metrics.RecordRun(runID, result.Status(), result.Passed(), result.Failed(), result.Duration)
	log.Info("test run completed", "status", result.Status(), "passed", result.Passed(), "failed", result.Failed())
	return result, nil
}

func (h *Harness) loadRegistry() (*registry.Registry, error) {
	if h.cfg.SuiteFile == "" {
		return registry.FromClasses(h.catalog, AllSuite, h.catalog.Names()...)
	}
	reg, err := registry.NewRegistry(registry.Config{
		Log:       h.cfg.Log,
		SuiteFile: h.cfg.SuiteFile,
		SuiteID:   h.cfg.SuiteID,
		Loader:    h.catalog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	return reg, nil
}

// binding returns how to reach the target. In embedded mode the target is
// built here and torn down by the returned function.
func (h *Harness) binding() (transport.Binding, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if h.cfg.Mode != types.ExecutionEmbedded {
		b, err := transport.NewBinding(h.cfg.Mode, nil, h.cfg.Remote)
		return b, noop, err
	}
	target, err := NewTarget(h.cfg, h.catalog)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create embedded target: %w", err)
	}
	b, err := transport.NewBinding(types.ExecutionEmbedded, target.Endpoint(), transport.Address{})
	if err != nil {
		return nil, noop, err
	}
	h.embedded = target
	return b, target.Stop, nil
}

func (h *Harness) frameworkOf(b transport.Binding) *container.Framework {
	if b.Mode() == types.ExecutionEmbedded && h.embedded != nil {
		return h.embedded.Framework()
	}
	return nil
}

// deploy deploys the archive of every class that declares one. The handles
// deployed so far are returned even on error.
func (h *Harness) deploy(ctx context.Context, d *container.Deployer, classes []string) ([]container.Handle, error) {
	var handles []container.Handle
	for _, name := range classes {
		class, err := h.catalog.LoadTestClass(name)
		if err != nil {
			return handles, err
		}
		if class.Deployment == nil {
			continue
		}
		a, err := class.Deployment()
		if err != nil {
			return handles, fmt.Errorf("failed to build deployment of %s: %w", name, err)
		}
		hd, err := d.Deploy(ctx, a)
		if err != nil {
			return handles, err
		}
		handles = append(handles, hd)
	}
	return handles, nil
}

func (h *Harness) invokeAll(ctx context.Context, client *rpc.Client, entries []registry.Entry) ([]MethodResult, error) {
	executor, err := protocol.NewMethodExecutor(protocol.ExecutorConfig{
		Log:                  h.cfg.Log,
		Client:               client,
		Mode:                 h.cfg.Mode,
		Loader:               h.catalog,
		ExportCacheSize:      h.cfg.Client.ExportCacheSize,
		ListenerCloseTimeout: time.Duration(h.cfg.Client.ListenerCloseTimeout),
	})
	if err != nil {
		return nil, err
	}

	type indexed struct {
		index int
		MethodResult
	}
	p := pool.NewWithResults[indexed]().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(h.cfg.Concurrency).
		WithContext(ctx).
		WithCancelOnError()
	for i, entry := range entries {
		p.Go(func(ctx context.Context) (indexed, error) {
			res, err := executor.Invoke(ctx, &entry.TestMethodDescriptor)
			if err != nil {
				return indexed{}, fmt.Errorf("failed to invoke %s: %w", entry, err)
			}
			h.log.Debug("test method finished", "test", entry.String(), "status", res.Status)
			return indexed{index: i, MethodResult: MethodResult{Entry: entry, Result: res}}, nil
		})
	}
	done, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(done, func(a, b int) bool { return done[a].index < done[b].index })
	out := make([]MethodResult, len(done))
	for i, d := range done {
		out[i] = d.MethodResult
	}
	return out, nil
}
