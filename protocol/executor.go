package protocol

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-harness/archive"
	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

const DefaultListenerCloseTimeout = 5 * time.Second

var ErrNilDescriptor = errors.New("test method descriptor must not be nil")

// ExecutorConfig holds the configuration for a MethodExecutor.
type ExecutorConfig struct {
	Log    log.Logger
	Client *rpc.Client        // Connection to the target; required
	Mode   types.ExecutionMode // Selects embedded or remote result transfer

	// Loader finds the client-side view of test classes, used to locate
	// archive providers. Classes it cannot find run without a listener.
	Loader spi.Loader

	Properties           map[string]string // Extra properties sent with every invocation
	ExportCacheSize      int               // Exported archives kept per executor; 0 disables caching
	ListenerCloseTimeout time.Duration     // Wait for in-flight commands on cleanup
}

// MethodExecutor invokes test methods on a remote TestRunner.
type MethodExecutor struct {
	log          log.Logger
	proxy        *RunnerProxy
	mode         types.ExecutionMode
	loader       spi.Loader
	props        map[string]string
	cache        *archive.ExportCache
	closeTimeout time.Duration
	tracer       trace.Tracer
}

// NewMethodExecutor creates a MethodExecutor from cfg
func NewMethodExecutor(cfg ExecutorConfig) (*MethodExecutor, error) {
	if cfg.Client == nil {
		return nil, errors.New("rpc client is required")
	}
	if _, err := types.ParseExecutionMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.ListenerCloseTimeout <= 0 {
		cfg.ListenerCloseTimeout = DefaultListenerCloseTimeout
	}

	e := &MethodExecutor{
		log:          cfg.Log.New("component", "executor", "mode", cfg.Mode),
		proxy:        NewRunnerProxy(cfg.Client),
		mode:         cfg.Mode,
		loader:       cfg.Loader,
		props:        maps.Clone(cfg.Properties),
		closeTimeout: cfg.ListenerCloseTimeout,
		tracer:       otel.Tracer("executor"),
	}
	if cfg.ExportCacheSize > 0 {
		cache, err := archive.NewExportCache(cfg.ExportCacheSize)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	return e, nil
}

// Mode returns the execution mode invocations are made in
func (e *MethodExecutor) Mode() types.ExecutionMode {
	return e.mode
}

// Invoke runs one test method on the target. Test failures and transport
// failures both come back as a FAILED result. An error is returned only when
// the invocation could not be attempted.
func (e *MethodExecutor) Invoke(ctx context.Context, desc *types.TestMethodDescriptor) (result *types.TestResult, err error) {
	if desc == nil {
		return nil, ErrNilDescriptor
	}

	ctx, span := e.tracer.Start(ctx, "invoke", trace.WithAttributes(
		attribute.String("class", desc.ClassName),
		attribute.String("method", desc.MethodName),
		attribute.String("mode", string(e.mode)),
	))
	defer span.End()

	log := e.log.New("test", desc.String())

	var listener *commandListener
	if class := e.lookupClass(desc.ClassName); class.HasArchiveProvider() {
		listener = &commandListener{
			log:          log.New("component", "listener"),
			proxy:        e.proxy,
			class:        class,
			loader:       e.loader,
			cache:        e.cache,
			closeTimeout: e.closeTimeout,
		}
		if lerr := startCommandListener(ctx, listener); lerr != nil {
			return nil, lerr
		}
	}

	defer func() {
		if result != nil {
			result.SetEnd()
		}
		if listener != nil {
			if cerr := listener.close(); cerr != nil {
				log.Warn("failed to unregister command listener", "err", cerr)
			}
		}
	}()

	start := time.Now()
	props := e.properties()
	var callErr error
	switch e.mode {
	case types.ExecutionEmbedded:
		result, callErr = e.proxy.RunTestMethodEmbedded(ctx, desc.ClassName, desc.MethodName, props)
	default:
		result, callErr = e.proxy.RunTestMethod(ctx, desc.ClassName, desc.MethodName, props)
	}
	if callErr != nil {
		log.Error("test method invocation failed", "err", callErr)
		result = types.NewFailedResult(fmt.Errorf("invoking %s: %w", desc, callErr))
		result.Start = start
	}
	return result, nil
}

func (e *MethodExecutor) lookupClass(name string) *spi.TestClass {
	if e.loader == nil {
		return nil
	}
	class, err := e.loader.LoadTestClass(name)
	if err != nil {
		e.log.Debug("test class not known to the client", "class", name, "err", err)
		return nil
	}
	return class
}

func (e *MethodExecutor) properties() map[string]string {
	props := make(map[string]string, len(e.props)+1)
	maps.Copy(props, e.props)
	props[types.ExecutionModeProperty] = string(e.mode)
	return props
}
