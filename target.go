package harness

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-harness/container"
	"github.com/ethereum-optimism/infra/op-harness/enrich"
	"github.com/ethereum-optimism/infra/op-harness/protocol"
	"github.com/ethereum-optimism/infra/op-harness/service"
	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/transport"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

var _ cliapp.Lifecycle = (*Target)(nil)

// Target is the process that test methods run in. It hosts the bundle
// framework, the test runner and the endpoint both are served on.
type Target struct {
	cfg *Config
	log log.Logger

	framework *container.Framework
	runner    *protocol.TestRunner
	endpoint  *transport.Endpoint
	service   *service.Service

	running atomic.Bool
}

// NewTarget wires a target around catalog. Only classes deployed into the
// framework are visible to the runner.
func NewTarget(cfg *Config, catalog spi.Loader) (*Target, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if catalog == nil {
		return nil, errors.New("test class catalog is required")
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}

	fw := container.NewFramework(logger)
	runner, err := protocol.NewTestRunner(protocol.Config{
		Log:               logger,
		Loader:            fw.Loader(catalog),
		Enricher:          newEnricher(fw),
		ResourceTimeout:   time.Duration(cfg.Server.ResourceTimeout),
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}

	ep := transport.NewEndpoint(logger)
	if err := ep.Register(runner.API(), fw.API()); err != nil {
		return nil, err
	}

	t := &Target{
		cfg:       cfg,
		log:       logger.New("component", "target"),
		framework: fw,
		runner:    runner,
		endpoint:  ep,
	}
	t.service = service.New(cfg.Service, logger, t.ready)
	return t, nil
}

// newEnricher registers the capabilities a target offers to test classes.
func newEnricher(fw *container.Framework) *enrich.Registry {
	r := enrich.NewRegistry()
	r.RegisterValue(enrich.CapabilityContainer, container.Container(fw))
	r.Register(enrich.CapabilityBundle, func(ctx context.Context) (any, error) {
		ec, ok := types.ExecutionContextFrom(ctx)
		if !ok {
			return nil, errors.New("no execution context")
		}
		h, ok := fw.BundleOf(ec.TestClass)
		if !ok {
			return nil, fmt.Errorf("no bundle exposes %s", ec.TestClass)
		}
		return h, nil
	})
	r.Register(enrich.CapabilityExecutionContext, func(ctx context.Context) (any, error) {
		ec, ok := types.ExecutionContextFrom(ctx)
		if !ok {
			return nil, errors.New("no execution context")
		}
		return ec, nil
	})
	r.Register(enrich.CapabilityResourceRequester, func(ctx context.Context) (any, error) {
		rr, ok := spi.ResourceRequesterFrom(ctx)
		if !ok {
			return nil, spi.ErrNoResourceRequester
		}
		return rr, nil
	})
	return r
}

// Start serves the endpoint on the configured address.
func (t *Target) Start(ctx context.Context) error {
	if t.running.Swap(true) {
		return errors.New("target already started")
	}
	srv := t.cfg.Server
	if err := t.endpoint.Start(srv.Host, srv.Port, srv.CORSOrigins); err != nil {
		t.running.Store(false)
		return err
	}
	if err := t.service.Start(); err != nil {
		t.running.Store(false)
		return errors.Join(err, t.endpoint.Stop(ctx))
	}
	t.log.Info("target started", "url", t.endpoint.URL(), "server_id", t.runner.ServerID())
	return nil
}

// Stop closes every command subscription and shuts the endpoint down. It is
// safe to call on a target that was never started.
func (t *Target) Stop(ctx context.Context) error {
	t.running.Store(false)
	t.runner.Close()
	err := errors.Join(t.endpoint.Stop(ctx), t.service.Shutdown(ctx))
	for _, h := range t.framework.Bundles() {
		if uerr := t.framework.Uninstall(ctx, h); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}
	t.log.Info("target stopped")
	return err
}

// Stopped returns true if the target is not serving
func (t *Target) Stopped() bool {
	return !t.running.Load()
}

// Framework returns the bundle framework the target hosts
func (t *Target) Framework() *container.Framework {
	return t.framework
}

// Runner returns the test runner the target serves
func (t *Target) Runner() *protocol.TestRunner {
	return t.runner
}

// Endpoint is the endpoint in-process clients dial.
func (t *Target) Endpoint() *transport.Endpoint {
	return t.endpoint
}

// URL is the websocket address of a started target.
func (t *Target) URL() string {
	return t.endpoint.URL()
}

func (t *Target) ready() error {
	for _, ns := range []string{protocol.Namespace, container.Namespace} {
		if !t.endpoint.IsRegistered(ns) {
			return fmt.Errorf("%s is not served", ns)
		}
	}
	return nil
}
