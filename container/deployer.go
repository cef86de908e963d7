package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-harness/archive"
)

// Deployer installs, resolves and starts archives, and tears them down again.
type Deployer struct {
	log       log.Logger
	container Container
}

// NewDeployer creates a Deployer on c
func NewDeployer(c Container, logger log.Logger) *Deployer {
	return &Deployer{
		log:       logger.New("component", "deployer"),
		container: c,
	}
}

func (d *Deployer) Container() Container {
	return d.container
}

// Deploy leaves the bundle ACTIVE. A bundle that fails to resolve or start is
// uninstalled again.
func (d *Deployer) Deploy(ctx context.Context, a *archive.Archive) (Handle, error) {
	h, err := d.container.Install(ctx, a)
	if err != nil {
		return Handle{}, fmt.Errorf("cannot deploy %s: %w", a.Name(), err)
	}
	if err := d.container.Resolve(ctx, h); err != nil {
		return Handle{}, d.abort(ctx, h, err)
	}
	if err := d.container.Start(ctx, h); err != nil {
		return Handle{}, d.abort(ctx, h, err)
	}
	d.log.Info("deployed", "bundle", h)
	return h, nil
}

func (d *Deployer) abort(ctx context.Context, h Handle, cause error) error {
	err := fmt.Errorf("cannot deploy %s: %w", h.Name, cause)
	if uerr := d.container.Uninstall(ctx, h); uerr != nil {
		return errors.Join(err, uerr)
	}
	return err
}

// Undeploy stops and uninstalls h
func (d *Deployer) Undeploy(ctx context.Context, h Handle) error {
	stopErr := d.container.Stop(ctx, h)
	uninstallErr := d.container.Uninstall(ctx, h)
	if err := errors.Join(stopErr, uninstallErr); err != nil {
		return fmt.Errorf("cannot undeploy %s: %w", h, err)
	}
	d.log.Info("undeployed", "bundle", h)
	return nil
}
