package container

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/infra/op-harness/archive"
)

const Namespace = "framework"

// frameworkAPI serves a Framework to remote clients.
type frameworkAPI struct {
	fw *Framework
}

func (f *Framework) API() rpc.API {
	return rpc.API{
		Namespace: Namespace,
		Service:   &frameworkAPI{fw: f},
	}
}

func (a *frameworkAPI) Install(ctx context.Context, name string, data hexutil.Bytes) (Handle, error) {
	arc, err := archive.ImportZip(name, data)
	if err != nil {
		return Handle{}, err
	}
	return a.fw.Install(ctx, arc)
}

func (a *frameworkAPI) Resolve(ctx context.Context, h Handle) error {
	return a.fw.Resolve(ctx, h)
}

func (a *frameworkAPI) Start(ctx context.Context, h Handle) error {
	return a.fw.Start(ctx, h)
}

func (a *frameworkAPI) Stop(ctx context.Context, h Handle) error {
	return a.fw.Stop(ctx, h)
}

func (a *frameworkAPI) Uninstall(ctx context.Context, h Handle) error {
	return a.fw.Uninstall(ctx, h)
}

func (a *frameworkAPI) State(ctx context.Context, h Handle) (State, error) {
	return a.fw.State(ctx, h)
}

func (a *frameworkAPI) IsInstalled(ctx context.Context, symbolicName string) (bool, error) {
	return a.fw.IsInstalled(ctx, symbolicName)
}

func (a *frameworkAPI) Bundles() []Handle {
	return a.fw.Bundles()
}

// Remote drives a Framework served on another endpoint.
type Remote struct {
	client *rpc.Client
}

var _ Container = (*Remote)(nil)

// NewRemote creates a Container that manages the framework behind client
func NewRemote(client *rpc.Client) *Remote {
	return &Remote{client: client}
}

// Install ships a as a zip and installs it
func (r *Remote) Install(ctx context.Context, a *archive.Archive) (Handle, error) {
	data, err := a.ExportZip()
	if err != nil {
		return Handle{}, err
	}
	var h Handle
	if err := r.call(ctx, &h, "install", a.Name(), hexutil.Bytes(data)); err != nil {
		return Handle{}, err
	}
	return h, nil
}

func (r *Remote) Resolve(ctx context.Context, h Handle) error {
	return r.call(ctx, nil, "resolve", h)
}

func (r *Remote) Start(ctx context.Context, h Handle) error {
	return r.call(ctx, nil, "start", h)
}

func (r *Remote) Stop(ctx context.Context, h Handle) error {
	return r.call(ctx, nil, "stop", h)
}

func (r *Remote) Uninstall(ctx context.Context, h Handle) error {
	return r.call(ctx, nil, "uninstall", h)
}

func (r *Remote) State(ctx context.Context, h Handle) (State, error) {
	var s State
	if err := r.call(ctx, &s, "state", h); err != nil {
		return "", err
	}
	return s, nil
}

func (r *Remote) IsInstalled(ctx context.Context, symbolicName string) (bool, error) {
	var ok bool
	if err := r.call(ctx, &ok, "isInstalled", symbolicName); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Remote) Bundles(ctx context.Context) ([]Handle, error) {
	var out []Handle
	if err := r.call(ctx, &out, "bundles"); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Remote) call(ctx context.Context, result any, method string, args ...any) error {
	if err := r.client.CallContext(ctx, result, Namespace+"_"+method, args...); err != nil {
		return fmt.Errorf("%s_%s: %w", Namespace, method, err)
	}
	return nil
}
