// Package transport connects clients to the management endpoint of a target.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/infra/op-harness/types"
)

// Binding opens connections to a target endpoint.
type Binding interface {
	Mode() types.ExecutionMode
	Dial(ctx context.Context) (*rpc.Client, error)
	String() string
}

type embeddedBinding struct {
	endpoint *Endpoint
}

// NewEmbeddedBinding connects to an endpoint hosted in this process.
func NewEmbeddedBinding(ep *Endpoint) Binding {
	return &embeddedBinding{endpoint: ep}
}

func (b *embeddedBinding) Mode() types.ExecutionMode { return types.ExecutionEmbedded }

func (b *embeddedBinding) Dial(context.Context) (*rpc.Client, error) {
	return b.endpoint.DialInProc(), nil
}

func (b *embeddedBinding) String() string { return "inproc" }

type remoteBinding struct {
	addr Address
}

// NewRemoteBinding connects over websocket to the endpoint at addr.
func NewRemoteBinding(addr Address) Binding {
	return &remoteBinding{addr: addr}
}

func (b *remoteBinding) Mode() types.ExecutionMode { return types.ExecutionRemote }

func (b *remoteBinding) Dial(ctx context.Context) (*rpc.Client, error) {
	client, err := rpc.DialContext(ctx, b.addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", b.addr, err)
	}
	return client, nil
}

func (b *remoteBinding) String() string { return b.addr.String() }

// NewBinding selects the binding for mode. Embedded mode needs ep.
func NewBinding(mode types.ExecutionMode, ep *Endpoint, addr Address) (Binding, error) {
	switch mode {
	case types.ExecutionEmbedded:
		if ep == nil {
			return nil, errors.New("embedded mode needs an in-process endpoint")
		}
		return NewEmbeddedBinding(ep), nil
	case types.ExecutionRemote:
		return NewRemoteBinding(addr), nil
	default:
		return nil, fmt.Errorf("unknown execution mode %q", mode)
	}
}

// RequireNamespaces checks that the endpoint behind client serves every
// namespace in names.
func RequireNamespaces(client *rpc.Client, names ...string) error {
	modules, err := client.SupportedModules()
	if err != nil {
		return fmt.Errorf("failed to list endpoint namespaces: %w", err)
	}
	for _, n := range names {
		if _, ok := modules[n]; !ok {
			return fmt.Errorf("endpoint does not serve %s", n)
		}
	}
	return nil
}
