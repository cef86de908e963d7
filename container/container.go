// Package container installs deployment archives into a target runtime and
// tracks their lifecycle.
package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/infra/op-harness/archive"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// State is the lifecycle state of an installed bundle.
type State string

const (
	StateInstalled   State = "INSTALLED"
	StateResolved    State = "RESOLVED"
	StateStarting    State = "STARTING"
	StateActive      State = "ACTIVE"
	StateStopping    State = "STOPPING"
	StateUninstalled State = "UNINSTALLED"
)

// Handle identifies an installed bundle.
type Handle struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (h Handle) String() string {
	return fmt.Sprintf("%s[%d]", h.Name, h.ID)
}

// Container is the set of operations both the embedded and the remote
// backends provide.
type Container interface {
	Install(ctx context.Context, a *archive.Archive) (Handle, error)
	Resolve(ctx context.Context, h Handle) error
	Start(ctx context.Context, h Handle) error
	Stop(ctx context.Context, h Handle) error
	Uninstall(ctx context.Context, h Handle) error
	// State returns StateUninstalled for handles the container does not know.
	State(ctx context.Context, h Handle) (State, error)
	// IsInstalled reports whether a bundle with this symbolic name is installed.
	IsInstalled(ctx context.Context, symbolicName string) (bool, error)
}

var ErrUnknownBundle = errors.New("unknown bundle")

// New returns the backend for mode: the framework itself when embedded, or a
// client of the framework served at the other end of client when remote.
func New(mode types.ExecutionMode, fw *Framework, client *rpc.Client) (Container, error) {
	switch mode {
	case types.ExecutionEmbedded:
		if fw == nil {
			return nil, errors.New("embedded container needs a framework")
		}
		return fw, nil
	case types.ExecutionRemote:
		if client == nil {
			return nil, errors.New("remote container needs an rpc client")
		}
		return NewRemote(client), nil
	default:
		return nil, fmt.Errorf("unknown execution mode %q", mode)
	}
}
