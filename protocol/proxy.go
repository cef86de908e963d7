package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/infra/op-harness/types"
)

// RunnerProxy calls a TestRunner over an rpc client.
type RunnerProxy struct {
	client *rpc.Client
}

// NewRunnerProxy creates a RunnerProxy over client
func NewRunnerProxy(client *rpc.Client) *RunnerProxy {
	return &RunnerProxy{client: client}
}

// RunTestMethod runs a method and decodes its JSON result
func (p *RunnerProxy) RunTestMethod(ctx context.Context, className, methodName string, props map[string]string) (*types.TestResult, error) {
	var result *types.TestResult
	if err := p.client.CallContext(ctx, &result, Namespace+"_runTestMethod", className, methodName, props); err != nil {
		return nil, fmt.Errorf("runTestMethod %s.%s: %w", className, methodName, err)
	}
	if result == nil {
		return nil, errors.New("runner returned no result")
	}
	return result, nil
}

// RunTestMethodEmbedded runs a method and decodes its encoded result
func (p *RunnerProxy) RunTestMethodEmbedded(ctx context.Context, className, methodName string, props map[string]string) (*types.TestResult, error) {
	var data hexutil.Bytes
	if err := p.client.CallContext(ctx, &data, Namespace+"_runTestMethodEmbedded", className, methodName, props); err != nil {
		return nil, fmt.Errorf("runTestMethodEmbedded %s.%s: %w", className, methodName, err)
	}
	return types.DecodeResult(data)
}

// CommandResult sends the answer to command id
func (p *RunnerProxy) CommandResult(ctx context.Context, id int64, data []byte) error {
	return p.client.CallContext(ctx, nil, Namespace+"_commandResult", id, hexutil.Bytes(data))
}

// SubscribeCommands registers ch on the runner's event channel. The returned
// subscription is live when this returns.
func (p *RunnerProxy) SubscribeCommands(ctx context.Context, ch chan<- Notification) (*rpc.ClientSubscription, error) {
	return p.client.Subscribe(ctx, Namespace, ch, requestCommandSubscription)
}
