package protocol

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/infra/op-harness/types"
)

const notificationBuffer = 64

// runnerAPI is the wire surface of a TestRunner. RequestResource is kept off
// the wire: only code running in the target may call it.
type runnerAPI struct {
	r *TestRunner
}

// API returns the rpc API serving r under Namespace.
func (r *TestRunner) API() rpc.API {
	return rpc.API{
		Namespace: Namespace,
		Service:   &runnerAPI{r: r},
	}
}

func (a *runnerAPI) RunTestMethod(ctx context.Context, className, methodName string, props map[string]string) *types.TestResult {
	return a.r.RunTestMethod(ctx, className, methodName, props)
}

func (a *runnerAPI) RunTestMethodEmbedded(ctx context.Context, className, methodName string, props map[string]string) (hexutil.Bytes, error) {
	return a.r.RunTestMethodEmbedded(ctx, className, methodName, props)
}

func (a *runnerAPI) CommandResult(id int64, data hexutil.Bytes) {
	a.r.CommandResult(id, data)
}

// RequestCommand opens the event channel. Each subscriber receives every
// notification emitted after the subscription is created.
func (a *runnerAPI) RequestCommand(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}

	rpcSub := notifier.CreateSubscription()
	ch := make(chan Notification, notificationBuffer)
	feedSub := a.r.Subscribe(ch)
	a.r.listeners.Add(1)

	go func() {
		defer a.r.listeners.Add(-1)
		defer feedSub.Unsubscribe()
		for {
			select {
			case n := <-ch:
				if err := notifier.Notify(rpcSub.ID, n); err != nil {
					a.r.log.Warn("failed to notify listener", "sub", rpcSub.ID, "err", err)
				}
			case <-rpcSub.Err():
				return
			case <-feedSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}
