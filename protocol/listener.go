package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/infra/op-harness/archive"
	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// commandListener answers the commands a runner issues on behalf of one test
// class while one of its methods is being invoked.
type commandListener struct {
	log          log.Logger
	proxy        *RunnerProxy
	class        *spi.TestClass
	loader       spi.Loader
	cache        *archive.ExportCache
	closeTimeout time.Duration

	sub    *rpc.ClientSubscription
	ch     chan Notification
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

// startCommandListener subscribes before returning, so every command emitted
// after it returns is seen.
func startCommandListener(ctx context.Context, l *commandListener) error {
	l.ch = make(chan Notification, notificationBuffer)
	sub, err := l.proxy.SubscribeCommands(ctx, l.ch)
	if err != nil {
		return fmt.Errorf("failed to register command listener for %s: %w", l.class.Name, err)
	}
	l.sub = sub
	l.ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))

	l.wg.Add(1)
	go l.loop()
	return nil
}

func (l *commandListener) loop() {
	defer l.wg.Done()
	for {
		select {
		case n := <-l.ch:
			if err := l.handle(n); err != nil {
				l.log.Error("command listener stopped", "err", err)
				metrics.RecordErrorDetails("command_listener", err)
				l.fail(err)
				return
			}
		case err := <-l.sub.Err():
			if err != nil {
				l.fail(fmt.Errorf("command subscription failed: %w", err))
			}
			return
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *commandListener) handle(n Notification) error {
	if n.Type != RequestCommandType {
		l.log.Debug("ignoring notification", "type", n.Type, "source", n.Source)
		return nil
	}
	cmd, err := types.DecodeCommand(n.UserData)
	if err != nil {
		return fmt.Errorf("cannot read requested command (seq %d): %w", n.Sequence, err)
	}
	if cmd.TestClassName != l.class.Name {
		l.log.Debug("ignoring command for another class", "cmd", cmd)
		return nil
	}

	switch cmd.Command {
	case types.CommandResource:
		name, ok := cmd.Argument(0)
		if !ok {
			l.log.Warn("resource command without a resource name", "cmd", cmd)
			return nil
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveResource(cmd, name)
		}()
	default:
		l.log.Warn("unsupported command", "cmd", cmd)
	}
	return nil
}

func (l *commandListener) serveResource(cmd *types.RequestedCommand, name string) {
	ctx := l.ctx
	if l.loader != nil {
		ctx = spi.WithLoader(ctx, l.loader)
	}

	build := func() (*archive.Archive, error) {
		return l.class.ArchiveProvider(ctx, name)
	}

	var (
		data []byte
		err  error
	)
	if l.cache != nil {
		data, err = l.cache.Export(l.class.Name+"/"+name, build)
	} else {
		data, err = exportArchive(name, build)
	}
	if err != nil {
		l.log.Error("cannot provide resource", "cmd", cmd, "err", err)
		metrics.RecordErrorDetails("provide_resource", err)
		return
	}

	if err := l.proxy.CommandResult(ctx, cmd.ID, data); err != nil {
		l.log.Error("cannot deliver command result", "cmd", cmd, "err", err)
		metrics.RecordErrorDetails("command_result", err)
		return
	}
	l.log.Debug("delivered command result", "cmd", cmd, "size", len(data))
}

func exportArchive(name string, build func() (*archive.Archive, error)) ([]byte, error) {
	a, err := build()
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("archive provider returned nothing for %s", name)
	}
	return a.ExportZip()
}

func (l *commandListener) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = errors.Join(l.err, err)
}

// close unsubscribes and waits for in-flight commands. The error reports
// listener failures and commands still running after closeTimeout.
func (l *commandListener) close() error {
	l.sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	var timeoutErr error
	select {
	case <-done:
	case <-time.After(l.closeTimeout):
		timeoutErr = fmt.Errorf("command listener for %s still busy after %s", l.class.Name, l.closeTimeout)
	}
	l.cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	return errors.Join(l.err, timeoutErr)
}
