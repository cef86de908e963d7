package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

func newRunner(t *testing.T, timeout time.Duration) *TestRunner {
	t.Helper()
	r, err := NewTestRunner(Config{
		Log:             testlog.Logger(t, log.LevelInfo),
		Loader:          spi.NewCatalog(),
		ResourceTimeout: timeout,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

type resourceReply struct {
	data []byte
	err  error
}

// requestAsync issues a resource request and returns the command it emitted.
func requestAsync(t *testing.T, r *TestRunner, ctx context.Context) (*types.RequestedCommand, <-chan resourceReply) {
	t.Helper()
	ch := make(chan Notification, 1)
	sub := r.Subscribe(ch)
	t.Cleanup(sub.Unsubscribe)

	replies := make(chan resourceReply, 1)
	go func() {
		data, err := r.RequestResource(ctx, "sample.Test", "extra.jar")
		replies <- resourceReply{data: data, err: err}
	}()

	select {
	case n := <-ch:
		require.Equal(t, RequestCommandType, n.Type)
		require.Equal(t, r.ServerID(), n.Source)
		cmd, err := types.DecodeCommand(n.UserData)
		require.NoError(t, err)
		require.Equal(t, types.CommandResource, cmd.Command)
		require.Equal(t, []string{"extra.jar"}, cmd.Arguments)
		return cmd, replies
	case <-time.After(5 * time.Second):
		t.Fatal("no notification emitted")
		return nil, nil
	}
}

func TestRequestResourceDelivered(t *testing.T) {
	r := newRunner(t, 10*time.Second)
	cmd, replies := requestAsync(t, r, context.Background())

	assert.True(t, r.CommandResult(cmd.ID, []byte("payload")))
	reply := <-replies
	require.NoError(t, reply.err)
	assert.Equal(t, []byte("payload"), reply.data)
	assert.Equal(t, 0, r.PendingCount())
}

func TestCommandResultDeliversAtMostOnce(t *testing.T) {
	r := newRunner(t, 10*time.Second)
	cmd, replies := requestAsync(t, r, context.Background())

	assert.True(t, r.CommandResult(cmd.ID, []byte("first")))
	// The first delivery takes the slot.
	assert.Equal(t, 0, r.PendingCount())
	assert.False(t, r.CommandResult(cmd.ID, []byte("second")))

	reply := <-replies
	require.NoError(t, reply.err)
	assert.Equal(t, []byte("first"), reply.data)

	// The slot is gone once the waiter returned.
	assert.False(t, r.CommandResult(cmd.ID, []byte("third")))
}

func TestRequestResourceTimeout(t *testing.T) {
	timeout := 100 * time.Millisecond
	r := newRunner(t, timeout)

	start := time.Now()
	data, err := r.RequestResource(context.Background(), "sample.Test", "extra.jar")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
	assert.Equal(t, 0, r.PendingCount())
}

func TestLateDeliveryIsNoop(t *testing.T) {
	r := newRunner(t, 50*time.Millisecond)
	cmd, replies := requestAsync(t, r, context.Background())

	reply := <-replies
	require.NoError(t, reply.err)
	assert.Nil(t, reply.data)

	assert.False(t, r.CommandResult(cmd.ID, []byte("late")))
	assert.Equal(t, 0, r.PendingCount())
}

func TestRequestResourceStalledListener(t *testing.T) {
	timeout := 100 * time.Millisecond
	r := newRunner(t, timeout)

	// Nobody reads this channel, so the notification can never be handed over.
	stalled := make(chan Notification)
	sub := r.Subscribe(stalled)
	defer sub.Unsubscribe()

	replies := make(chan resourceReply, 1)
	go func() {
		data, err := r.RequestResource(context.Background(), "sample.Test", "extra.jar")
		replies <- resourceReply{data: data, err: err}
	}()

	select {
	case reply := <-replies:
		require.NoError(t, reply.err)
		assert.Nil(t, reply.data)
	case <-time.After(5 * time.Second):
		t.Fatal("resource request blocked past its timeout by a stalled listener")
	}
	assert.Equal(t, 0, r.PendingCount())
}

func TestRequestResourceCanceled(t *testing.T) {
	r := newRunner(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	_, replies := requestAsync(t, r, ctx)
	cancel()

	reply := <-replies
	require.ErrorIs(t, reply.err, context.Canceled)
	assert.Equal(t, 0, r.PendingCount())
}

func TestConcurrentRequestsAreIndependent(t *testing.T) {
	r := newRunner(t, 10*time.Second)
	ch := make(chan Notification, 16)
	sub := r.Subscribe(ch)
	defer sub.Unsubscribe()

	const n = 8
	var wg sync.WaitGroup
	results := make(chan []byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := r.RequestResource(context.Background(), "sample.Test", "extra.jar")
			assert.NoError(t, err)
			results <- data
		}()
	}

	// Answer in reverse order of arrival.
	cmds := make([]*types.RequestedCommand, 0, n)
	for len(cmds) < n {
		cmd, err := types.DecodeCommand((<-ch).UserData)
		require.NoError(t, err)
		cmds = append(cmds, cmd)
	}
	for i := len(cmds) - 1; i >= 0; i-- {
		require.True(t, r.CommandResult(cmds[i].ID, []byte{byte(cmds[i].ID)}))
	}
	wg.Wait()
	close(results)

	seen := make(map[byte]struct{})
	for data := range results {
		require.Len(t, data, 1)
		seen[data[0]] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Equal(t, 0, r.PendingCount())
}

func TestCommandResultUnknownID(t *testing.T) {
	r := newRunner(t, time.Second)
	assert.False(t, r.CommandResult(-1, []byte("x")))
}
