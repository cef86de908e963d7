package protocol

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
)

// pendingCommands maps command ids to single-use result slots.
type pendingCommands struct {
	slots sync.Map // int64 -> chan []byte
	count atomic.Int64
}

func (p *pendingCommands) add(id int64) <-chan []byte {
	slot := make(chan []byte, 1)
	if _, loaded := p.slots.LoadOrStore(id, slot); loaded {
		// Ids come from a process-wide counter and are never reused.
		panic("duplicate pending command id")
	}
	p.count.Add(1)
	metrics.IncPendingCommands()
	return slot
}

// remove drops the slot of id if it is still pending. It is safe to call
// after deliver.
func (p *pendingCommands) remove(id int64) {
	if _, loaded := p.slots.LoadAndDelete(id); loaded {
		p.count.Add(-1)
		metrics.DecPendingCommands()
	}
}

// deliver takes the slot of id and hands data to it. The slot is removed on
// the first delivery, so later deliveries for the same id report false.
func (p *pendingCommands) deliver(id int64, data []byte) bool {
	v, ok := p.slots.LoadAndDelete(id)
	if !ok {
		return false
	}
	p.count.Add(-1)
	metrics.DecPendingCommands()
	// The buffer of one always has room: only the deleting caller sends.
	v.(chan []byte) <- data
	return true
}

func (p *pendingCommands) len() int {
	return int(p.count.Load())
}
