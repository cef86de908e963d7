// Package protocol implements the test runner served inside the target and
// the method executor that drives it from the client.
package protocol

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// Namespace is the well-known name the runner is registered under.
	Namespace = "testrunner"

	// RequestCommandType tags notifications that carry a RequestedCommand.
	RequestCommandType = Namespace + ".request_command"

	requestCommandSubscription = "requestCommand"

	// DefaultResourceTimeout bounds how long a running test waits for a
	// resource from the client.
	DefaultResourceTimeout = time.Minute
)

// Notification is emitted by the runner on its event channel.
type Notification struct {
	Type     string        `json:"type"`
	Source   string        `json:"source"`
	Sequence uint64        `json:"sequence"`
	UserData hexutil.Bytes `json:"userData"`
}
