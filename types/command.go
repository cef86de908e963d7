package types

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Command is the kind of out-of-band request a running test makes of the client.
type Command string

const (
	// CommandResource asks the client for the exported bytes of a named archive.
	CommandResource Command = "RESOURCE"
)

// commandIDs is shared by every RequestedCommand built in this process.
// Ids are never reused, so a late answer cannot land in a newer request's slot.
var commandIDs atomic.Int64

// RequestedCommand is a request for a resource, sent from the target to the client.
type RequestedCommand struct {
	ID            int64    `json:"id" cbor:"1,keyasint"`
	TestClassName string   `json:"testClassName" cbor:"2,keyasint"`
	Command       Command  `json:"command" cbor:"3,keyasint"`
	Arguments     []string `json:"arguments,omitempty" cbor:"4,keyasint,omitempty"`
}

// NewRequestedCommand creates a command with the next process-wide id
func NewRequestedCommand(testClassName string, command Command, args ...string) *RequestedCommand {
	return &RequestedCommand{
		ID:            commandIDs.Add(1),
		TestClassName: testClassName,
		Command:       command,
		Arguments:     args,
	}
}

// Equal reports whether two commands refer to the same request.
func (c *RequestedCommand) Equal(other *RequestedCommand) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.ID == other.ID
}

// Argument returns the i-th argument, or false if it was not supplied.
func (c *RequestedCommand) Argument(i int) (string, bool) {
	if i < 0 || i >= len(c.Arguments) {
		return "", false
	}
	return c.Arguments[i], true
}

func (c *RequestedCommand) String() string {
	return fmt.Sprintf("(%d) %s: %s [%s]", c.ID, c.TestClassName, c.Command, strings.Join(c.Arguments, ", "))
}
