package types

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCoreDeterministic,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor dec mode: %v", err))
	}
}

// EncodeResult marshals a result for the byte-stream transport.
func EncodeResult(r *TestResult) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot encode nil test result")
	}
	b, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode test result: %w", err)
	}
	return b, nil
}

// DecodeResult unmarshals a result produced by EncodeResult
func DecodeResult(data []byte) (*TestResult, error) {
	var r TestResult
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode test result: %w", err)
	}
	return &r, nil
}

// EncodeCommand marshals a command into notification user data.
func EncodeCommand(c *RequestedCommand) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot encode nil command")
	}
	b, err := encMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	return b, nil
}

// DecodeCommand unmarshals a command produced by EncodeCommand
func DecodeCommand(data []byte) (*RequestedCommand, error) {
	var c RequestedCommand
	if err := decMode.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	return &c, nil
}
