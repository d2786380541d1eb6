package glitch

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable matches every TransportError. The client that
	// returned it should be closed and reopened.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrNoResponse means the device did not answer inside the settle window.
	ErrNoResponse = errors.New("no response from device")

	ErrDeviceNotFound = errors.New("device not found")
)

// TransportError wraps a failure of the underlying serial line.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransportUnavailable
}

// MalformedResponseError reports a reply of the wrong length. The client
// treats it the same as ErrNoResponse.
type MalformedResponseError struct {
	Op   Opcode
	Want int
	Got  int
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: expected %d bytes, got %d", e.Op, e.Want, e.Got)
}

// MismatchError lists the registers whose read-back value did not match a
// profile.
type MismatchError struct {
	Params []ParamMismatch
}

type ParamMismatch struct {
	Param    Param
	Want     uint32
	Got      uint32
	Answered bool
}

func (e *MismatchError) Error() string {
	msg := "profile mismatch:"
	for _, m := range e.Params {
		if !m.Answered {
			msg += fmt.Sprintf(" %s=0x%08X (no answer)", m.Param, m.Want)
			continue
		}
		msg += fmt.Sprintf(" %s=0x%08X (device 0x%08X)", m.Param, m.Want, m.Got)
	}
	return msg
}
