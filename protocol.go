// Package glitch talks to a serial-attached glitch (fault-injection) device.
//
// Every command is a single opcode byte, optionally followed by a 32-bit
// big-endian value. Frames carry no length prefix or checksum: the length of
// both the request and the reply is implied by the opcode alone.
//
//	set  [op][b31..24][b23..16][b15..8][b7..0]   no reply
//	get  [op]                                    4 byte reply
//	ping [0xC0]                                  1 byte reply, 0x42
//	arm state [0x03]                             1 byte reply, 0xF1 when armed
package glitch

import (
	"encoding/binary"
	"fmt"
	"strings"
)

type Opcode byte

// Parameter opcodes.
const (
	OpSetOffset Opcode = 0xA0
	OpSetWidth  Opcode = 0xA1
	OpSetRepeat Opcode = 0xA2
	OpGetOffset Opcode = 0xB0
	OpGetWidth  Opcode = 0xB1
	OpGetRepeat Opcode = 0xB2
	OpPing      Opcode = 0xC0
)

// Control opcodes. These live in a separate numbering space from the
// parameter opcodes on the device.
const (
	OpArm      Opcode = 0x01
	OpDisarm   Opcode = 0x02
	OpArmState Opcode = 0x03
	OpTrigger  Opcode = 0x04
)

const (
	// PingAck is the only valid reply to OpPing.
	PingAck byte = 0x42
	// ArmedAck is the reply to OpArmState while the trigger is armed. Any
	// other byte means disarmed.
	ArmedAck byte = 0xF1
)

const valueLen = 4

var opNames = map[Opcode]string{
	OpSetOffset: "SET_OFFSET",
	OpSetWidth:  "SET_WIDTH",
	OpSetRepeat: "SET_REPEAT",
	OpGetOffset: "GET_OFFSET",
	OpGetWidth:  "GET_WIDTH",
	OpGetRepeat: "GET_REPEAT",
	OpPing:      "PING",
	OpArm:       "ARM",
	OpDisarm:    "DISARM",
	OpArmState:  "ARM_STATE",
	OpTrigger:   "TRIGGER",
}

func (op Opcode) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("OP_%02X", byte(op))
}

// RequestLen reports the full frame length for op, opcode included.
func RequestLen(op Opcode) (int, bool) {
	switch op {
	case OpSetOffset, OpSetWidth, OpSetRepeat:
		return 1 + valueLen, true
	case OpGetOffset, OpGetWidth, OpGetRepeat, OpPing,
		OpArm, OpDisarm, OpArmState, OpTrigger:
		return 1, true
	}
	return 0, false
}

// ResponseLen reports how many bytes the device answers op with.
func ResponseLen(op Opcode) (int, bool) {
	switch op {
	case OpGetOffset, OpGetWidth, OpGetRepeat:
		return valueLen, true
	case OpPing, OpArmState:
		return 1, true
	case OpSetOffset, OpSetWidth, OpSetRepeat,
		OpArm, OpDisarm, OpTrigger:
		return 0, true
	}
	return 0, false
}

// EncodeSet builds a parameter write frame. Only the low 32 bits of v are
// sent, matching the width of the device registers.
func EncodeSet(op Opcode, v uint64) []byte {
	frame := make([]byte, 1+valueLen)
	frame[0] = byte(op)
	binary.BigEndian.PutUint32(frame[1:], uint32(v&0xFFFFFFFF))
	return frame
}

// EncodeCommand builds a frame for an opcode without payload.
func EncodeCommand(op Opcode) []byte {
	return []byte{byte(op)}
}

// DecodeUint32 reassembles a 4 byte big-endian reply. Short input is never
// partially decoded.
func DecodeUint32(op Opcode, bs []byte) (uint32, error) {
	if len(bs) < valueLen {
		return 0, &MalformedResponseError{Op: op, Want: valueLen, Got: len(bs)}
	}
	return binary.BigEndian.Uint32(bs[:valueLen]), nil
}

// Param names one of the device's pulse timing registers.
type Param int

const (
	Offset Param = iota
	Width
	Repeat
)

var Params = []Param{Offset, Width, Repeat}

func (p Param) String() string {
	switch p {
	case Offset:
		return "offset"
	case Width:
		return "width"
	case Repeat:
		return "repeat"
	}
	return fmt.Sprintf("param(%d)", int(p))
}

func (p Param) setOp() Opcode {
	return [...]Opcode{OpSetOffset, OpSetWidth, OpSetRepeat}[p]
}

func (p Param) getOp() Opcode {
	return [...]Opcode{OpGetOffset, OpGetWidth, OpGetRepeat}[p]
}

func (p Param) valid() bool {
	return p >= Offset && p <= Repeat
}

// ParseParam accepts a register name, case insensitive. "repeat_count" and
// "count" are accepted for the repeat register.
func ParseParam(s string) (Param, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offset":
		return Offset, nil
	case "width":
		return Width, nil
	case "repeat", "repeat_count", "count":
		return Repeat, nil
	}
	return 0, fmt.Errorf("unknown parameter %q", s)
}
