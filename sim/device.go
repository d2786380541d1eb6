// Package sim emulates the glitch device so the host side can be exercised
// without hardware.
package sim

import (
	"sync"

	"go.tigermatt.uk/glitch"
)

// Device is the device side of the protocol. It reassembles frames from an
// arbitrary split of the byte stream, so it can sit behind either an
// in-memory Port or a real serial line.
type Device struct {
	// Silent drops all replies, as if the device were unplugged from the
	// reply line.
	Silent bool

	// Truncate, if non-zero, cuts every reply down to that many bytes.
	Truncate int

	// Trailer is appended to every non-empty reply.
	Trailer []byte

	mu       sync.Mutex
	regs     [3]uint32
	armed    bool
	triggers int
	fired    int
	pending  []byte
	unknown  int
}

func NewDevice() *Device {
	return &Device{}
}

// Write feeds bytes from the host into the device and returns the replies
// for every frame that is now complete.
func (d *Device) Write(p []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, p...)

	var out []byte
	for len(d.pending) > 0 {
		op := glitch.Opcode(d.pending[0])
		n, ok := glitch.RequestLen(op)
		if !ok {
			// The real device ignores bytes it can't decode.
			d.unknown++
			d.pending = d.pending[1:]
			continue
		}
		if len(d.pending) < n {
			break
		}

		frame := d.pending[:n]
		d.pending = d.pending[n:]
		out = append(out, d.reply(d.handle(op, frame))...)
	}
	return out
}

func (d *Device) handle(op glitch.Opcode, frame []byte) []byte {
	switch op {
	case glitch.OpSetOffset:
		d.regs[glitch.Offset] = be32(frame[1:])
	case glitch.OpSetWidth:
		d.regs[glitch.Width] = be32(frame[1:])
	case glitch.OpSetRepeat:
		d.regs[glitch.Repeat] = be32(frame[1:])
	case glitch.OpGetOffset:
		return put32(d.regs[glitch.Offset])
	case glitch.OpGetWidth:
		return put32(d.regs[glitch.Width])
	case glitch.OpGetRepeat:
		return put32(d.regs[glitch.Repeat])
	case glitch.OpPing:
		return []byte{glitch.PingAck}
	case glitch.OpArm:
		d.armed = true
	case glitch.OpDisarm:
		d.armed = false
	case glitch.OpArmState:
		if d.armed {
			return []byte{glitch.ArmedAck}
		}
		return []byte{0x00}
	case glitch.OpTrigger:
		d.triggers++
		d.fired += int(d.regs[glitch.Repeat])
	}
	return nil
}

func (d *Device) reply(bs []byte) []byte {
	if d.Silent || len(bs) == 0 {
		return nil
	}
	if d.Truncate > 0 && d.Truncate < len(bs) {
		bs = bs[:d.Truncate]
	}
	return append(bs, d.Trailer...)
}

// Register returns the current value of a timing register.
func (d *Device) Register(p glitch.Param) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[p]
}

func (d *Device) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Triggers returns how many manual triggers were received and how many
// pulses they fired in total.
func (d *Device) Triggers() (triggers, pulses int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers, d.fired
}

// Unknown returns the number of bytes dropped as undecodable.
func (d *Device) Unknown() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unknown
}

func be32(bs []byte) uint32 {
	return uint32(bs[0])<<24 | uint32(bs[1])<<16 | uint32(bs[2])<<8 | uint32(bs[3])
}

func put32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
