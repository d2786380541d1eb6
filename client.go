package glitch

import (
	"errors"
	"fmt"
	"time"
)

// Client issues commands to one glitch device. Each call is a complete
// transaction: one frame written, then at most one reply read. The protocol
// has no transaction IDs, so a Client must not be used from more than one
// goroutine at a time.
type Client struct {
	port   Port
	path   string
	config Config
}

func (c *Client) Close() error {
	if err := c.port.Close(); err != nil {
		return &TransportError{Op: "close", Path: c.path, Err: err}
	}
	return nil
}

func (c *Client) SetOffset(v uint64) error { return c.Set(Offset, v) }
func (c *Client) SetWidth(v uint64) error  { return c.Set(Width, v) }
func (c *Client) SetRepeat(v uint64) error { return c.Set(Repeat, v) }

// Set writes v to a timing register. Values wider than 32 bits are masked.
// The device does not acknowledge the write.
func (c *Client) Set(p Param, v uint64) error {
	if !p.valid() {
		return fmt.Errorf("set: %w", errUnknownParam(p))
	}
	return c.send(p.setOp(), EncodeSet(p.setOp(), v))
}

func (c *Client) GetOffset() (uint32, bool, error) { return c.Get(Offset) }
func (c *Client) GetWidth() (uint32, bool, error)  { return c.Get(Width) }
func (c *Client) GetRepeat() (uint32, bool, error) { return c.Get(Repeat) }

// Get reads a timing register. ok is false when the device did not send a
// full value inside the settle window; err is only set for transport
// failures.
func (c *Client) Get(p Param) (v uint32, ok bool, err error) {
	if !p.valid() {
		return 0, false, fmt.Errorf("get: %w", errUnknownParam(p))
	}

	op := p.getOp()
	bs, err := c.exchange(op)
	if err != nil {
		return 0, false, c.noAnswer(err)
	}

	v, err = DecodeUint32(op, bs)
	if err != nil {
		return 0, false, c.noAnswer(err)
	}

	c.logf("%s = 0x%08X", op, v)
	return v, true, nil
}

// Ping reports whether the device answered with PingAck.
func (c *Client) Ping() (bool, error) {
	return c.query(OpPing, PingAck)
}

// IsArmed asks the device for its trigger state. No answer reads as
// disarmed.
func (c *Client) IsArmed() (bool, error) {
	return c.query(OpArmState, ArmedAck)
}

func (c *Client) Arm() error     { return c.send(OpArm, EncodeCommand(OpArm)) }
func (c *Client) Disarm() error  { return c.send(OpDisarm, EncodeCommand(OpDisarm)) }
func (c *Client) Trigger() error { return c.send(OpTrigger, EncodeCommand(OpTrigger)) }

func (c *Client) query(op Opcode, want byte) (bool, error) {
	bs, err := c.exchange(op)
	if err != nil {
		return false, c.noAnswer(err)
	}
	return bs[0] == want, nil
}

// send writes one frame and waits for the OS to flush it to the line.
func (c *Client) send(op Opcode, frame []byte) error {
	c.logf("> %s % 02X", op, frame)

	n, err := c.port.Write(frame)
	if n > 0 {
		c.record(Tx, op, frame[:n])
	}
	if err != nil {
		return &TransportError{Op: "write " + op.String(), Path: c.path, Err: err}
	}
	if n != len(frame) {
		return &TransportError{Op: "write " + op.String(), Path: c.path,
			Err: fmt.Errorf("short write: %d of %d bytes", n, len(frame))}
	}

	if err := c.port.Drain(); err != nil {
		return &TransportError{Op: "drain " + op.String(), Path: c.path, Err: err}
	}
	return nil
}

// exchange runs a request/reply transaction for op. It returns exactly
// ResponseLen(op) bytes, ErrNoResponse, a MalformedResponseError or a
// TransportError.
func (c *Client) exchange(op Opcode) ([]byte, error) {
	want, _ := ResponseLen(op)

	// Stale bytes would be taken for this transaction's reply.
	if err := c.port.ResetInputBuffer(); err != nil {
		return nil, &TransportError{Op: "reset input", Path: c.path, Err: err}
	}

	if err := c.send(op, EncodeCommand(op)); err != nil {
		return nil, err
	}

	bs, err := c.readReply(op, want)
	if err != nil {
		return nil, err
	}

	if err := c.discardExcess(op); err != nil {
		return nil, err
	}
	return bs, nil
}

// readReply reads up to n bytes, giving up once the settle window has
// passed. The port read timeout is restored before returning.
func (c *Client) readReply(op Opcode, n int) ([]byte, error) {
	defer c.port.SetReadTimeout(c.config.ReadTimeout)

	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(c.config.Settle)

	for got < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := c.port.SetReadTimeout(remaining); err != nil {
			return nil, &TransportError{Op: "set read timeout", Path: c.path, Err: err}
		}

		k, err := c.port.Read(buf[got:])
		got += k
		if err != nil {
			return nil, &TransportError{Op: "read " + op.String(), Path: c.path, Err: err}
		}
		if k == 0 {
			break
		}
	}

	c.logf("< %s % 02X", op, buf[:got])
	c.record(Rx, op, buf[:got])

	switch {
	case got == 0:
		return nil, ErrNoResponse
	case got < n:
		return nil, &MalformedResponseError{Op: op, Want: n, Got: got}
	}
	return buf, nil
}

func (c *Client) discardExcess(op Opcode) error {
	defer c.port.SetReadTimeout(c.config.ReadTimeout)

	junk, err := drain(c.port, drainQuiet, drainMax)
	if err != nil {
		return &TransportError{Op: "read " + op.String(), Path: c.path, Err: err}
	}
	if len(junk) > 0 {
		c.logf("discarded %d unexpected bytes after %s: % 02X", len(junk), op, junk)
		c.record(Discard, op, junk)
	}
	return nil
}

// noAnswer folds the recoverable read outcomes into a nil error.
func (c *Client) noAnswer(err error) error {
	var malformed *MalformedResponseError
	if errors.Is(err, ErrNoResponse) || errors.As(err, &malformed) {
		c.logf("%s", err)
		return nil
	}
	return err
}

func errUnknownParam(p Param) error {
	return fmt.Errorf("unknown parameter %d", int(p))
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Printf(format, args...)
	}
}

func (c *Client) record(dir Direction, op Opcode, data []byte) {
	if c.config.Recorder == nil {
		return
	}
	msg := Message{
		Dir:       dir,
		Op:        op,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
	}
	if err := c.config.Recorder.Receive(msg); err != nil {
		c.logf("recording %s: %s", op, err)
	}
}
