package glitch_test

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"go.tigermatt.uk/glitch"
	"go.tigermatt.uk/glitch/sim"
)

func newClient(t *testing.T, port *sim.Port, opts ...glitch.Option) *glitch.Client {
	t.Helper()

	c, err := glitch.New(port, append([]glitch.Option{glitch.WithSettle(20 * time.Millisecond)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func simClient(t *testing.T, opts ...glitch.Option) (*glitch.Client, *sim.Device, *sim.Port) {
	t.Helper()
	return simClientFor(t, sim.NewDevice(), opts...)
}

func simClientFor(t *testing.T, dev *sim.Device, opts ...glitch.Option) (*glitch.Client, *sim.Device, *sim.Port) {
	t.Helper()

	port := sim.NewPort(dev)
	return newClient(t, port, opts...), dev, port
}

// replyWith answers every frame with a fixed reply.
func replyWith(bs ...byte) func([]byte) []byte {
	return func([]byte) []byte { return append([]byte(nil), bs...) }
}

func TestNewResetsPort(t *testing.T) {
	port := sim.NewPort(sim.NewDevice())
	port.Inject([]byte{0x42, 0x42})

	newClient(t, port)

	if n := port.Buffered(); n != 0 {
		t.Errorf("%d stale bytes left after New", n)
	}
	if d := port.ReadTimeout(); d != glitch.DefaultReadTimeout {
		t.Errorf("read timeout = %s, want %s", d, glitch.DefaultReadTimeout)
	}
}

func TestNewFailureClosesPort(t *testing.T) {
	cause := errors.New("device gone")
	port := sim.NewPort(sim.NewDevice())
	port.ResetErr = cause

	_, err := glitch.New(port)
	if !errors.Is(err, glitch.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error does not wrap cause: %v", err)
	}
	if !port.Closed() {
		t.Error("port left open after failed setup")
	}
}

func TestNewNilPort(t *testing.T) {
	_, err := glitch.New(nil)
	if !errors.Is(err, glitch.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestSetFrames(t *testing.T) {
	c, dev, port := simClient(t)

	if err := c.SetOffset(0x12345678); err != nil {
		t.Fatal(err)
	}
	if err := c.SetWidth(0x1FFEEDD88); err != nil {
		t.Fatal(err)
	}
	if err := c.SetRepeat(3); err != nil {
		t.Fatal(err)
	}

	expected := [][]byte{
		{0xA0, 0x12, 0x34, 0x56, 0x78},
		{0xA1, 0xFF, 0xEE, 0xDD, 0x88},
		{0xA2, 0x00, 0x00, 0x00, 0x03},
	}
	written := port.Written()
	if len(written) != len(expected) {
		t.Fatalf("got %d writes, want %d", len(written), len(expected))
	}
	for i := range expected {
		if !bytes.Equal(written[i], expected[i]) {
			t.Errorf("write %d = % 02X, want % 02X", i, written[i], expected[i])
		}
	}

	if v := dev.Register(glitch.Width); v != 0xFFEEDD88 {
		t.Errorf("device width = 0x%08X", v)
	}
}

func TestControlFrames(t *testing.T) {
	c, _, port := simClient(t)

	for _, f := range []func() error{c.Arm, c.Disarm, c.Trigger} {
		if err := f(); err != nil {
			t.Fatal(err)
		}
	}

	written := port.Written()
	expected := []byte{0x01, 0x02, 0x04}
	if len(written) != len(expected) {
		t.Fatalf("got %d writes, want %d", len(written), len(expected))
	}
	for i, b := range expected {
		if !bytes.Equal(written[i], []byte{b}) {
			t.Errorf("write %d = % 02X, want %02X", i, written[i], b)
		}
	}
}

func TestTriggerSequence(t *testing.T) {
	c, dev, _ := simClient(t)

	steps := []func() error{
		func() error { return c.SetRepeat(1) },
		func() error { return c.SetOffset(1) },
		func() error { return c.SetWidth(4000) },
		c.Trigger,
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	if triggers, pulses := dev.Triggers(); triggers != 1 || pulses != 1 {
		t.Errorf("triggers = %d, pulses = %d", triggers, pulses)
	}
	if v := dev.Register(glitch.Width); v != 4000 {
		t.Errorf("width = %d", v)
	}
}

func TestGetEcho(t *testing.T) {
	tests := []struct {
		param glitch.Param
		value uint32
	}{
		{glitch.Width, 0xFFEEDD88},
		{glitch.Offset, 0x12345678},
		{glitch.Repeat, 0xABCDEF12},
	}

	for _, tt := range tests {
		t.Run(tt.param.String(), func(t *testing.T) {
			c, _, _ := simClient(t)

			if err := c.Set(tt.param, uint64(tt.value)); err != nil {
				t.Fatal(err)
			}
			got, ok, err := c.Get(tt.param)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("no value received")
			}
			if got != tt.value {
				t.Errorf("Get() = 0x%08X, want 0x%08X", got, tt.value)
			}
		})
	}
}

func TestGetWidthNamed(t *testing.T) {
	c, _, _ := simClient(t)

	if err := c.SetWidth(0xFFEEDD88); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.GetWidth()
	if err != nil || !ok || got != 0xFFEEDD88 {
		t.Errorf("GetWidth() = 0x%08X, %v, %v", got, ok, err)
	}

	if _, ok, err := c.GetOffset(); err != nil || !ok {
		t.Errorf("GetOffset() = %v, %v", ok, err)
	}
	if _, ok, err := c.GetRepeat(); err != nil || !ok {
		t.Errorf("GetRepeat() = %v, %v", ok, err)
	}
}

func TestGetShortReply(t *testing.T) {
	for n := 0; n < 4; n++ {
		dev := sim.NewDevice()
		dev.Write(glitch.EncodeSet(glitch.OpSetWidth, 0xFFEEDD88))
		if n == 0 {
			dev.Silent = true
		} else {
			dev.Truncate = n
		}

		port := sim.NewPort(dev)
		c := newClient(t, port)

		v, ok, err := c.GetWidth()
		if err != nil {
			t.Fatalf("%d bytes: unexpected error %v", n, err)
		}
		if ok {
			t.Errorf("%d bytes: got value 0x%08X, want none", n, v)
		}
		if v != 0 {
			t.Errorf("%d bytes: partial value 0x%08X", n, v)
		}
	}
}

func TestGetChunkedReply(t *testing.T) {
	dev := sim.NewDevice()
	port := sim.NewPort(dev)
	port.Chunk = 1
	c := newClient(t, port)

	if err := c.SetOffset(0xCAFEBABE); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.GetOffset()
	if err != nil || !ok || got != 0xCAFEBABE {
		t.Errorf("GetOffset() = 0x%08X, %v, %v", got, ok, err)
	}
}

func TestGetDiscardsExcess(t *testing.T) {
	dev := sim.NewDevice()
	dev.Trailer = []byte{0xDE, 0xAD}
	port := sim.NewPort(dev)
	c := newClient(t, port)

	if err := c.SetRepeat(7); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.GetRepeat()
	if err != nil || !ok || got != 7 {
		t.Fatalf("GetRepeat() = %d, %v, %v", got, ok, err)
	}
	if n := port.Buffered(); n != 0 {
		t.Errorf("%d excess bytes left buffered", n)
	}

	// The next transaction must not see the trailer.
	got, ok, err = c.GetRepeat()
	if err != nil || !ok || got != 7 {
		t.Errorf("second GetRepeat() = %d, %v, %v", got, ok, err)
	}
}

func TestGetIgnoresStaleBytes(t *testing.T) {
	c, _, port := simClient(t)

	if err := c.SetWidth(0x01020304); err != nil {
		t.Fatal(err)
	}
	port.Inject([]byte{0xAA, 0xBB, 0xCC})

	got, ok, err := c.GetWidth()
	if err != nil || !ok || got != 0x01020304 {
		t.Errorf("GetWidth() = 0x%08X, %v, %v", got, ok, err)
	}
}

func TestGetRestoresReadTimeout(t *testing.T) {
	c, _, port := simClient(t, glitch.WithReadTimeout(2*time.Second))

	if _, _, err := c.GetOffset(); err != nil {
		t.Fatal(err)
	}
	if d := port.ReadTimeout(); d != 2*time.Second {
		t.Errorf("read timeout = %s after get", d)
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		name     string
		reply    []byte
		expected bool
	}{
		{name: "ack", reply: []byte{0x42}, expected: true},
		{name: "no reply", reply: nil, expected: false},
		{name: "wrong byte", reply: []byte{0x43}, expected: false},
		{name: "zero byte", reply: []byte{0x00}, expected: false},
		{name: "ack with trailing bytes", reply: []byte{0x42, 0x00, 0x13}, expected: true},
		{name: "ack not first", reply: []byte{0x00, 0x42}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := sim.NewPort(nil)
			port.Respond = replyWith(tt.reply...)
			c := newClient(t, port)

			ok, err := c.Ping()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.expected {
				t.Errorf("Ping() = %v, want %v", ok, tt.expected)
			}
			if n := port.Buffered(); n != 0 {
				t.Errorf("%d bytes left buffered", n)
			}

			written := port.Written()
			if len(written) != 1 || !bytes.Equal(written[0], []byte{0xC0}) {
				t.Errorf("written = % 02X", written)
			}
		})
	}
}

func TestIsArmedReply(t *testing.T) {
	tests := []struct {
		name     string
		reply    []byte
		expected bool
	}{
		{name: "armed", reply: []byte{0xF1}, expected: true},
		{name: "disarmed", reply: []byte{0x00}, expected: false},
		{name: "no reply", reply: nil, expected: false},
		{name: "ping ack is not armed", reply: []byte{0x42}, expected: false},
		{name: "near miss", reply: []byte{0xF0}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := sim.NewPort(nil)
			port.Respond = replyWith(tt.reply...)
			c := newClient(t, port)

			armed, err := c.IsArmed()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if armed != tt.expected {
				t.Errorf("IsArmed() = %v, want %v", armed, tt.expected)
			}
		})
	}
}

func TestArmDisarm(t *testing.T) {
	c, dev, _ := simClient(t)

	if err := c.Arm(); err != nil {
		t.Fatal(err)
	}
	armed, err := c.IsArmed()
	if err != nil || !armed {
		t.Fatalf("IsArmed() after Arm = %v, %v", armed, err)
	}
	if !dev.Armed() {
		t.Error("device not armed")
	}

	if err := c.Disarm(); err != nil {
		t.Fatal(err)
	}
	armed, err = c.IsArmed()
	if err != nil || armed {
		t.Fatalf("IsArmed() after Disarm = %v, %v", armed, err)
	}
}

func TestTransportErrors(t *testing.T) {
	cause := errors.New("i/o error")

	tests := []struct {
		name  string
		setup func(*sim.Port)
		call  func(*glitch.Client) error
	}{
		{
			name:  "set write",
			setup: func(p *sim.Port) { p.WriteErr = cause },
			call:  func(c *glitch.Client) error { return c.SetOffset(1) },
		},
		{
			name:  "trigger write",
			setup: func(p *sim.Port) { p.WriteErr = cause },
			call:  func(c *glitch.Client) error { return c.Trigger() },
		},
		{
			name:  "get read",
			setup: func(p *sim.Port) { p.ReadErr = cause },
			call: func(c *glitch.Client) error {
				_, _, err := c.GetOffset()
				return err
			},
		},
		{
			name:  "ping read",
			setup: func(p *sim.Port) { p.ReadErr = cause },
			call: func(c *glitch.Client) error {
				_, err := c.Ping()
				return err
			},
		},
		{
			name:  "is armed reset",
			setup: func(p *sim.Port) { p.ResetErr = cause },
			call: func(c *glitch.Client) error {
				_, err := c.IsArmed()
				return err
			},
		},
		{
			name:  "get timeout",
			setup: func(p *sim.Port) { p.TimeoutErr = cause },
			call: func(c *glitch.Client) error {
				_, _, err := c.GetWidth()
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := sim.NewPort(sim.NewDevice())
			c := newClient(t, port)
			tt.setup(port)

			err := tt.call(c)
			if !errors.Is(err, glitch.ErrTransportUnavailable) {
				t.Fatalf("expected ErrTransportUnavailable, got %v", err)
			}
			if !errors.Is(err, cause) {
				t.Errorf("error does not wrap cause: %v", err)
			}
		})
	}
}

func TestClosedClient(t *testing.T) {
	port := sim.NewPort(sim.NewDevice())
	c, err := glitch.New(port)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if err := c.Arm(); !errors.Is(err, sim.ErrClosed) {
		t.Errorf("Arm() after Close = %v", err)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	c, _, _ := simClient(t, glitch.WithLogger(log.New(&buf, "", 0)))

	if err := c.SetWidth(0xFFEEDD88); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.GetWidth(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"> SET_WIDTH A1 FF EE DD 88", "< GET_WIDTH FF EE DD 88", "GET_WIDTH = 0xFFEEDD88"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestInvalidParam(t *testing.T) {
	c, _, port := simClient(t)

	if err := c.Set(glitch.Param(9), 1); err == nil {
		t.Error("Set accepted unknown parameter")
	}
	if _, _, err := c.Get(glitch.Param(-1)); err == nil {
		t.Error("Get accepted unknown parameter")
	}
	if n := len(port.Written()); n != 0 {
		t.Errorf("%d frames written for unknown parameters", n)
	}
}

func TestSlowReply(t *testing.T) {
	const settle = 100 * time.Millisecond

	calls := []struct {
		name string
		call func(*glitch.Client) (bool, error)
	}{
		{
			name: "get",
			call: func(c *glitch.Client) (bool, error) {
				v, ok, err := c.GetWidth()
				if ok && v != 0xFFEEDD88 {
					return false, fmt.Errorf("GetWidth() = 0x%08X", v)
				}
				return ok, err
			},
		},
		{name: "ping", call: (*glitch.Client).Ping},
		{name: "is armed", call: (*glitch.Client).IsArmed},
	}

	tests := []struct {
		name     string
		latency  time.Duration
		expected bool
	}{
		{name: "prompt", latency: 5 * time.Millisecond, expected: true},
		{name: "inside window", latency: 50 * time.Millisecond, expected: true},
		{name: "after window", latency: 300 * time.Millisecond, expected: false},
	}

	for _, tt := range tests {
		for _, call := range calls {
			t.Run(tt.name+"/"+call.name, func(t *testing.T) {
				dev := sim.NewDevice()
				dev.Write(glitch.EncodeSet(glitch.OpSetWidth, 0xFFEEDD88))
				dev.Write(glitch.EncodeCommand(glitch.OpArm))

				port := sim.NewPort(dev)
				port.Latency = tt.latency
				c := newClient(t, port, glitch.WithSettle(settle))

				start := time.Now()
				ok, err := call.call(c)
				elapsed := time.Since(start)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if ok != tt.expected {
					t.Errorf("answered = %v, want %v", ok, tt.expected)
				}
				if !tt.expected && elapsed >= tt.latency {
					t.Errorf("waited %s, longer than the %s reply window", elapsed, settle)
				}
			})
		}
	}
}
