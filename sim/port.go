package sim

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.tigermatt.uk/glitch"
)

var ErrClosed = errors.New("port closed")

// Port is an in-memory glitch.Port wired to a Device. A Read with nothing
// buffered returns (0, nil) straight away, like a timed-out serial read,
// unless Latency is set.
type Port struct {
	Device *Device

	// Respond, if set, answers writes instead of Device.
	Respond func(frame []byte) []byte

	// Chunk limits how many bytes a single Read returns. Zero means no
	// limit.
	Chunk int

	// Latency holds each reply back for this long after the write that
	// caused it. While it is set, Read blocks up to the read timeout for
	// data, as a real serial port does.
	Latency time.Duration

	// Errors returned by the matching methods, for fault injection.
	ReadErr    error
	WriteErr   error
	ResetErr   error
	TimeoutErr error

	mu          sync.Mutex
	rx          bytes.Buffer
	inflight    []delayed
	written     [][]byte
	readTimeout time.Duration
	closed      bool
}

var _ glitch.Port = (*Port)(nil)

type delayed struct {
	at   time.Time
	data []byte
}

func NewPort(d *Device) *Port {
	return &Port{Device: d}
}

func (p *Port) Read(bs []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(p.readTimeout)
	for {
		if p.closed {
			return 0, ErrClosed
		}
		if p.ReadErr != nil {
			return 0, p.ReadErr
		}

		p.deliver(time.Now())
		if p.rx.Len() > 0 {
			break
		}
		if p.Latency <= 0 {
			return 0, nil
		}

		if !time.Now().Before(deadline) {
			return 0, nil
		}

		wake := deadline
		if len(p.inflight) > 0 && p.inflight[0].at.Before(wake) {
			wake = p.inflight[0].at
		}

		p.mu.Unlock()
		time.Sleep(time.Until(wake))
		p.mu.Lock()
	}

	if p.Chunk > 0 && len(bs) > p.Chunk {
		bs = bs[:p.Chunk]
	}
	return p.rx.Read(bs)
}

func (p *Port) Write(bs []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}

	p.written = append(p.written, append([]byte(nil), bs...))

	var reply []byte
	switch {
	case p.Respond != nil:
		reply = p.Respond(bs)
	case p.Device != nil:
		reply = p.Device.Write(bs)
	}

	switch {
	case len(reply) == 0:
	case p.Latency > 0:
		p.inflight = append(p.inflight, delayed{at: time.Now().Add(p.Latency), data: reply})
	default:
		p.rx.Write(reply)
	}
	return len(bs), nil
}

// deliver moves replies that have arrived by now into the read buffer.
func (p *Port) deliver(now time.Time) {
	for len(p.inflight) > 0 && !p.inflight[0].at.After(now) {
		p.rx.Write(p.inflight[0].data)
		p.inflight = p.inflight[1:]
	}
}

func (p *Port) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ResetErr != nil {
		return p.ResetErr
	}
	p.rx.Reset()
	return nil
}

func (p *Port) ResetOutputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ResetErr
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.TimeoutErr != nil {
		return p.TimeoutErr
	}
	p.readTimeout = t
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.closed = true
	return nil
}

// Inject queues bytes for the host to read, as if the device had sent them
// unprompted.
func (p *Port) Inject(bs []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx.Write(bs)
}

// Written returns every buffer passed to Write, one entry per call.
func (p *Port) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.written...)
}

func (p *Port) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readTimeout
}

func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Buffered returns the number of bytes waiting to be read.
func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rx.Len()
}
