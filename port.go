package glitch

import (
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = time.Second
	DefaultSettle      = 100 * time.Millisecond
)

// Port is the part of a go.bug.st/serial Port the client uses. A Read that
// times out returns (0, nil).
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

var _ Port = serial.Port(nil)

type Config struct {
	// BaudRate is only used by Open.
	BaudRate int

	// ReadTimeout is the idle read timeout of the port between transactions.
	ReadTimeout time.Duration

	// Settle bounds how long a transaction waits for the device's reply.
	Settle time.Duration

	Logger   *log.Logger
	Recorder *Recorder
}

func defaultConfig() Config {
	return Config{
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultReadTimeout,
		Settle:      DefaultSettle,
	}
}

type Option func(*Config)

func WithBaudRate(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.BaudRate = baud
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReadTimeout = d
		}
	}
}

// WithSettle sets the reply window for gets, ping and the arm state query.
// A complete reply ends the wait early, but each such call then spends
// another 10ms listening for stray bytes before it returns.
func WithSettle(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Settle = d
		}
	}
}

// WithLogger enables hex dumps of every frame to l.
func WithLogger(l *log.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithRecorder records every frame written and every reply read.
func WithRecorder(r *Recorder) Option {
	return func(c *Config) {
		c.Recorder = r
	}
}

// Open opens the serial device at path as 8N1 and returns a client that owns
// it. Bytes left over from an earlier session are discarded in both
// directions before Open returns.
func Open(path string, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, &TransportError{Op: "open", Path: path, Err: err}
	}

	c, err := newClient(port, path, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}

	c.logf("connected to %s at %d baud", path, cfg.BaudRate)
	return c, nil
}

// New wraps an already open port. The client takes ownership: the port is
// closed by Client.Close, or immediately if setup fails.
func New(port Port, opts ...Option) (*Client, error) {
	if port == nil {
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("nil port")}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c, err := newClient(port, "", cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return c, nil
}

func newClient(port Port, path string, cfg Config) (*Client, error) {
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		return nil, &TransportError{Op: "set read timeout", Path: path, Err: err}
	}
	if err := port.ResetInputBuffer(); err != nil {
		return nil, &TransportError{Op: "reset input", Path: path, Err: err}
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return nil, &TransportError{Op: "reset output", Path: path, Err: err}
	}

	return &Client{
		port:   port,
		path:   path,
		config: cfg,
	}, nil
}
