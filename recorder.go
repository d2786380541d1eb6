package glitch

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

type Direction byte

const (
	Tx Direction = iota
	Rx
	// Discard marks bytes that arrived after a complete reply and were
	// thrown away.
	Discard
)

func (d Direction) String() string {
	switch d {
	case Tx:
		return ">"
	case Rx:
		return "<"
	case Discard:
		return "!"
	}
	return "?"
}

// Message is one recorded frame or reply.
type Message struct {
	Dir       Direction
	Op        Opcode
	Data      []byte
	Timestamp time.Time
}

// Recorder writes a gob stream of Messages to Dest.
type Recorder struct {
	Dest io.Writer

	enc  *gob.Encoder
	once sync.Once
	mu   sync.Mutex
}

func (r *Recorder) Receive(msg Message) error {
	r.init()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(msg)
}

func (r *Recorder) init() {
	r.once.Do(func() {
		r.enc = gob.NewEncoder(r.Dest)
	})
}

// ReadIn decodes a recording from r onto out, closing out when done.
func ReadIn(out chan<- Message, r io.Reader) error {
	defer close(out)

	dec := gob.NewDecoder(r)

	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("while decoding: %w", err)
		}

		out <- msg
	}
}
