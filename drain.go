package glitch

import (
	"fmt"
	"time"
)

const (
	// drainQuiet is how long the line has to stay silent before a drain
	// ends. One byte at 9600 baud takes just over a millisecond.
	drainQuiet = 10 * time.Millisecond
	drainMax   = 250 * time.Millisecond
)

// drain reads and returns whatever the device sends until the line has been
// quiet for quiet, or max has elapsed. The caller restores the port's read
// timeout.
func drain(port Port, quiet, max time.Duration) ([]byte, error) {
	if err := port.SetReadTimeout(quiet); err != nil {
		return nil, fmt.Errorf("setting drain timeout: %w", err)
	}

	var junk []byte
	bs := make([]byte, 8)
	deadline := time.Now().Add(max)

	for time.Now().Before(deadline) {
		n, err := port.Read(bs)
		if err != nil {
			return junk, fmt.Errorf("reading from serial port: %w", err)
		}
		if n == 0 {
			break
		}
		junk = append(junk, bs[:n]...)
	}

	return junk, nil
}
