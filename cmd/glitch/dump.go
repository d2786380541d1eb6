package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.tigermatt.uk/glitch"
	"golang.org/x/sync/errgroup"
)

func dump(_ *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	defer f.Close()

	msgs := make(chan glitch.Message, 100)

	var g errgroup.Group
	g.Go(func() error { return processMsgs(os.Stdout, msgs) })
	g.Go(func() error { return glitch.ReadIn(msgs, f) })

	return g.Wait()
}

// processMsgs prints one line per recorded frame. Replies show how long the
// device took to answer the request before them.
func processMsgs(w io.Writer, msgs <-chan glitch.Message) error {
	var lastTx time.Time

	for msg := range msgs {
		latency := ""
		switch msg.Dir {
		case glitch.Tx:
			lastTx = msg.Timestamp
		case glitch.Rx:
			if !lastTx.IsZero() {
				latency = fmt.Sprintf(" (+%s)", msg.Timestamp.Sub(lastTx).Round(time.Microsecond))
			}
		}

		_, err := fmt.Fprintf(w, "%s %s %-10s % 02X%s%s\n",
			msg.Timestamp.Format("15:04:05.000"), msg.Dir, msg.Op, msg.Data, render(msg), latency)
		if err != nil {
			return err
		}
	}

	return nil
}

func render(msg glitch.Message) string {
	switch {
	case msg.Dir == glitch.Rx && len(msg.Data) == 0:
		return "  no reply"
	case msg.Dir == glitch.Rx && msg.Op == glitch.OpPing:
		return fmt.Sprintf("  ack=%t", msg.Data[0] == glitch.PingAck)
	case msg.Dir == glitch.Rx && msg.Op == glitch.OpArmState:
		return "  " + armedString(msg.Data[0] == glitch.ArmedAck)
	case msg.Dir == glitch.Rx:
		if v, err := glitch.DecodeUint32(msg.Op, msg.Data); err == nil {
			return fmt.Sprintf("  = 0x%08X", v)
		}
		return "  short reply"
	case msg.Dir == glitch.Tx && len(msg.Data) == 5:
		if v, err := glitch.DecodeUint32(msg.Op, msg.Data[1:]); err == nil {
			return fmt.Sprintf("  := 0x%08X", v)
		}
	}
	return ""
}
