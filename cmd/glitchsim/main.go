// Command glitchsim pretends to be a glitch device on a serial line, for
// exercising the host tools through a null-modem cable or a pty pair.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/tarm/serial"
	"go.tigermatt.uk/glitch/sim"
	"golang.org/x/sync/errgroup"
)

var (
	baud      = 9600
	latency   = 5 * time.Millisecond
	silent    = false
	truncate  = 0
	trailer   = []byte(nil)
	logFrames = true
)

func logIn(name string, bs []byte) {
	if logFrames {
		log.Printf("%s % 02X\n", name, bs)
	}
}

// serve feeds host bytes into dev and writes its replies back, until ctx is
// done or the line fails.
func serve(ctx context.Context, s io.ReadWriter, dev *sim.Device) error {
	bs := make([]byte, 64)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := s.Read(bs)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading from serial port: %w", err)
		}
		if n == 0 {
			continue
		}

		logIn("<", bs[:n])
		reply := dev.Write(bs[:n])
		if len(reply) == 0 {
			continue
		}

		time.Sleep(latency)

		logIn(">", reply)
		if _, err := s.Write(reply); err != nil {
			return fmt.Errorf("writing to serial port: %w", err)
		}
	}
}

func run(_ *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := serial.OpenPort(&serial.Config{
		Name:        args[0],
		Baud:        baud,
		ReadTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("opening serial: %w", err)
	}
	defer s.Close()

	dev := sim.NewDevice()
	dev.Silent = silent
	dev.Truncate = truncate
	dev.Trailer = trailer

	log.Printf("simulating glitch device on %s at %d baud", args[0], baud)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(ctx, s, dev) })
	g.Go(func() error {
		<-ctx.Done()
		triggers, pulses := dev.Triggers()
		log.Printf("stopping: %d triggers, %d pulses, %d unknown bytes", triggers, pulses, dev.Unknown())
		return nil
	})

	return g.Wait()
}

func main() {
	cmd := &cobra.Command{
		Use:   "glitchsim DEVICE",
		Short: "Simulate a glitch device on a serial port",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	cmd.Flags().IntVar(&baud, "baud", baud, "Baud rate")
	cmd.Flags().DurationVar(&latency, "latency", latency, "Delay before each reply")
	cmd.Flags().BoolVar(&silent, "silent", silent, "Never reply")
	cmd.Flags().IntVar(&truncate, "truncate", truncate, "Cut replies to this many bytes (0 = off)")
	cmd.Flags().BytesHexVar(&trailer, "trailer", trailer, "Hex bytes appended to every reply")
	cmd.Flags().BoolVar(&logFrames, "log", logFrames, "Log every frame")

	if err := cmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
