package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.tigermatt.uk/glitch"
)

var (
	watchInterval = time.Second
	watchFailures = 0
)

func watchCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:   "watch",
		Short: "Poll liveness and arm state until interrupted",
		Args:  cobra.ExactArgs(0),
		RunE:  watch,
	}
	cmd.Flags().DurationVar(&watchInterval, "interval", watchInterval, "Time between polls")
	cmd.Flags().IntVar(&watchFailures, "max-failures", watchFailures, "Give up after this many unanswered pings in a row (0 = never)")

	return &cmd
}

func listenStop() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx
}

func watch(_ *cobra.Command, _ []string) error {
	ctx := listenStop()

	return withClient(func(c *glitch.Client) error {
		return poll(ctx, c, watchInterval, watchFailures, func(s status) {
			fmt.Println(s)
		})
	})
}

type status struct {
	At    time.Time
	Alive bool
	Armed bool
}

func (s status) String() string {
	if !s.Alive {
		return fmt.Sprintf("%s no answer", s.At.Format("15:04:05.000"))
	}
	return fmt.Sprintf("%s alive %s", s.At.Format("15:04:05.000"), armedString(s.Armed))
}

// poll reports the device state every interval until ctx is done. Only
// changes and the first sample are passed to report.
func poll(ctx context.Context, c *glitch.Client, interval time.Duration, maxFailures int, report func(status)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *status
	failures := 0

	for {
		s := status{At: time.Now()}

		alive, err := c.Ping()
		if err != nil {
			return err
		}
		s.Alive = alive

		if alive {
			failures = 0
			if s.Armed, err = c.IsArmed(); err != nil {
				return err
			}
		} else {
			failures++
		}

		if last == nil || last.Alive != s.Alive || last.Armed != s.Armed {
			report(s)
			last = &s
		}

		if maxFailures > 0 && failures >= maxFailures {
			return fmt.Errorf("watch: %w %d times in a row", errNoAnswer, failures)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
