// Command glitch drives a glitch device over its serial link.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:           "glitch",
		Short:         "Control a serial glitch device",
		Args:          cobra.ExactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addConnFlags(cmd)

	cmd.AddCommand(pingCommand())
	cmd.AddCommand(getCommand())
	cmd.AddCommand(setCommand())
	cmd.AddCommand(armCommand())
	cmd.AddCommand(disarmCommand())
	cmd.AddCommand(armedCommand())
	cmd.AddCommand(triggerCommand())
	cmd.AddCommand(pulseCommand())
	cmd.AddCommand(applyCommand())
	cmd.AddCommand(snapshotCommand())
	cmd.AddCommand(watchCommand())
	cmd.AddCommand(listCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "dump FILE",
		Short: "Print a transcript written with --record",
		Args:  cobra.ExactArgs(1),
		RunE:  dump,
	})

	if err := cmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
