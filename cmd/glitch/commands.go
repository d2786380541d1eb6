package main

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/cobra"
	"go.tigermatt.uk/glitch"
)

var errNoAnswer = errors.New("device did not answer")

func pingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the device is alive",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			return withClient(func(c *glitch.Client) error {
				ok, err := c.Ping()
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("ping: %w", errNoAnswer)
				}
				fmt.Println("pong")
				return nil
			})
		},
	}
}

func getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [offset|width|repeat]",
		Short: "Read timing registers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			params := glitch.Params
			if len(args) == 1 {
				p, err := glitch.ParseParam(args[0])
				if err != nil {
					return err
				}
				params = []glitch.Param{p}
			}

			return withClient(func(c *glitch.Client) error {
				missing := 0
				for _, p := range params {
					v, ok, err := c.Get(p)
					if err != nil {
						return err
					}
					if !ok {
						fmt.Printf("%-6s  no value received\n", p)
						missing++
						continue
					}
					fmt.Printf("%-6s  0x%08X  %d\n", p, v, v)
				}
				if missing > 0 {
					return fmt.Errorf("get: %w for %d of %d registers", errNoAnswer, missing, len(params))
				}
				return nil
			})
		},
	}
}

func setCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set offset|width|repeat VALUE",
		Short: "Write a timing register",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := glitch.ParseParam(args[0])
			if err != nil {
				return err
			}
			v, err := parseValue(args[1])
			if err != nil {
				return err
			}

			return withClient(func(c *glitch.Client) error {
				return c.Set(p, v)
			})
		},
	}
}

// parseValue accepts decimal, 0x hex, 0o octal and 0b binary. Values wider
// than 32 bits are accepted; the device only keeps the low 32.
func parseValue(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	if v > 0xFFFFFFFF {
		log.Printf("value %s is wider than 32 bits, sending 0x%08X", s, uint32(v))
	}
	return v, nil
}

func armCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "arm",
		Short: "Arm the external trigger",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			return withClient((*glitch.Client).Arm)
		},
	}
}

func disarmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disarm",
		Short: "Disarm the external trigger",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			return withClient((*glitch.Client).Disarm)
		},
	}
}

func armedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "armed",
		Short: "Show whether the trigger is armed",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			return withClient(func(c *glitch.Client) error {
				armed, err := c.IsArmed()
				if err != nil {
					return err
				}
				fmt.Println(armedString(armed))
				return nil
			})
		},
	}
}

func armedString(armed bool) string {
	if armed {
		return "armed"
	}
	return "disarmed"
}

func triggerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Fire the pulse train now",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			return withClient((*glitch.Client).Trigger)
		},
	}
}

func pulseCommand() *cobra.Command {
	var offset, width, repeat uint32 = 1, 4000, 1
	var arm bool

	cmd := &cobra.Command{
		Use:   "pulse",
		Short: "Load offset, width and repeat, then trigger (or arm)",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			p := &glitch.Profile{Offset: &offset, Width: &width, Repeat: &repeat}
			if err := p.Validate(); err != nil {
				return err
			}

			return withClient(func(c *glitch.Client) error {
				if err := c.Apply(p); err != nil {
					return err
				}
				if arm {
					return c.Arm()
				}
				return c.Trigger()
			})
		},
	}
	cmd.Flags().Uint32Var(&offset, "offset", offset, "Delay from trigger to pulse, in device clocks")
	cmd.Flags().Uint32Var(&width, "width", width, "Pulse width, in device clocks")
	cmd.Flags().Uint32Var(&repeat, "repeat", repeat, "Number of pulses")
	cmd.Flags().BoolVar(&arm, "arm", arm, "Arm the external trigger instead of firing now")

	return cmd
}

func applyCommand() *cobra.Command {
	var verify, trigger bool

	cmd := &cobra.Command{
		Use:   "apply PROFILE",
		Short: "Load timing registers from a YAML profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := glitch.LoadProfile(args[0])
			if err != nil {
				return err
			}
			if p.Device != "" && !cmd.Flags().Changed("device") {
				devicePath = p.Device
			}

			return withClient(func(c *glitch.Client) error {
				if err := c.Apply(p); err != nil {
					return err
				}
				if verify {
					if err := c.Verify(p); err != nil {
						return err
					}
				}
				if trigger {
					return c.Trigger()
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", verify, "Read the registers back after writing")
	cmd.Flags().BoolVar(&trigger, "trigger", trigger, "Trigger once the profile is loaded")

	return cmd
}

func snapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the current registers as a profile",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			return withClient(func(c *glitch.Client) error {
				p, err := c.Snapshot()
				if err != nil {
					return err
				}
				bs, err := p.Marshal()
				if err != nil {
					return err
				}
				fmt.Print(string(bs))
				return nil
			})
		},
	}
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List serial ports",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			ports, err := glitch.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				if p.USB {
					fmt.Printf("%-20s %s:%s %s %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
					continue
				}
				fmt.Println(p.Name)
			}
			return nil
		},
	}
}
