package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.tigermatt.uk/glitch"
	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML file named by --config.
type fileConfig struct {
	Device      string        `yaml:"device"`
	Link        string        `yaml:"link"`
	Baud        int           `yaml:"baud"`
	Settle      time.Duration `yaml:"settle"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

var (
	configPath  = ""
	devicePath  = ""
	deviceLink  = glitch.DefaultDeviceLink
	baudRate    = glitch.DefaultBaudRate
	settle      = glitch.DefaultSettle
	readTimeout = glitch.DefaultReadTimeout
	recordPath  = ""
	verbose     = false
)

func addConnFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&configPath, "config", configPath, "YAML file with connection defaults")
	f.StringVarP(&devicePath, "device", "d", devicePath, "Serial device; overrides --link")
	f.StringVar(&deviceLink, "link", deviceLink, "by-id symlink to resolve when --device is not given")
	f.IntVar(&baudRate, "baud", baudRate, "Baud rate")
	f.DurationVar(&settle, "settle", settle, "Time to wait for a reply")
	f.DurationVar(&readTimeout, "read-timeout", readTimeout, "Idle read timeout of the port")
	f.StringVar(&recordPath, "record", recordPath, "Write a transcript of all frames to FILE")
	f.BoolVarP(&verbose, "verbose", "v", verbose, "Log every frame")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if configPath == "" {
			return nil
		}
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		applyConfig(cmd, cfg)
		return nil
	}
}

func loadConfig(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	defer f.Close()

	return parseConfig(f)
}

func parseConfig(r io.Reader) (*fileConfig, error) {
	var cfg fileConfig

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// applyConfig fills in every setting not given explicitly on the command
// line.
func applyConfig(cmd *cobra.Command, cfg *fileConfig) {
	flags := cmd.Flags()

	if cfg.Device != "" && !flags.Changed("device") {
		devicePath = cfg.Device
	}
	if cfg.Link != "" && !flags.Changed("link") {
		deviceLink = cfg.Link
	}
	if cfg.Baud > 0 && !flags.Changed("baud") {
		baudRate = cfg.Baud
	}
	if cfg.Settle > 0 && !flags.Changed("settle") {
		settle = cfg.Settle
	}
	if cfg.ReadTimeout > 0 && !flags.Changed("read-timeout") {
		readTimeout = cfg.ReadTimeout
	}
}

func resolveDevice() (string, error) {
	if devicePath != "" {
		return devicePath, nil
	}

	path, err := glitch.FindDevice(deviceLink)
	if err != nil {
		return "", fmt.Errorf("finding device (use --device to name it): %w", err)
	}
	return path, nil
}

// withClient opens the device, runs fn and closes the device again.
func withClient(fn func(*glitch.Client) error) error {
	path, err := resolveDevice()
	if err != nil {
		return err
	}

	opts := []glitch.Option{
		glitch.WithBaudRate(baudRate),
		glitch.WithSettle(settle),
		glitch.WithReadTimeout(readTimeout),
	}
	if verbose {
		opts = append(opts, glitch.WithLogger(log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)))
	}
	if recordPath != "" {
		f, err := os.OpenFile(recordPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("opening transcript: %w", err)
		}
		defer f.Close()
		opts = append(opts, glitch.WithRecorder(&glitch.Recorder{Dest: f}))
	}

	c, err := glitch.Open(path, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(c)
}
