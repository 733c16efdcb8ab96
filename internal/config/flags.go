package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
)

// ErrHelp is returned by ParseFlags when -h was requested.
var ErrHelp = pflag.ErrHelp

// newFlagSet builds the command line surface bound to cfg. Values already in
// cfg act as defaults.
func newFlagSet(name string, cfg *Config, output io.Writer) (*pflag.FlagSet, *modeFlags) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.SortFlags = false

	modes := &modeFlags{}
	periodMS := cfg.SampleInterval.Milliseconds()

	flagSet.StringVarP(&cfg.Output, "output", "o", cfg.Output, "output to `file` or '-' for stdout")
	flagSet.Int64VarP(&modes.periodMS, "period-ms", "s", periodMS, "refresh period in milliseconds")
	flagSet.StringVarP(&cfg.DeviceFilter, "device", "d", cfg.DeviceFilter, "device `filter` (sys:, drm:, pci:, sriov:)")
	flagSet.BoolVarP(&modes.json, "json", "J", false, "output JSON formatted data")
	flagSet.BoolVarP(&modes.stdout, "stdout", "l", false, "list plain text data")
	flagSet.BoolVarP(&modes.prometheus, "prometheus", "p", false, "print one Prometheus snapshot and exit")
	flagSet.BoolVarP(&cfg.ListDevices, "list", "L", false, "list all discovered devices and exit")
	flagSet.BoolP("help", "h", false, "show this help text")

	return flagSet, modes
}

type modeFlags struct {
	periodMS   int64
	json       bool
	stdout     bool
	prometheus bool
}

// ParseFlags overlays command line arguments on top of cfg.
func ParseFlags(args []string, cfg Config, output io.Writer) (Config, error) {
	flagSet, modes := newFlagSet("intel-gpu-top", &cfg, output)
	if err := flagSet.Parse(args); err != nil {
		return Config{}, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		return Config{}, ErrHelp
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return Config{}, fmt.Errorf("unexpected argument %q", extra[0])
	}

	if flagSet.Changed("period-ms") {
		if modes.periodMS <= 0 {
			return Config{}, errors.New("period must be > 0 ms")
		}
		cfg.SampleInterval = time.Duration(modes.periodMS) * time.Millisecond
	}

	selected := 0
	for _, on := range []bool{modes.json, modes.stdout, modes.prometheus} {
		if on {
			selected++
		}
	}
	if selected > 1 {
		return Config{}, errors.New("only one of -J, -l and -p may be given")
	}

	switch {
	case modes.json:
		cfg.Mode = ModeJSON
	case modes.stdout:
		cfg.Mode = ModeStdout
	case modes.prometheus:
		cfg.Mode = ModePrometheus
	default:
		cfg.Mode = ModeAuto
	}

	return cfg, nil
}

// ResolveMode turns ModeAuto into a concrete mode: interactive when stdout
// is a terminal and no output was requested, line output otherwise. An
// explicit "-o -" selects line output on stdout.
func ResolveMode(cfg Config, stdoutFd uintptr) Mode {
	return resolveMode(cfg, isatty.IsTerminal(stdoutFd))
}

func resolveMode(cfg Config, stdoutIsTerminal bool) Mode {
	if cfg.Mode != ModeAuto {
		return cfg.Mode
	}
	if cfg.Output == "" && stdoutIsTerminal {
		return ModeInteractive
	}
	return ModeStdout
}

// PrintUsage writes the flag summary.
func PrintUsage(w io.Writer, cfg Config, versionLine string) {
	flagSet, _ := newFlagSet("intel-gpu-top", &cfg, w)
	_, _ = fmt.Fprintf(w, `%s

A top-like tool for displaying Intel GPU usage.

Usage:
  intel-gpu-top [flags]

Flags:
%s
Interactive keys:
  1  toggle engine class aggregation
  i  toggle idle client filtering
  n  toggle numeric overlay on bars
  s  cycle client sort order
  H  toggle per-PID aggregation
  h  show help screen
  q  quit
`, versionLine, flagSet.FlagUsages())
}
