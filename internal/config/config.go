package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects the output style of the tool.
type Mode int

const (
	// ModeAuto resolves to ModeInteractive or ModeStdout depending on the sink.
	ModeAuto Mode = iota
	ModeInteractive
	ModeStdout
	ModeJSON
	ModePrometheus
)

func (m Mode) String() string {
	switch m {
	case ModeInteractive:
		return "interactive"
	case ModeStdout:
		return "stdout"
	case ModeJSON:
		return "json"
	case ModePrometheus:
		return "prometheus"
	default:
		return "auto"
	}
}

// Config represents runtime configuration sourced from environment variables
// and command line flags.
type Config struct {
	SampleInterval time.Duration
	DeviceFilter   string
	LogLevel       slog.Level
	SysfsRoot      string
	ProcRoot       string
	HeaderEvery    int

	Output      string
	Mode        Mode
	ListDevices bool
}

// OutputToStdout reports whether the frames go to the process stdout.
func (c Config) OutputToStdout() bool {
	return c.Output == "" || c.Output == "-"
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		SampleInterval: time.Second,
		LogLevel:       slog.LevelWarn,
		SysfsRoot:      "/sys",
		ProcRoot:       "/proc",
		HeaderEvery:    20,
	}

	if value := strings.TrimSpace(os.Getenv("APP_SAMPLE_INTERVAL")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SAMPLE_INTERVAL: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_SAMPLE_INTERVAL must be > 0")
		}
		cfg.SampleInterval = duration
	}

	if value := strings.TrimSpace(os.Getenv("APP_DEFAULT_GPU")); value != "" {
		cfg.DeviceFilter = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("APP_SYSFS_ROOT")); value != "" {
		cfg.SysfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_PROC_ROOT")); value != "" {
		cfg.ProcRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_HEADER_EVERY")); value != "" {
		every, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_HEADER_EVERY: %w", err)
		}
		if every <= 0 {
			return Config{}, fmt.Errorf("APP_HEADER_EVERY must be > 0")
		}
		cfg.HeaderEvery = every
	}

	return cfg, nil
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
