// Command pmu-probe reports which GPUs and perf counters are visible on the
// host, and optionally takes one raw sample of every counter.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/skobkin/intelgputop/internal/gpu"
	"github.com/skobkin/intelgputop/internal/pmu"
	"github.com/skobkin/intelgputop/internal/sampler"
)

type options struct {
	sysfsRoot  string
	device     string
	sample     bool
	events     bool
	jsonOutput bool
	wait       time.Duration
}

type counterDump struct {
	Name    string  `json:"name"`
	Type    uint32  `json:"type"`
	Config  string  `json:"config"`
	Scale   float64 `json:"scale"`
	Unit    string  `json:"unit,omitempty"`
	Slot    int     `json:"slot"`
	Present bool    `json:"present"`
	Prev    uint64  `json:"prev"`
	Cur     uint64  `json:"cur"`
}

type groupDump struct {
	Name        string        `json:"name"`
	TimeEnabled uint64        `json:"time_enabled"`
	Counters    []counterDump `json:"counters"`
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.sysfsRoot, "sysfs", envOrDefault("APP_SYSFS_ROOT", "/sys"), "Path to sysfs root")
	flag.StringVarP(&opts.device, "device", "d", os.Getenv("APP_DEFAULT_GPU"), "Device filter of the GPU to sample")
	flag.BoolVar(&opts.sample, "sample", false, "Open the counters of the selected GPU and dump two raw samples")
	flag.BoolVar(&opts.events, "events", false, "List the events exported by the selected GPU's PMU")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit discovery result as JSON")
	flag.DurationVar(&opts.wait, "wait", time.Second, "Delay between the two raw samples")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	infos, err := gpu.Discover(opts.sysfsRoot, logger.With("component", "gpu_discovery"))
	if err != nil {
		logger.Error("gpu discovery failed", "err", err)
		os.Exit(1)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			logger.Error("encode discovery output", "err", err)
			os.Exit(1)
		}
	} else {
		if len(infos) == 0 {
			fmt.Println("No GPUs detected")
		} else {
			fmt.Println("Discovered GPUs:")
		}
		for _, info := range infos {
			fmt.Printf("- %s (PCI: %s, PCIID: %s, Render: %s, Name: %s, Filter: %s)\n",
				info.ID, info.PCI, info.PCIID, info.RenderNode, info.Name, info.FilterString())
		}
	}

	if !opts.sample && !opts.events {
		return
	}

	dev, err := gpu.Resolve(infos, opts.device)
	if err != nil {
		logger.Error("select device", "err", err)
		os.Exit(1)
	}

	if opts.events {
		if err := listEvents(opts.sysfsRoot, dev); err != nil {
			logger.Error("list events", "pmu", dev.DriverInstance, "err", err)
			os.Exit(1)
		}
	}

	if opts.sample {
		if err := sampleOnce(opts, dev, logger); err != nil {
			logger.Error("sample counters", "card", dev.ID, "err", err)
			os.Exit(1)
		}
	}
}

func listEvents(sysfsRoot string, dev gpu.Device) error {
	src, err := pmu.OpenSource(sysfsRoot, dev.DriverInstance)
	if err != nil {
		return err
	}
	defer src.Close()

	names, err := src.EventNames()
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("PMU %s (type %d, cpu %d):\n", src.Name, src.Type, src.CPU)
	for _, name := range names {
		ev, err := src.Event(name)
		if err != nil {
			fmt.Printf("  %-32s %v\n", name, err)
			continue
		}
		fmt.Printf("  %-32s config=%#x scale=%g unit=%s\n", name, ev.Config, ev.Scale, ev.Unit)
	}
	return nil
}

func sampleOnce(opts options, dev gpu.Device, logger *slog.Logger) error {
	s, err := sampler.Open(dev, sampler.Options{
		SysfsRoot: opts.sysfsRoot,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Sample(); err != nil {
		return err
	}
	time.Sleep(opts.wait)
	if err := s.Sample(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Collecting samples at %s over %s\n", time.Now().UTC().Format(time.RFC3339), s.Elapsed())
	fmt.Println(strings.Repeat("-", 60))

	groups := s.Groups()
	dump := make([]groupDump, 0, len(groups))
	for _, g := range groups {
		gd := groupDump{Name: g.Name, TimeEnabled: g.TimeEnabled}
		for _, c := range g.Counters() {
			gd.Counters = append(gd.Counters, counterDump{
				Name:    c.Name,
				Type:    c.Type,
				Config:  fmt.Sprintf("%#x", c.Config),
				Scale:   c.Scale,
				Unit:    c.Unit,
				Slot:    c.Slot,
				Present: c.Present,
				Prev:    c.Value.Prev,
				Cur:     c.Value.Cur,
			})
		}
		dump = append(dump, gd)
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	fmt.Printf("GPU %s sample:\n%s\n", dev.ID, string(data))
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
