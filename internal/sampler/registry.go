package sampler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/skobkin/intelgputop/internal/engine"
	"github.com/skobkin/intelgputop/internal/gpu"
	"github.com/skobkin/intelgputop/internal/pmu"
)

// ErrCounterUnavailable is returned when the engine busy counters of the
// observed device cannot be opened.
var ErrCounterUnavailable = errors.New("engine busy counters unavailable")

const (
	busySuffix = "-busy"
	semaSuffix = "-sema"
	waitSuffix = "-wait"

	powerSource = "power"
	imcSource   = "uncore_imc"

	joules = "Joules"
	nsUnit = "ns"
)

// deviceEvent names an i915 device counter and the config used when the
// source does not publish it.
type deviceEvent struct {
	name   string
	config uint64
	scale  float64
	unit   string
}

var deviceEvents = [...]deviceEvent{
	{"actual-frequency", engine.ConfigFrequencyActual, 1, "MHz"},
	{"requested-frequency", engine.ConfigFrequencyRequested, 1, "MHz"},
	{"interrupts", engine.ConfigInterrupts, 1, "irq"},
	{"rc6-residency", engine.ConfigRC6Residency, 1e-9, nsUnit},
}

// Options configures Open.
type Options struct {
	SysfsRoot string
	Opener    pmu.Opener
	Logger    *slog.Logger
	Now       func() time.Time
}

// Open enumerates the engines of dev, opens every counter the tool renders
// and returns a sampler primed with the current time.
func Open(dev gpu.Device, opts Options) (*Sampler, error) {
	if opts.SysfsRoot == "" {
		opts.SysfsRoot = "/sys"
	}
	if opts.Opener == nil {
		opts.Opener = pmu.SyscallOpener{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Sampler{
		device: dev,
		now:    opts.Now,
		logger: opts.Logger.With("component", "sampler", "device", dev.DriverInstance),
	}

	if err := s.openEngines(opts); err != nil {
		_ = s.Close()
		return nil, err
	}
	if !dev.IsDiscrete {
		s.openEnergy(opts)
	} else {
		s.openHwmon(opts)
	}
	s.openIMC(opts)

	s.cur = s.now()
	s.prev = s.cur
	return s, nil
}

func (s *Sampler) openEngines(opts Options) error {
	src, err := pmu.OpenSource(opts.SysfsRoot, s.device.DriverInstance)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
	}
	defer src.Close()

	names, err := src.EventNames()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
	}

	var engines []*engine.Engine
	for _, name := range names {
		if !strings.HasSuffix(name, busySuffix) {
			continue
		}
		ev, err := src.Event(name)
		if err != nil {
			s.logger.Debug("skipping unreadable event", "event", name, "err", err)
			continue
		}
		class, instance, sample, ok := engine.DecodeConfig(ev.Config)
		if !ok || sample != engine.SampleBusy {
			continue
		}

		prefix := strings.TrimSuffix(name, busySuffix)
		eng := &engine.Engine{
			EventName: prefix,
			EngClass:  class,
			Instance:  instance,
			Busy:      nsCounter(src.Type, ev),
		}
		if slices.Contains(names, prefix+semaSuffix) {
			if ev, err := src.Event(prefix + semaSuffix); err == nil {
				eng.Sema = nsCounter(src.Type, ev)
			}
		}
		if slices.Contains(names, prefix+waitSuffix) {
			if ev, err := src.Event(prefix + waitSuffix); err == nil {
				eng.Wait = nsCounter(src.Type, ev)
			}
		}
		engines = append(engines, eng)
	}
	if len(engines) == 0 {
		return fmt.Errorf("%w: no engines published by %s", ErrCounterUnavailable, src.Name)
	}

	s.engines = engine.NewEngines(engines)
	group := pmu.NewGroup(src.Name, opts.Opener, src.CPU)
	s.groups = append(s.groups, group)

	for _, eng := range s.engines.All() {
		if err := group.Add(eng.Busy); err != nil {
			if errors.Is(err, pmu.ErrPermissionDenied) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
		}
		for _, c := range []*pmu.Counter{eng.Sema, eng.Wait} {
			if c == nil {
				continue
			}
			if err := group.Add(c); err != nil {
				s.logger.Info("optional counter unavailable", "counter", c.Name, "err", err)
			}
		}
	}

	for _, de := range deviceEvents {
		ev := pmu.Event{Name: de.name, Config: de.config, Scale: de.scale, Unit: de.unit}
		if slices.Contains(names, de.name) {
			if published, err := src.Event(de.name); err == nil {
				ev.Config = published.Config
			}
		}
		c := pmu.NewCounter(src.Type, ev)
		if err := group.Add(c); err != nil {
			s.logger.Info("optional counter unavailable", "counter", c.Name, "err", err)
		}
		switch de.config {
		case engine.ConfigFrequencyActual:
			s.counters.FreqActual = c
		case engine.ConfigFrequencyRequested:
			s.counters.FreqRequested = c
		case engine.ConfigInterrupts:
			s.counters.Interrupts = c
		case engine.ConfigRC6Residency:
			s.counters.RC6 = c
		}
	}
	return nil
}

// nsCounter builds a counter whose raw value is nanoseconds.
func nsCounter(typ uint32, ev pmu.Event) *pmu.Counter {
	c := pmu.NewCounter(typ, ev)
	c.Scale = 1e-9
	if c.Unit == "" {
		c.Unit = nsUnit
	}
	return c
}

// openEnergy opens the RAPL gpu and package energy counters, each in its
// own group.
func (s *Sampler) openEnergy(opts Options) {
	s.counters.EnergyGPU = s.openEnergyCounter(opts, "energy-gpu")
	s.counters.EnergyPkg = s.openEnergyCounter(opts, "energy-pkg")
}

func (s *Sampler) openHwmon(opts Options) {
	devicePath := s.device.SysfsPath
	if devicePath == "" {
		devicePath = filepath.Join(opts.SysfsRoot, drmClassPath, s.device.ID, "device")
	}
	s.hwmon = newHwmonEnergy(devicePath)
	if s.hwmon == nil {
		s.logger.Info("optional counter unavailable", "counter", "hwmon-"+hwmonEnergyFile)
		return
	}
	s.counters.EnergyGPU = s.hwmon.counter
}

// openIMC opens memory controller reads and writes in one group.
func (s *Sampler) openIMC(opts Options) {
	src, err := pmu.OpenSource(opts.SysfsRoot, imcSource)
	if err != nil {
		s.logger.Info("optional counter unavailable", "counter", imcSource, "err", err)
		return
	}
	defer src.Close()

	group := pmu.NewGroup(imcSource, opts.Opener, src.CPU)
	for _, name := range []string{"data_reads", "data_writes"} {
		ev, err := src.Event(name)
		if err != nil {
			s.logger.Info("optional counter unavailable", "counter", name, "err", err)
			continue
		}
		c := pmu.NewCounter(src.Type, ev)
		if err := group.Add(c); err != nil {
			s.logger.Info("optional counter unavailable", "counter", name, "err", err)
		}
		if name == "data_reads" {
			s.counters.IMCReads = c
		} else {
			s.counters.IMCWrites = c
		}
	}
	s.groups = append(s.groups, group)
}

func (s *Sampler) openEnergyCounter(opts Options, name string) *pmu.Counter {
	src, err := pmu.OpenSource(opts.SysfsRoot, powerSource)
	if err != nil {
		s.logger.Info("optional counter unavailable", "counter", name, "err", err)
		return nil
	}
	defer src.Close()

	ev, err := src.Event(name)
	if err != nil {
		s.logger.Info("optional counter unavailable", "counter", name, "err", err)
		return nil
	}
	c := pmu.NewCounter(src.Type, ev)
	if ev.Unit != joules {
		s.logger.Info("optional counter unavailable", "counter", name, "unit", ev.Unit)
		return c
	}

	group := pmu.NewGroup(powerSource+"/"+name, opts.Opener, src.CPU)
	if err := group.Add(c); err != nil {
		s.logger.Info("optional counter unavailable", "counter", name, "err", err)
		return c
	}
	s.groups = append(s.groups, group)
	return c
}
