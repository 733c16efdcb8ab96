// Package sampler owns the perf counters of the observed device and turns
// their raw readings into rates.
package sampler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/intelgputop/internal/engine"
	"github.com/skobkin/intelgputop/internal/gpu"
	"github.com/skobkin/intelgputop/internal/pmu"
)

// Percent is the scale-out that turns a ratio into a percentage.
const Percent = 100

// DeviceCounters are the per-device counters. Any of them may be nil or
// absent.
type DeviceCounters struct {
	FreqActual    *pmu.Counter
	FreqRequested *pmu.Counter
	Interrupts    *pmu.Counter
	RC6           *pmu.Counter
	EnergyGPU     *pmu.Counter
	EnergyPkg     *pmu.Counter
	IMCReads      *pmu.Counter
	IMCWrites     *pmu.Counter
}

// Sampler reads the counter groups of a device once per tick and computes
// rates over the last tick. It is not safe for concurrent use.
type Sampler struct {
	device   gpu.Device
	engines  *engine.Engines
	counters DeviceCounters
	groups   []*pmu.Group
	hwmon    *hwmonEnergy

	now       func() time.Time
	prev, cur time.Time
	clamped   uint64
	logger    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Device returns the observed device.
func (s *Sampler) Device() gpu.Device { return s.device }

// Engines returns the engine table.
func (s *Sampler) Engines() *engine.Engines { return s.engines }

// Counters returns the device level counters.
func (s *Sampler) Counters() DeviceCounters { return s.counters }

// Groups returns the open counter groups in open order.
func (s *Sampler) Groups() []*pmu.Group { return s.groups }

// Sample performs one grouped read per group and advances the tick
// timestamps. A failed group leaves its counters at their previous value.
func (s *Sampler) Sample() error {
	var errs []error
	for _, group := range s.groups {
		if err := group.Sample(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.hwmon != nil {
		if err := s.hwmon.sample(); err != nil {
			errs = append(errs, fmt.Errorf("read hwmon energy: %w", err))
		}
	}

	s.prev = s.cur
	s.cur = s.now()
	return errors.Join(errs...)
}

// Elapsed is the duration of the last tick.
func (s *Sampler) Elapsed() time.Duration {
	return s.cur.Sub(s.prev)
}

// Rate returns delta*scale*scaleOut per second of the last tick. ok is
// false for absent counters. Percentages (scaleOut == Percent) are clamped
// to 100 and every clamp is counted.
func (s *Sampler) Rate(c *pmu.Counter, scaleOut float64) (value float64, ok bool) {
	if c == nil || !c.Present {
		return 0, false
	}
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0, true
	}

	value = float64(c.Delta()) * c.Scale * scaleOut / elapsed
	if scaleOut == Percent && value > 100 {
		s.clamped++
		s.logger.Debug("clamped percentage", "counter", c.Name, "value", value)
		value = 100
	}
	return value, true
}

// Clamped reports how many percentages were clamped since start.
func (s *Sampler) Clamped() uint64 { return s.clamped }

// Close releases every counter descriptor. Safe for repeated use.
func (s *Sampler) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, group := range s.groups {
			if err := group.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close group %s: %w", group.Name, err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
