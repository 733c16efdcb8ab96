// Package render turns one tick of counter rates and client usage into the
// interactive, line, JSON and Prometheus outputs.
package render

import (
	"time"

	"github.com/skobkin/intelgputop/internal/engine"
	"github.com/skobkin/intelgputop/internal/gpu"
	"github.com/skobkin/intelgputop/internal/pmu"
	"github.com/skobkin/intelgputop/internal/procscan"
	"github.com/skobkin/intelgputop/internal/sampler"
)

// Metric is one rendered value. Absent counters have OK unset and are
// omitted or dashed out by every renderer.
type Metric struct {
	Value float64
	OK    bool
}

// Source is the part of the sampler a frame is built from.
type Source interface {
	Device() gpu.Device
	Counters() sampler.DeviceCounters
	Engines() *engine.Engines
	Elapsed() time.Duration
	Rate(c *pmu.Counter, scaleOut float64) (float64, bool)
	Clamped() uint64
}

// EngineRow is one line of the engine block.
type EngineRow struct {
	Name  string
	Short string
	Class engine.Class
	Busy  Metric
	Sema  Metric
	Wait  Metric
}

// ClientRow is one client with its per-class share of the device.
type ClientRow struct {
	ID   procscan.ClientID
	PID  int
	Name string
	// Busy is indexed by class; only classes the device has are set and
	// nothing is set before the client has two samples.
	Busy [engine.NumClasses]Metric
}

// Frame is everything a renderer needs for one tick. Rates are computed
// once when the frame is built.
type Frame struct {
	Device gpu.Device
	Period time.Duration

	FreqActual    Metric
	FreqRequested Metric
	Interrupts    Metric
	RC6           Metric
	PowerGPU      Metric
	PowerPkg      Metric
	IMCReads      Metric
	IMCWrites     Metric
	IMCUnit       string

	Classes []engine.ClassInfo
	Engines []EngineRow
	Clients []ClientRow

	Clamped uint64
}

// BuildFrame computes every rate of the last tick. rows is the engine view
// to render and clients the already sorted and filtered client list.
func BuildFrame(src Source, rows []engine.Row, clients []procscan.Client) Frame {
	counters := src.Counters()
	rate := func(c *pmu.Counter, scaleOut float64) Metric {
		v, ok := src.Rate(c, scaleOut)
		return Metric{Value: v, OK: ok}
	}

	f := Frame{
		Device:        src.Device(),
		Period:        src.Elapsed(),
		FreqActual:    rate(counters.FreqActual, 1),
		FreqRequested: rate(counters.FreqRequested, 1),
		Interrupts:    rate(counters.Interrupts, 1),
		RC6:           rate(counters.RC6, sampler.Percent),
		PowerGPU:      rate(counters.EnergyGPU, 1),
		PowerPkg:      rate(counters.EnergyPkg, 1),
		IMCReads:      rate(counters.IMCReads, 1),
		IMCWrites:     rate(counters.IMCWrites, 1),
		IMCUnit:       imcUnit(counters),
	}

	if engines := src.Engines(); engines != nil {
		f.Classes = engines.Classes()
	}

	f.Engines = make([]EngineRow, 0, len(rows))
	for _, row := range rows {
		busy, sema, wait := row.Counters()
		f.Engines = append(f.Engines, EngineRow{
			Name:  row.Name(),
			Short: row.Short(),
			Class: row.Class(),
			Busy:  rate(busy, sampler.Percent),
			Sema:  rate(sema, sampler.Percent),
			Wait:  rate(wait, sampler.Percent),
		})
	}

	f.Clients = make([]ClientRow, 0, len(clients))
	for i := range clients {
		c := &clients[i]
		row := ClientRow{ID: c.ID, PID: c.PID, Name: c.PrintName}
		if c.Samples >= 2 {
			for _, info := range f.Classes {
				if int(info.Class) >= engine.NumClasses {
					continue
				}
				row.Busy[info.Class] = Metric{
					Value: c.ClassPercent(info.Class, f.Period, info.NumEngines),
					OK:    true,
				}
			}
		}
		f.Clients = append(f.Clients, row)
	}

	// Read last so overshoots clamped above are included.
	f.Clamped = src.Clamped()
	return f
}

func imcUnit(counters sampler.DeviceCounters) string {
	for _, c := range []*pmu.Counter{counters.IMCReads, counters.IMCWrites} {
		if c != nil && c.Present && c.Unit != "" {
			return c.Unit + "/s"
		}
	}
	return "MiB/s"
}

func (f Frame) hasPower() bool { return f.PowerGPU.OK || f.PowerPkg.OK }

func (f Frame) hasIMC() bool { return f.IMCReads.OK || f.IMCWrites.OK }
