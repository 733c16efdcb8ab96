package engine

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/skobkin/intelgputop/internal/pmu"
)

// Row is what renderers need from an engine, physical or per-class.
type Row interface {
	Name() string
	Short() string
	Class() Class
	Counters() (busy, sema, wait *pmu.Counter)
}

// Engine is one physical engine with its busy, sema and wait counters.
// Sema and Wait may be nil or absent.
type Engine struct {
	EventName string
	EngClass  Class
	Instance  uint16

	Busy *pmu.Counter
	Sema *pmu.Counter
	Wait *pmu.Counter
}

func (e *Engine) Name() string  { return fmt.Sprintf("%s/%d", e.EngClass.Name(), e.Instance) }
func (e *Engine) Short() string { return fmt.Sprintf("%s/%d", e.EngClass.Short(), e.Instance) }
func (e *Engine) Class() Class  { return e.EngClass }

func (e *Engine) Counters() (busy, sema, wait *pmu.Counter) {
	return e.Busy, e.Sema, e.Wait
}

// NumCountersOpen counts the present counters of the engine.
func (e *Engine) NumCountersOpen() int {
	n := 0
	for _, c := range []*pmu.Counter{e.Busy, e.Sema, e.Wait} {
		if c != nil && c.Present {
			n++
		}
	}
	return n
}

// ClassInfo summarises one class bucket.
type ClassInfo struct {
	Class      Class
	Name       string
	NumEngines int
}

// Engines is the owned, sorted engine table of a device.
type Engines struct {
	list    []*Engine
	classes []ClassInfo
}

// NewEngines sorts engines by class then instance.
func NewEngines(list []*Engine) *Engines {
	sorted := slices.Clone(list)
	slices.SortFunc(sorted, func(a, b *Engine) int {
		if c := cmp.Compare(a.EngClass, b.EngClass); c != 0 {
			return c
		}
		return cmp.Compare(a.Instance, b.Instance)
	})

	var classes []ClassInfo
	for _, e := range sorted {
		if n := len(classes); n > 0 && classes[n-1].Class == e.EngClass {
			classes[n-1].NumEngines++
			continue
		}
		classes = append(classes, ClassInfo{Class: e.EngClass, Name: e.EngClass.Name(), NumEngines: 1})
	}

	return &Engines{list: sorted, classes: classes}
}

// All returns the physical engines in sort order.
func (e *Engines) All() []*Engine { return e.list }

// Len reports the number of physical engines.
func (e *Engines) Len() int { return len(e.list) }

// Classes returns the classes that have at least one engine.
func (e *Engines) Classes() []ClassInfo { return e.classes }

// ClassCount returns the number of engines of class c.
func (e *Engines) ClassCount(c Class) int {
	for _, info := range e.classes {
		if info.Class == c {
			return info.NumEngines
		}
	}
	return 0
}

// View returns the rows to render: physical engines, or one synthetic
// engine per class when perClass is set.
func (e *Engines) View(perClass bool) []Row {
	if !perClass {
		rows := make([]Row, 0, len(e.list))
		for _, eng := range e.list {
			rows = append(rows, eng)
		}
		return rows
	}

	rows := make([]Row, 0, len(e.classes))
	start := 0
	for _, info := range e.classes {
		members := e.list[start : start+info.NumEngines]
		start += info.NumEngines
		rows = append(rows, newClassEngine(info, members))
	}
	return rows
}

// classEngine is the per-class mean of its member engines.
type classEngine struct {
	info ClassInfo
	busy pmu.Counter
	sema pmu.Counter
	wait pmu.Counter
}

func newClassEngine(info ClassInfo, members []*Engine) *classEngine {
	ce := &classEngine{info: info}
	ce.busy = meanCounter(members, func(e *Engine) *pmu.Counter { return e.Busy })
	ce.sema = meanCounter(members, func(e *Engine) *pmu.Counter { return e.Sema })
	ce.wait = meanCounter(members, func(e *Engine) *pmu.Counter { return e.Wait })
	return ce
}

func (c *classEngine) Name() string  { return c.info.Name }
func (c *classEngine) Short() string { return c.info.Class.Short() }
func (c *classEngine) Class() Class  { return c.info.Class }

func (c *classEngine) Counters() (busy, sema, wait *pmu.Counter) {
	return &c.busy, &c.sema, &c.wait
}

// meanCounter averages prev and delta over the class size.
func meanCounter(members []*Engine, pick func(*Engine) *pmu.Counter) pmu.Counter {
	var (
		out             pmu.Counter
		sumPrev, sumDel uint64
	)
	for _, e := range members {
		c := pick(e)
		if c == nil || !c.Present {
			continue
		}
		if !out.Present {
			out.Name = c.Name
			out.Scale = c.Scale
			out.Unit = c.Unit
			out.Present = true
		}
		sumPrev += c.Value.Prev
		sumDel += c.Delta()
	}
	if !out.Present {
		return out
	}

	n := uint64(len(members))
	out.Slot = -1
	out.Value.Prev = sumPrev / n
	out.Value.Cur = out.Value.Prev + sumDel/n
	return out
}
