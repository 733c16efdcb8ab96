package pmu

// Pair holds the two most recent raw readings of a counter.
type Pair struct {
	Prev uint64
	Cur  uint64
}

// Update shifts the current reading into Prev.
func (p *Pair) Update(value uint64) {
	p.Prev = p.Cur
	p.Cur = value
}

// Delta returns Cur-Prev, or 0 when the counter went backwards.
func (p Pair) Delta() uint64 {
	if p.Cur < p.Prev {
		return 0
	}
	return p.Cur - p.Prev
}

// Counter is one kernel counter together with the metadata needed to turn
// its raw delta into a physical quantity.
type Counter struct {
	Name    string
	Type    uint32
	Config  uint64
	Scale   float64
	Unit    string
	Slot    int
	Present bool
	Value   Pair
}

// NewCounter builds an absent counter from event metadata.
func NewCounter(typ uint32, ev Event) *Counter {
	return &Counter{
		Name:   ev.Name,
		Type:   typ,
		Config: ev.Config,
		Scale:  ev.Scale,
		Unit:   ev.Unit,
		Slot:   -1,
	}
}

// Update records a new raw reading if the counter is present.
func (c *Counter) Update(value uint64) {
	if c == nil || !c.Present {
		return
	}
	c.Value.Update(value)
}

// Delta returns the raw delta of the last tick, 0 for absent counters.
func (c *Counter) Delta() uint64 {
	if c == nil || !c.Present {
		return 0
	}
	return c.Value.Delta()
}
