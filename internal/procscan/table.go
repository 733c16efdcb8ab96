package procscan

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/skobkin/intelgputop/internal/engine"
)

// SortKey selects the ordering of the displayed client list.
type SortKey int

const (
	SortLastRuntime SortKey = iota
	SortTotalRuntime
	SortPID
	SortClientID
	numSortKeys
)

func (k SortKey) String() string {
	switch k {
	case SortTotalRuntime:
		return "total runtime"
	case SortPID:
		return "pid"
	case SortClientID:
		return "client id"
	default:
		return "runtime"
	}
}

// Next cycles to the following sort key. Client id ordering is skipped
// while clients are aggregated by pid.
func (k SortKey) Next(aggregatePIDs bool) SortKey {
	next := (k + 1) % numSortKeys
	if aggregatePIDs && next == SortClientID {
		next = (next + 1) % numSortKeys
	}
	return next
}

// Options configures NewTable.
type Options struct {
	ProcRoot string
	BusSlot  string
	Logger   *slog.Logger
	// IsDRMDevice reports whether an fd path is a DRM character device.
	IsDRMDevice func(path string) bool
}

// Table tracks the DRM clients of one device across scans. Alive entries
// always precede Free ones.
type Table struct {
	busSlot string
	clients []Client
	src     source
	logger  *slog.Logger
}

// NewTable builds a client table that scans ProcRoot for clients of BusSlot.
func NewTable(opts Options) (*Table, error) {
	if opts.ProcRoot == "" {
		opts.ProcRoot = "/proc"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger := opts.Logger.With("component", "procscan")
	coll, err := newCollector(opts.ProcRoot, opts.IsDRMDevice, logger)
	if err != nil {
		return nil, fmt.Errorf("init collector: %w", err)
	}
	return newTable(opts.BusSlot, coll, logger), nil
}

func newTable(busSlot string, src source, logger *slog.Logger) *Table {
	return &Table{busSlot: busSlot, src: src, logger: logger}
}

// Scan refreshes the table from the process list. When the process list
// cannot be read every client is released, since none was observed.
func (t *Table) Scan() error {
	observations, err := t.src.collect(t.busSlot)

	for i := range t.clients {
		if t.clients[i].Status == Free {
			break
		}
		t.clients[i].Status = Probe
	}

	for _, obs := range observations {
		id := ClientID{Kind: KindClient, Value: obs.record.ClientID}
		if t.find(Alive, id) >= 0 {
			// Another fd of the same client was already counted this scan.
			continue
		}
		if i := t.find(Probe, id); i >= 0 {
			t.update(&t.clients[i], obs)
			continue
		}
		t.add(id, obs)
	}

	for i := range t.clients {
		if t.clients[i].Status == Probe {
			t.clients[i] = Client{}
		}
	}
	t.compact()
	if err != nil {
		return fmt.Errorf("scan clients: %w", err)
	}
	return nil
}

// find returns the index of the client with id and status, or -1. The
// search stops at the first Free slot.
func (t *Table) find(status Status, id ClientID) int {
	for i := range t.clients {
		c := &t.clients[i]
		if c.Status == Free {
			break
		}
		if c.Status == status && c.ID == id {
			return i
		}
	}
	return -1
}

func (t *Table) add(id ClientID, obs observation) {
	slot := -1
	for i := range t.clients {
		if t.clients[i].Status == Free {
			slot = i
			break
		}
	}
	if slot < 0 {
		slot = len(t.clients)
		grow := max(len(t.clients)/2, 4)
		t.clients = append(t.clients, make([]Client, grow)...)
	}

	t.clients[slot] = Client{ID: id, Status: Alive, PID: obs.pid}
	t.update(&t.clients[slot], obs)
}

// update applies a new observation. A class whose counter went backwards
// keeps its old baseline, reports no delta this tick and is left out of the
// total runtime.
func (t *Table) update(c *Client, obs observation) {
	name := truncateName(obs.comm)
	if c.Name != name || c.PrintName == "" {
		c.Name = name
		c.PrintName = printableName(name)
	}
	c.PID = obs.pid
	c.Status = Alive

	c.LastRuntime = 0
	c.TotalRuntime = 0
	for class := range engine.NumClasses {
		busy := obs.record.Busy[class]
		c.Runtime[class] = busy
		if busy < c.LastSample[class] {
			c.Delta[class] = 0
			t.logger.Debug("client counter went backwards", "client", c.ID, "class", engine.Class(class), "busy", busy)
			continue
		}
		c.Delta[class] = busy - c.LastSample[class]
		c.LastSample[class] = busy
		c.TotalRuntime += busy
		c.LastRuntime += c.Delta[class]
	}
	if c.Samples < 2 {
		c.Samples++
	}
}

// compact moves Alive entries in front of Free ones, keeping their order.
func (t *Table) compact() {
	slices.SortStableFunc(t.clients, func(a, b Client) int {
		return cmp.Compare(deadRank(a), deadRank(b))
	})
}

func deadRank(c Client) int {
	if c.Status == Free {
		return 1
	}
	return 0
}

// Len returns the number of slots, Free ones included.
func (t *Table) Len() int { return len(t.clients) }

// Clients returns the Alive clients in table order. The slice is shared
// with the table until the next Scan.
func (t *Table) Clients() []Client {
	n := 0
	for n < len(t.clients) && t.clients[n].Status != Free {
		n++
	}
	return t.clients[:n]
}

// Slots exposes the whole backing table, Free slots included.
func (t *Table) Slots() []Client { return t.clients }

// DisplayOptions controls Display.
type DisplayOptions struct {
	Sort          SortKey
	AggregatePIDs bool
	FilterIdle    bool
}

// Display returns a sorted copy of the live clients, optionally folded by
// pid and with idle clients removed.
func (t *Table) Display(opts DisplayOptions) []Client {
	list := slices.Clone(t.Clients())
	if opts.AggregatePIDs {
		list = AggregateByPID(list)
	}
	SortClients(list, opts.Sort)
	if opts.FilterIdle {
		list = slices.DeleteFunc(list, func(c Client) bool { return c.Idle() })
	}
	return list
}

// AggregateByPID folds clients sharing a pid into one row with a pid id.
func AggregateByPID(list []Client) []Client {
	sorted := slices.Clone(list)
	slices.SortStableFunc(sorted, func(a, b Client) int { return cmp.Compare(a.PID, b.PID) })

	var out []Client
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].PID == c.PID {
			agg := &out[n-1]
			for class := range engine.NumClasses {
				agg.Runtime[class] += c.Runtime[class]
				agg.LastSample[class] += c.LastSample[class]
				agg.Delta[class] += c.Delta[class]
			}
			agg.TotalRuntime += c.TotalRuntime
			agg.LastRuntime += c.LastRuntime
			agg.Samples = max(agg.Samples, c.Samples)
			continue
		}
		c.ID = ClientID{Kind: KindPID, Value: uint64(c.PID)}
		out = append(out, c)
	}
	return out
}

// SortClients orders list by key. Dead clients go last and ties are broken
// by descending id.
func SortClients(list []Client, key SortKey) {
	slices.SortStableFunc(list, func(a, b Client) int {
		if c := cmp.Compare(deadRank(a), deadRank(b)); c != 0 {
			return c
		}
		var c int
		switch key {
		case SortLastRuntime:
			c = cmp.Compare(b.LastRuntime, a.LastRuntime)
		case SortTotalRuntime:
			c = cmp.Compare(b.TotalRuntime, a.TotalRuntime)
		case SortPID:
			c = cmp.Compare(a.PID, b.PID)
		}
		if c != 0 {
			return c
		}
		return b.ID.Compare(a.ID)
	})
}
