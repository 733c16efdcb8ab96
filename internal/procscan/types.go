package procscan

import (
	"cmp"
	"strconv"
	"time"

	"github.com/skobkin/intelgputop/internal/engine"
)

// maxNameLen bounds stored process names in bytes.
const maxNameLen = 23

// Status is the lifecycle state of a client slot.
type Status uint8

const (
	Free Status = iota
	Alive
	Probe
)

func (s Status) String() string {
	switch s {
	case Alive:
		return "alive"
	case Probe:
		return "probe"
	default:
		return "free"
	}
}

// IDKind tells driver client ids apart from synthetic per-process ids.
type IDKind uint8

const (
	KindClient IDKind = iota
	KindPID
)

// ClientID identifies a row of the client table.
type ClientID struct {
	Kind  IDKind
	Value uint64
}

func (id ClientID) String() string {
	if id.Kind == KindPID {
		return "pid:" + strconv.FormatUint(id.Value, 10)
	}
	return strconv.FormatUint(id.Value, 10)
}

// Compare orders ids by kind, then value.
func (id ClientID) Compare(other ClientID) int {
	if c := cmp.Compare(id.Kind, other.Kind); c != 0 {
		return c
	}
	return cmp.Compare(id.Value, other.Value)
}

// Client is one DRM client of the observed device.
type Client struct {
	ID        ClientID
	Status    Status
	PID       int
	Name      string
	PrintName string

	// Runtime is the latest raw per-class busy time reported by the driver.
	Runtime [engine.NumClasses]uint64
	// LastSample is the baseline deltas are taken against.
	LastSample [engine.NumClasses]uint64
	Delta      [engine.NumClasses]uint64

	TotalRuntime uint64
	LastRuntime  uint64
	Samples      uint8
}

// ClassPercent is the share of class capacity the client used over elapsed.
func (c *Client) ClassPercent(class engine.Class, elapsed time.Duration, numEngines int) float64 {
	if elapsed <= 0 || numEngines <= 0 || int(class) >= engine.NumClasses {
		return 0
	}
	return float64(c.Delta[class]) / float64(elapsed.Nanoseconds()) * 100 / float64(numEngines)
}

// Idle reports whether the client did nothing measurable last tick.
func (c *Client) Idle() bool {
	return c.LastRuntime == 0 || c.Samples < 2
}

// printableName replaces non-printable bytes with '*'.
func printableName(name string) string {
	buf := []byte(name)
	for i, b := range buf {
		if b < 0x20 || b >= 0x7f {
			buf[i] = '*'
		}
	}
	return string(buf)
}

func truncateName(name string) string {
	if len(name) > maxNameLen {
		return name[:maxNameLen]
	}
	return name
}
